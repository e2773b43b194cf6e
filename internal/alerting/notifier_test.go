package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cratio-alerts/internal/monitor"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testNote() monitor.Notification {
	return monitor.Notification{
		Account: "0xabc",
		Kind:    monitor.EventCriticalWarning,
		Ratio:   decimal.NewFromFloat(1.3),
		Text: monitor.RenderedText{
			Subject: "🚨 Critical Collateral-ratio",
			Body:    "🚨 Warning! Your current collateral-ratio is 130.00%.",
		},
		At: time.Now().UTC(),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, testLogger())
	rcpt := Recipient{Account: "0xabc", TelegramChatID: "12345"}

	if err := notifier.Notify(context.Background(), rcpt, testNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}
	if received["chat_id"] != "12345" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if received["text"] == "" {
		t.Fatal("text must not be empty")
	}
}

func TestTelegramNotifierAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, testLogger())
	rcpt := Recipient{Account: "0xabc", TelegramChatID: "12345"}

	if err := notifier.Notify(context.Background(), rcpt, testNote()); err == nil {
		t.Fatal("ok=false should error")
	}
}

func TestTelegramNotifierNoAddress(t *testing.T) {
	notifier := NewTelegramNotifier("token", "http://unused", time.Second, testLogger())
	err := notifier.Notify(context.Background(), Recipient{Account: "0xabc"}, testNote())
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("missing chat id should return ErrNoAddress, got %v", err)
	}
}

func TestSMSNotifierSuccess(t *testing.T) {
	var to, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/2010-04-01/Accounts/sid/Messages.json") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "sid" || pass != "secret" {
			t.Fatal("request must carry basic auth credentials")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		to = r.PostFormValue("To")
		body = r.PostFormValue("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	notifier := NewSMSNotifier(SMSOptions{
		AccountSID: "sid",
		AuthToken:  "secret",
		Sender:     "+15550001111",
		BaseURL:    srv.URL,
		Timeout:    time.Second,
	}, testLogger())

	rcpt := Recipient{Account: "0xabc", Phone: "+15552223333"}
	if err := notifier.Notify(context.Background(), rcpt, testNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}
	if to != "+15552223333" || body == "" {
		t.Fatalf("unexpected form values: to=%q body=%q", to, body)
	}
}

func TestSMSNotifierNoAddress(t *testing.T) {
	notifier := NewSMSNotifier(SMSOptions{AccountSID: "sid", AuthToken: "secret", Sender: "x"}, testLogger())
	err := notifier.Notify(context.Background(), Recipient{Account: "0xabc"}, testNote())
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("missing phone should return ErrNoAddress, got %v", err)
	}
}

func TestEmailNotifierSuccess(t *testing.T) {
	var payload struct {
		Personalizations []struct {
			To []map[string]string `json:"to"`
		} `json:"personalizations"`
		Subject string `json:"subject"`
		Content []map[string]string `json:"content"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatal("request must carry the bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := NewEmailNotifier(EmailOptions{
		APIKey:  "key",
		Sender:  "alerts@example.com",
		BaseURL: srv.URL,
		Timeout: time.Second,
	}, testLogger())

	rcpt := Recipient{Account: "0xabc", Email: "user@example.com"}
	if err := notifier.Notify(context.Background(), rcpt, testNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}
	if payload.Subject != "🚨 Critical Collateral-ratio" {
		t.Fatalf("email must carry the rendered subject, got %q", payload.Subject)
	}
	if len(payload.Personalizations) != 1 || payload.Personalizations[0].To[0]["email"] != "user@example.com" {
		t.Fatalf("unexpected recipients: %+v", payload.Personalizations)
	}
}

func TestEmailNotifierNoAddress(t *testing.T) {
	notifier := NewEmailNotifier(EmailOptions{APIKey: "key", Sender: "x"}, testLogger())
	err := notifier.Notify(context.Background(), Recipient{Account: "0xabc"}, testNote())
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("missing email should return ErrNoAddress, got %v", err)
	}
}

func TestThreadNotifierSuccess(t *testing.T) {
	var path, content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		content = payload["content"]
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	notifier := NewThreadNotifier(ThreadOptions{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	rcpt := Recipient{Account: "0xabc"}

	if err := notifier.Notify(context.Background(), rcpt, testNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}
	if path != "/v1/threads/0xabc/messages" {
		t.Fatalf("unexpected path %s", path)
	}
	if content == "" {
		t.Fatal("content must not be empty")
	}
}

func TestThreadNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := NewThreadNotifier(ThreadOptions{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	if err := notifier.Notify(context.Background(), Recipient{Account: "0xabc"}, testNote()); err == nil {
		t.Fatal("HTTP 500 should error")
	}
}
