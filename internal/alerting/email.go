package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cratio-alerts/internal/monitor"
)

// EmailNotifier sends mail through the SendGrid v3 API. It is the only
// channel that uses the rendered subject line.
type EmailNotifier struct {
	apiKey  string
	sender  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// EmailOptions parameterise the SendGrid channel.
type EmailOptions struct {
	APIKey  string
	Sender  string
	BaseURL string
	Timeout time.Duration
}

// NewEmailNotifier constructs a SendGrid-backed email channel.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}

	return &EmailNotifier{
		apiKey:  opts.APIKey,
		sender:  opts.Sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_email").Logger(),
	}
}

func (n *EmailNotifier) Name() string { return "email" }

// Notify posts a v3 mail/send request.
func (n *EmailNotifier) Notify(ctx context.Context, rcpt Recipient, note monitor.Notification) error {
	if rcpt.Email == "" {
		return ErrNoAddress
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": rcpt.Email}}},
		},
		"from":    map[string]string{"email": n.sender},
		"subject": note.Text.Subject,
		"content": []map[string]string{
			{"type": "text/plain", "value": note.Text.Body},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sendgrid payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sendgrid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid responded with status %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("account", note.Account).
		Str("kind", string(note.Kind)).
		Msg("notification sent (email)")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
