package monitor

import (
	"strings"
	"testing"
	"time"
)

func TestRenderedRatioFormatting(t *testing.T) {
	text := renderUnhealthyWarning(dec("1.43219"), defaultThresholds())

	if !strings.Contains(text.Body, "143.22%") {
		t.Fatalf("ratio should render as a two-decimal percentage, got %q", text.Body)
	}
	if !strings.Contains(text.Body, "150%") {
		t.Fatalf("threshold should render as a whole percentage, got %q", text.Body)
	}
	if !strings.Contains(text.Body, "125%") {
		t.Fatalf("body should name the liquidation level, got %q", text.Body)
	}
}

func TestRenderingIsPure(t *testing.T) {
	th := defaultThresholds()
	first := renderCriticalWarning(dec("1.301"), th)
	second := renderCriticalWarning(dec("1.301"), th)

	if first != second {
		t.Fatalf("identical inputs must render identical text: %q vs %q", first, second)
	}
}

func TestRenderSubjects(t *testing.T) {
	th := defaultThresholds()

	cases := []struct {
		text    RenderedText
		subject string
	}{
		{renderUnhealthyWarning(dec("1.4"), th), "⚠️ Unhealthy Collateral-ratio"},
		{renderHealthyRecovered(dec("1.6"), th), "✅ Healthy Collateral-ratio"},
		{renderCriticalWarning(dec("1.3"), th), "🚨 Critical Collateral-ratio"},
		{renderCriticalRecovered(dec("1.4"), th), "⚠️ Unhealthy Collateral-ratio"},
	}
	for _, tc := range cases {
		if tc.text.Subject != tc.subject {
			t.Fatalf("subject = %q, want %q", tc.text.Subject, tc.subject)
		}
		if tc.text.Body == "" {
			t.Fatal("body must not be empty")
		}
	}
}

func TestWelcomeNotification(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	note := WelcomeNotification("0xabc", now)

	if note.Kind != EventWelcome {
		t.Fatalf("kind = %s, want %s", note.Kind, EventWelcome)
	}
	if note.Account != "0xabc" || !note.At.Equal(now) {
		t.Fatalf("unexpected envelope: %+v", note)
	}
	if !strings.Contains(note.Text.Body, "Thanks for subscribing") {
		t.Fatalf("unexpected welcome body: %q", note.Text.Body)
	}
}
