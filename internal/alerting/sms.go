package alerting

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cratio-alerts/internal/monitor"
)

// SMSNotifier sends texts through the Twilio Messages API.
type SMSNotifier struct {
	accountSID string
	authToken  string
	sender     string
	baseURL    string
	client     *http.Client
	logger     zerolog.Logger
}

// SMSOptions parameterise the Twilio channel.
type SMSOptions struct {
	AccountSID string
	AuthToken  string
	Sender     string
	BaseURL    string
	Timeout    time.Duration
}

// NewSMSNotifier constructs a Twilio-backed SMS channel.
func NewSMSNotifier(opts SMSOptions, logger zerolog.Logger) *SMSNotifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}

	return &SMSNotifier{
		accountSID: opts.AccountSID,
		authToken:  opts.AuthToken,
		sender:     opts.Sender,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_sms").Logger(),
	}
}

func (n *SMSNotifier) Name() string { return "sms" }

// Notify posts a form-encoded message create request.
func (n *SMSNotifier) Notify(ctx context.Context, rcpt Recipient, note monitor.Notification) error {
	if rcpt.Phone == "" {
		return ErrNoAddress
	}

	form := url.Values{}
	form.Set("To", rcpt.Phone)
	form.Set("From", n.sender)
	form.Set("Body", note.Text.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.baseURL, n.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.accountSID, n.authToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("twilio responded with status %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("account", note.Account).
		Str("kind", string(note.Kind)).
		Msg("notification sent (sms)")
	return nil
}

var _ Notifier = (*SMSNotifier)(nil)
