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

// ThreadNotifier posts into the subscriber's in-app notification thread,
// keyed by wallet address, via the messaging service's REST API.
type ThreadNotifier struct {
	baseURL  string
	apiToken string
	client   *http.Client
	logger   zerolog.Logger
}

// ThreadOptions parameterise the in-app thread channel.
type ThreadOptions struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// NewThreadNotifier constructs an in-app thread channel.
func NewThreadNotifier(opts ThreadOptions, logger zerolog.Logger) *ThreadNotifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ThreadNotifier{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiToken: opts.APIToken,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_thread").Logger(),
	}
}

func (n *ThreadNotifier) Name() string { return "thread" }

// Notify appends a message to the recipient's thread. The thread address
// is the account itself, so this channel never skips.
func (n *ThreadNotifier) Notify(ctx context.Context, rcpt Recipient, note monitor.Notification) error {
	if n.baseURL == "" {
		return fmt.Errorf("thread base url not configured")
	}

	payload := map[string]string{"content": note.Text.Body}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal thread payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/threads/%s/messages", n.baseURL, rcpt.Account)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create thread request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send thread request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("thread service responded with status %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("account", note.Account).
		Str("kind", string(note.Kind)).
		Msg("notification sent (thread)")
	return nil
}

var _ Notifier = (*ThreadNotifier)(nil)
