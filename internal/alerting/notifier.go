// Package alerting fans notifications out to delivery channels. Each
// channel is a Notifier; the Dispatcher runs them concurrently per
// recipient and isolates failures, so one broken channel never blocks
// the rest. Delivery is best-effort with no retries.
package alerting

import (
	"context"
	"errors"

	"cratio-alerts/internal/monitor"
)

// ErrNoAddress marks a recipient that has no address for a channel.
// The dispatcher skips these silently instead of counting a failure.
var ErrNoAddress = errors.New("alerting: recipient has no address for channel")

// Recipient carries the per-channel addresses of one subscriber.
type Recipient struct {
	Account        string
	TelegramChatID string
	Phone          string
	Email          string
}

// Notifier delivers one notification to one recipient over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, rcpt Recipient, note monitor.Notification) error
}
