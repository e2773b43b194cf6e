package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"cratio-alerts/internal/metrics"
	"cratio-alerts/internal/monitor"
)

// Addressing selects how a notification's recipient set is computed.
type Addressing string

const (
	// Unicast addresses the subscriber that produced the notification.
	Unicast Addressing = "unicast"
	// Broadcast addresses every known subscriber.
	Broadcast Addressing = "broadcast"
)

// RecipientSource resolves subscriber accounts to channel addresses.
type RecipientSource interface {
	Recipient(account string) (Recipient, bool)
	Recipients() []Recipient
}

// DispatcherOptions tune fan-out behaviour.
type DispatcherOptions struct {
	// Addressing overrides the recipient computation per event kind.
	// Kinds without an entry are unicast.
	Addressing map[monitor.EventKind]Addressing

	// SendsPerSecond rate-limits outbound deliveries across all
	// channels. Zero disables limiting.
	SendsPerSecond float64
	SendBurst      int
}

// Dispatcher fans one notification out to every configured channel and
// recipient concurrently. Individual failures are logged and counted,
// never propagated or retried.
type Dispatcher struct {
	notifiers  []Notifier
	source     RecipientSource
	addressing map[monitor.EventKind]Addressing
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewDispatcher wires channels and the recipient directory together.
func NewDispatcher(notifiers []Notifier, source RecipientSource, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	var limiter *rate.Limiter
	if opts.SendsPerSecond > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendsPerSecond), burst)
	}

	return &Dispatcher{
		notifiers:  notifiers,
		source:     source,
		addressing: opts.Addressing,
		limiter:    limiter,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch resolves the recipient set for note and delivers to every
// (channel, recipient) pair. It returns an error only when the context
// is cancelled mid fan-out.
func (d *Dispatcher) Dispatch(ctx context.Context, note monitor.Notification) error {
	if len(d.notifiers) == 0 {
		return nil
	}

	recipients, err := d.resolve(note)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("account", note.Account).
			Str("kind", string(note.Kind)).
			Msg("cannot resolve recipients; notification dropped")
		return nil
	}

	metrics.NotificationsTotal.WithLabelValues(string(note.Kind)).Inc()

	g, ctx := errgroup.WithContext(ctx)
	for _, notifier := range d.notifiers {
		for _, rcpt := range recipients {
			notifier, rcpt := notifier, rcpt
			g.Go(func() error {
				if d.limiter != nil {
					if err := d.limiter.Wait(ctx); err != nil {
						return err
					}
				}
				d.deliver(ctx, notifier, rcpt, note)
				return nil
			})
		}
	}
	return g.Wait()
}

// BroadcastText sends an operator-authored message to every subscriber.
func (d *Dispatcher) BroadcastText(ctx context.Context, text monitor.RenderedText) error {
	note := monitor.Notification{
		Kind: monitor.EventBroadcast,
		Text: text,
		At:   time.Now().UTC(),
	}
	return d.Dispatch(ctx, note)
}

func (d *Dispatcher) resolve(note monitor.Notification) ([]Recipient, error) {
	addressing := d.addressing[note.Kind]
	if addressing == "" {
		addressing = Unicast
	}
	if note.Kind == monitor.EventBroadcast {
		addressing = Broadcast
	}

	switch addressing {
	case Broadcast:
		return d.source.Recipients(), nil
	default:
		rcpt, ok := d.source.Recipient(note.Account)
		if !ok {
			return nil, fmt.Errorf("unknown subscriber %q", note.Account)
		}
		return []Recipient{rcpt}, nil
	}
}

func (d *Dispatcher) deliver(ctx context.Context, notifier Notifier, rcpt Recipient, note monitor.Notification) {
	err := notifier.Notify(ctx, rcpt, note)
	switch {
	case errors.Is(err, ErrNoAddress):
		d.logger.Debug().
			Str("channel", notifier.Name()).
			Str("account", rcpt.Account).
			Msg("recipient has no address for channel; skipped")
	case err != nil:
		metrics.DeliveriesTotal.WithLabelValues(notifier.Name(), "error").Inc()
		d.logger.Error().Err(err).
			Str("channel", notifier.Name()).
			Str("account", rcpt.Account).
			Str("kind", string(note.Kind)).
			Msg("delivery failed")
	default:
		metrics.DeliveriesTotal.WithLabelValues(notifier.Name(), "ok").Inc()
	}
}
