// Package registry maintains the set of monitored subscribers and their
// per-channel contact addresses, and emits add/remove events consumed by
// the monitoring loop.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"cratio-alerts/internal/metrics"
)

var (
	// ErrUnknownSubscriber indicates the account is not registered.
	ErrUnknownSubscriber = errors.New("registry: unknown subscriber")
	// ErrAlreadySubscribed indicates a duplicate add.
	ErrAlreadySubscribed = errors.New("registry: already subscribed")
)

// Subscriber is one monitored account and its delivery addresses.
type Subscriber struct {
	Account        string
	TelegramChatID string
	Phone          string
	Email          string
	CreatedAt      time.Time
}

// EventKind distinguishes directory mutations.
type EventKind string

const (
	SubscriberAdded   EventKind = "added"
	SubscriberRemoved EventKind = "removed"
)

// Event records one directory mutation.
type Event struct {
	Kind       EventKind
	Subscriber Subscriber
}

// Store persists the directory across restarts. Optional; a nil store
// keeps the registry purely in memory.
type Store interface {
	UpsertSubscriber(ctx context.Context, sub Subscriber) error
	DeleteSubscriber(ctx context.Context, account string) error
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
}

// Registry is a concurrency-safe subscriber directory.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	events chan Event
	store  Store
	logger zerolog.Logger
}

// New constructs an empty registry.
func New(store Store, logger zerolog.Logger) *Registry {
	return &Registry{
		subs:   make(map[string]Subscriber),
		events: make(chan Event, 256),
		store:  store,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Load hydrates the directory from the store. Loaded subscribers emit no
// events: they are pre-existing, not newly added.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	subs, err := r.store.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}

	r.mu.Lock()
	for _, sub := range subs {
		r.subs[sub.Account] = sub
	}
	count := len(r.subs)
	r.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	r.logger.Info().Int("count", count).Msg("subscriber directory loaded")
	return nil
}

// Add registers a subscriber, persists it, and emits an added event.
func (r *Registry) Add(ctx context.Context, sub Subscriber) error {
	account, err := normalizeAccount(sub.Account)
	if err != nil {
		return err
	}
	sub.Account = account
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if _, exists := r.subs[account]; exists {
		r.mu.Unlock()
		return ErrAlreadySubscribed
	}
	r.subs[account] = sub
	count := len(r.subs)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertSubscriber(ctx, sub); err != nil {
			r.logger.Error().Err(err).Str("account", account).Msg("failed to persist subscriber")
		}
	}

	metrics.Subscribers.Set(float64(count))
	r.emit(Event{Kind: SubscriberAdded, Subscriber: sub})
	r.logger.Info().Str("account", account).Msg("subscriber added")
	return nil
}

// Remove deletes a subscriber and emits a removed event. Removal takes
// effect immediately: Contains reports false the moment this returns.
func (r *Registry) Remove(ctx context.Context, account string) error {
	normalized, err := normalizeAccount(account)
	if err != nil {
		return err
	}

	r.mu.Lock()
	sub, exists := r.subs[normalized]
	if !exists {
		r.mu.Unlock()
		return ErrUnknownSubscriber
	}
	delete(r.subs, normalized)
	count := len(r.subs)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteSubscriber(ctx, normalized); err != nil {
			r.logger.Error().Err(err).Str("account", normalized).Msg("failed to delete persisted subscriber")
		}
	}

	metrics.Subscribers.Set(float64(count))
	r.emit(Event{Kind: SubscriberRemoved, Subscriber: sub})
	r.logger.Info().Str("account", normalized).Msg("subscriber removed")
	return nil
}

// Snapshot returns a copy of the current directory.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	return subs
}

// Accounts returns the current account set.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]string, 0, len(r.subs))
	for account := range r.subs {
		accounts = append(accounts, account)
	}
	return accounts
}

// Get looks up one subscriber.
func (r *Registry) Get(account string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[account]
	return sub, ok
}

// Contains reports current membership.
func (r *Registry) Contains(account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[account]
	return ok
}

// Count returns the directory size.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Events exposes the directory mutation stream. The channel is buffered;
// when a consumer falls too far behind, the oldest events are dropped.
func (r *Registry) Events() <-chan Event {
	return r.events
}

func (r *Registry) emit(ev Event) {
	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-r.events:
			r.logger.Warn().
				Str("kind", string(dropped.Kind)).
				Str("account", dropped.Subscriber.Account).
				Msg("event buffer full; dropped oldest event")
		default:
		}
	}
}

func normalizeAccount(account string) (string, error) {
	if !common.IsHexAddress(account) {
		return "", fmt.Errorf("registry: invalid account address %q", account)
	}
	return common.HexToAddress(account).Hex(), nil
}
