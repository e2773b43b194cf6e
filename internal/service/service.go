// Package service runs the monitoring loop: it owns all per-subscriber
// state, drives poll cycles on the scheduler's cadence, and routes
// produced notifications to the dispatcher.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cratio-alerts/internal/fetcher"
	"cratio-alerts/internal/metrics"
	"cratio-alerts/internal/monitor"
	"cratio-alerts/internal/registry"
	"cratio-alerts/internal/scheduler"
	"cratio-alerts/internal/storage"
)

// Dispatcher consumes produced notifications. Satisfied by
// alerting.Dispatcher; a nil dispatcher silently drops notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, note monitor.Notification) error
}

// Options tune per-cycle policies.
type Options struct {
	// PollTimeout bounds one cycle's metric fetch; on expiry the cycle
	// is treated as a wholesale source failure.
	PollTimeout time.Duration

	// MaxMissedPolls expires a subscriber's state after this many
	// consecutive cycles without data. Zero retains state forever.
	MaxMissedPolls int

	// WelcomeOnSubscribe greets new subscribers at the start of the
	// cycle following their registration.
	WelcomeOnSubscribe bool

	// AdvisoryLockKey guards against concurrent instances when storage
	// is configured. Zero disables the lock.
	AdvisoryLockKey int64
}

// Service orchestrates polling, edge detection and dispatch.
type Service struct {
	scheduler   *scheduler.Scheduler
	fetcher     fetcher.RatioFetcher
	registry    *registry.Registry
	pipeline    *monitor.Pipeline
	dispatcher  Dispatcher
	sampleStore storage.RatioSampleStore
	alertStore  storage.AlertStore
	locker      storage.AdvisoryLocker
	opts        Options
	logger      zerolog.Logger

	// states is keyed by account and only ever touched from the cycle
	// goroutine, which is the single writer for all monitor state.
	states map[string]*monitor.State
}

// New constructs the monitoring service.
func New(
	sched *scheduler.Scheduler,
	ratioFetcher fetcher.RatioFetcher,
	reg *registry.Registry,
	pipeline *monitor.Pipeline,
	dispatcher Dispatcher,
	sampleStore storage.RatioSampleStore,
	alertStore storage.AlertStore,
	locker storage.AdvisoryLocker,
	opts Options,
	logger zerolog.Logger,
) *Service {
	return &Service{
		scheduler:   sched,
		fetcher:     ratioFetcher,
		registry:    reg,
		pipeline:    pipeline,
		dispatcher:  dispatcher,
		sampleStore: sampleStore,
		alertStore:  alertStore,
		locker:      locker,
		opts:        opts,
		logger:      logger.With().Str("component", "service").Logger(),
		states:      make(map[string]*monitor.State),
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one full poll-evaluate-dispatch cycle.
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, cycle)
}

func (s *Service) executeCycle(ctx context.Context, cycle time.Time) error {
	started := time.Now()

	notes := s.drainDirectoryEvents(cycle)
	accounts := s.registry.Accounts()

	var values map[string]decimal.Decimal
	if len(accounts) > 0 {
		pollCtx, cancel := context.WithTimeout(ctx, s.opts.PollTimeout)
		polled, err := s.fetcher.FetchRatios(pollCtx, accounts)
		cancel()
		if err != nil {
			// Wholesale source failure: nothing mutated, nothing sent.
			// The next tick retries on the regular cadence.
			metrics.CyclesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("poll ratios: %w", err)
		}
		values = polled
	}

	evaluated := 0
	for _, account := range accounts {
		if !s.registry.Contains(account) {
			// Unsubscribed between snapshot and processing; discard.
			delete(s.states, account)
			continue
		}

		ratio, ok := values[account]
		if !ok {
			s.noteMissed(account)
			continue
		}

		st, exists := s.states[account]
		if !exists {
			st = monitor.NewState()
			s.states[account] = st
		}

		sample := monitor.Sample{Account: account, Ratio: ratio, ObservedAt: cycle}
		notes = append(notes, s.pipeline.Evaluate(st, sample)...)
		evaluated++

		s.persistSample(ctx, sample)
	}

	s.dispatchAll(ctx, notes)

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.CycleDurationSeconds.Observe(time.Since(started).Seconds())

	s.logger.Info().
		Time("cycle", cycle).
		Int("subscribers", len(accounts)).
		Int("evaluated", evaluated).
		Int("notifications", len(notes)).
		Msg("cycle complete")
	return nil
}

// drainDirectoryEvents applies pending add/remove events on the
// single-writer path before polling, and produces welcome notes.
func (s *Service) drainDirectoryEvents(cycle time.Time) []monitor.Notification {
	var notes []monitor.Notification
	for {
		select {
		case ev := <-s.registry.Events():
			switch ev.Kind {
			case registry.SubscriberAdded:
				if s.opts.WelcomeOnSubscribe && s.dispatcher != nil {
					notes = append(notes, monitor.WelcomeNotification(ev.Subscriber.Account, cycle))
				}
			case registry.SubscriberRemoved:
				delete(s.states, ev.Subscriber.Account)
			}
		default:
			return notes
		}
	}
}

// noteMissed records one cycle of absent data. The subscriber's edge
// state stays untouched so the next successful poll compares against the
// last known value, not a reset baseline.
func (s *Service) noteMissed(account string) {
	st, exists := s.states[account]
	if !exists {
		return
	}
	st.MissedPolls++
	if s.opts.MaxMissedPolls > 0 && st.MissedPolls >= s.opts.MaxMissedPolls {
		delete(s.states, account)
		s.logger.Info().
			Str("account", account).
			Int("missed", st.MissedPolls).
			Msg("subscriber state expired after consecutive absences")
	}
}

func (s *Service) persistSample(ctx context.Context, sample monitor.Sample) {
	if s.sampleStore == nil {
		return
	}
	rec := storage.RatioSample{
		Account:    sample.Account,
		Ratio:      sample.Ratio,
		ObservedAt: sample.ObservedAt,
	}
	if err := s.sampleStore.UpsertRatioSample(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("account", sample.Account).Msg("failed to persist sample")
	}
}

// dispatchAll fans notifications out concurrently. State updates are
// already applied by now, so delivery latency never blocks the next
// subscriber's evaluation.
func (s *Service) dispatchAll(ctx context.Context, notes []monitor.Notification) {
	if s.dispatcher == nil || len(notes) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, note := range notes {
		if note.Kind != monitor.EventBroadcast && !s.registry.Contains(note.Account) {
			// Unsubscribed after evaluation; drop rather than notify a
			// departed subscriber.
			continue
		}

		s.persistAlert(ctx, note)

		note := note
		g.Go(func() error {
			return s.dispatcher.Dispatch(ctx, note)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("dispatch fan-out aborted")
	}
}

func (s *Service) persistAlert(ctx context.Context, note monitor.Notification) {
	if s.alertStore == nil {
		return
	}
	rec := storage.AlertRecord{
		Account: note.Account,
		Kind:    string(note.Kind),
		Ratio:   note.Ratio,
		Message: note.Text.Body,
	}
	if _, err := s.alertStore.InsertAlert(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("account", note.Account).Msg("failed to persist alert record")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
