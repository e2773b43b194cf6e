package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cratio-alerts/internal/monitor"
	"cratio-alerts/internal/registry"
)

const (
	accountA = "0x00000000219ab540356cBB839Cbe05303d7705Fa"
	accountB = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	accountC = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

type fakeFetcher struct {
	values map[string]decimal.Decimal
	err    error
	calls  int
}

func (f *fakeFetcher) FetchRatios(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]decimal.Decimal)
	for _, account := range accounts {
		if v, ok := f.values[account]; ok {
			out[account] = v
		}
	}
	return out, nil
}

type collectingDispatcher struct {
	mu    sync.Mutex
	notes []monitor.Notification
}

func (d *collectingDispatcher) Dispatch(ctx context.Context, note monitor.Notification) error {
	d.mu.Lock()
	d.notes = append(d.notes, note)
	d.mu.Unlock()
	return nil
}

func (d *collectingDispatcher) byKind(kind monitor.EventKind) []monitor.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []monitor.Notification
	for _, n := range d.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (d *collectingDispatcher) reset() {
	d.mu.Lock()
	d.notes = nil
	d.mu.Unlock()
}

func newTestService(t *testing.T, f *fakeFetcher, d Dispatcher, opts Options) (*Service, *registry.Registry) {
	t.Helper()

	reg := registry.New(nil, zerolog.Nop())
	thresholds := monitor.Thresholds{
		Healthy:     decimal.NewFromFloat(1.5),
		Critical:    decimal.NewFromFloat(1.35),
		Liquidation: decimal.NewFromFloat(1.25),
	}
	pipeline := monitor.NewPipeline(monitor.DefaultRules(thresholds, 5*time.Minute, 1), monitor.Options{}, zerolog.Nop())
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}

	svc := New(nil, f, reg, pipeline, d, nil, nil, nil, opts, zerolog.Nop())
	return svc, reg
}

func ratios(pairs map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs))
	for k, v := range pairs {
		out[k] = decimal.NewFromFloat(v)
	}
	return out
}

func drainEvents(reg *registry.Registry) {
	for {
		select {
		case <-reg.Events():
		default:
			return
		}
	}
}

func TestCycleDetectsAndDispatches(t *testing.T) {
	fetch := &fakeFetcher{values: ratios(map[string]float64{accountA: 1.6})}
	disp := &collectingDispatcher{}
	svc, reg := newTestService(t, fetch, disp, Options{})
	ctx := context.Background()

	if err := reg.Add(ctx, registry.Subscriber{Account: accountA}); err != nil {
		t.Fatalf("add: %v", err)
	}
	drainEvents(reg)

	cycle := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.ProcessCycle(ctx, cycle); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if len(disp.notes) != 0 {
		t.Fatalf("cold start must dispatch nothing, got %v", disp.notes)
	}

	fetch.values = ratios(map[string]float64{accountA: 1.4})
	if err := svc.ProcessCycle(ctx, cycle.Add(5*time.Minute)); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	warnings := disp.byKind(monitor.EventUnhealthyWarning)
	if len(warnings) != 1 {
		t.Fatalf("drop through the healthy band should dispatch one warning, got %v", disp.notes)
	}
	if warnings[0].Account != accountA {
		t.Fatalf("warning for wrong account: %+v", warnings[0])
	}
}

func TestPartialSourceFailure(t *testing.T) {
	fetch := &fakeFetcher{values: ratios(map[string]float64{
		accountA: 1.6, accountB: 1.6, accountC: 1.6,
	})}
	disp := &collectingDispatcher{}
	svc, reg := newTestService(t, fetch, disp, Options{})
	ctx := context.Background()

	for _, account := range []string{accountA, accountB, accountC} {
		if err := reg.Add(ctx, registry.Subscriber{Account: account}); err != nil {
			t.Fatalf("add %s: %v", account, err)
		}
	}
	drainEvents(reg)

	cycle := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.ProcessCycle(ctx, cycle); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// B drops out of the next poll; A and C cross the threshold.
	fetch.values = ratios(map[string]float64{accountA: 1.4, accountC: 1.4})
	if err := svc.ProcessCycle(ctx, cycle.Add(5*time.Minute)); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	warnings := disp.byKind(monitor.EventUnhealthyWarning)
	if len(warnings) != 2 {
		t.Fatalf("A and C should warn, got %v", disp.notes)
	}
	for _, n := range warnings {
		if n.Account == accountB {
			t.Fatal("B had no observation and must not be notified")
		}
	}

	if svc.states[accountB].MissedPolls != 1 {
		t.Fatalf("B should record one missed poll, got %d", svc.states[accountB].MissedPolls)
	}
	if svc.states[accountB].LastRatio == nil {
		t.Fatal("B's last observed value must survive the gap")
	}

	// B reappears below the threshold: compared against its pre-gap value.
	disp.reset()
	fetch.values = ratios(map[string]float64{accountA: 1.4, accountB: 1.4, accountC: 1.4})
	if err := svc.ProcessCycle(ctx, cycle.Add(10*time.Minute)); err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	warnings = disp.byKind(monitor.EventUnhealthyWarning)
	if len(warnings) != 1 || warnings[0].Account != accountB {
		t.Fatalf("only B's delayed crossing should warn, got %v", disp.notes)
	}
}

func TestWholesaleFailureMutatesNothing(t *testing.T) {
	fetch := &fakeFetcher{values: ratios(map[string]float64{accountA: 1.6})}
	disp := &collectingDispatcher{}
	svc, reg := newTestService(t, fetch, disp, Options{})
	ctx := context.Background()

	if err := reg.Add(ctx, registry.Subscriber{Account: accountA}); err != nil {
		t.Fatalf("add: %v", err)
	}
	drainEvents(reg)

	cycle := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.ProcessCycle(ctx, cycle); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	fetch.err = errors.New("rpc down")
	if err := svc.ProcessCycle(ctx, cycle.Add(5*time.Minute)); err == nil {
		t.Fatal("wholesale source failure must surface as a cycle error")
	}
	if got := svc.states[accountA].MissedPolls; got != 0 {
		t.Fatalf("wholesale failure must not count as a missed poll, got %d", got)
	}
	if len(disp.notes) != 0 {
		t.Fatalf("nothing may be dispatched on a failed cycle, got %v", disp.notes)
	}

	// Recovery: the next successful poll compares against the pre-failure value.
	fetch.err = nil
	fetch.values = ratios(map[string]float64{accountA: 1.4})
	if err := svc.ProcessCycle(ctx, cycle.Add(10*time.Minute)); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if len(disp.byKind(monitor.EventUnhealthyWarning)) != 1 {
		t.Fatalf("crossing across the gap should warn once, got %v", disp.notes)
	}
}

func TestWelcomeOnSubscribe(t *testing.T) {
	fetch := &fakeFetcher{values: ratios(map[string]float64{accountA: 1.6})}
	disp := &collectingDispatcher{}
	svc, reg := newTestService(t, fetch, disp, Options{WelcomeOnSubscribe: true})
	ctx := context.Background()

	if err := reg.Add(ctx, registry.Subscriber{Account: accountA}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	welcomes := disp.byKind(monitor.EventWelcome)
	if len(welcomes) != 1 || welcomes[0].Account != accountA {
		t.Fatalf("new subscriber should be welcomed once, got %v", disp.notes)
	}

	// No repeat welcome on subsequent cycles.
	disp.reset()
	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(disp.byKind(monitor.EventWelcome)) != 0 {
		t.Fatal("welcome fires only once per subscription")
	}
}

func TestUnsubscribeDiscardsState(t *testing.T) {
	fetch := &fakeFetcher{values: ratios(map[string]float64{accountA: 1.6})}
	disp := &collectingDispatcher{}
	svc, reg := newTestService(t, fetch, disp, Options{})
	ctx := context.Background()

	if err := reg.Add(ctx, registry.Subscriber{Account: accountA}); err != nil {
		t.Fatalf("add: %v", err)
	}
	drainEvents(reg)

	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if _, ok := svc.states[accountA]; !ok {
		t.Fatal("state should exist after the first observation")
	}

	if err := reg.Remove(ctx, accountA); err != nil {
		t.Fatalf("remove: %v", err)
	}
	fetch.values = ratios(map[string]float64{accountA: 1.2})
	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("cycle after removal: %v", err)
	}

	if _, ok := svc.states[accountA]; ok {
		t.Fatal("state must be discarded on unsubscribe")
	}
	if len(disp.notes) != 0 {
		t.Fatalf("departed subscribers must not be notified, got %v", disp.notes)
	}
}

func TestAbsenceExpiry(t *testing.T) {
	fetch := &fakeFetcher{values: ratios(map[string]float64{accountA: 1.6})}
	disp := &collectingDispatcher{}
	svc, reg := newTestService(t, fetch, disp, Options{MaxMissedPolls: 2})
	ctx := context.Background()

	if err := reg.Add(ctx, registry.Subscriber{Account: accountA}); err != nil {
		t.Fatalf("add: %v", err)
	}
	drainEvents(reg)

	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	fetch.values = map[string]decimal.Decimal{}
	for i := 0; i < 2; i++ {
		if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
			t.Fatalf("absent cycle %d: %v", i, err)
		}
	}

	if _, ok := svc.states[accountA]; ok {
		t.Fatal("state should expire after the configured consecutive absences")
	}

	// The account is still subscribed; a fresh observation is a cold start
	// and therefore silent even when it lands in the danger zone.
	fetch.values = ratios(map[string]float64{accountA: 1.2})
	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("cycle after expiry: %v", err)
	}
	if len(disp.notes) != 0 {
		t.Fatalf("post-expiry first observation must stay silent, got %v", disp.notes)
	}
}
