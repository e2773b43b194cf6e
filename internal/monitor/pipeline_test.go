package monitor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		Healthy:     dec("1.5"),
		Critical:    dec("1.35"),
		Liquidation: dec("1.25"),
	}
}

func newTestPipeline(opts Options) *Pipeline {
	rules := DefaultRules(defaultThresholds(), 5*time.Minute, 1)
	return NewPipeline(rules, opts, zerolog.Nop())
}

func evaluateSeries(t *testing.T, p *Pipeline, st *State, values []string) [][]EventKind {
	t.Helper()

	kinds := make([][]EventKind, 0, len(values))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		notes := p.Evaluate(st, Sample{
			Account:    "0xabc",
			Ratio:      dec(v),
			ObservedAt: base.Add(time.Duration(i) * 5 * time.Minute),
		})
		cycle := make([]EventKind, 0, len(notes))
		for _, n := range notes {
			cycle = append(cycle, n.Kind)
		}
		kinds = append(kinds, cycle)
	}
	return kinds
}

func TestPipelineFallingThenRecovery(t *testing.T) {
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPipeline(Options{Now: func() time.Time {
		clock = clock.Add(5 * time.Minute)
		return clock
	}})
	st := NewState()

	kinds := evaluateSeries(t, p, st, []string{"1.60", "1.40", "1.41", "1.51"})

	if len(kinds[0]) != 0 {
		t.Fatalf("cold start must stay silent, got %v", kinds[0])
	}
	if len(kinds[1]) != 1 || kinds[1][0] != EventUnhealthyWarning {
		t.Fatalf("drop through the healthy threshold should warn once, got %v", kinds[1])
	}
	if len(kinds[2]) != 0 {
		t.Fatalf("small move below the threshold must not refire, got %v", kinds[2])
	}
	if len(kinds[3]) != 1 || kinds[3][0] != EventHealthyRecovered {
		t.Fatalf("rise back above the healthy threshold should recover, got %v", kinds[3])
	}
}

func TestPipelineOscillationFiresOnce(t *testing.T) {
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPipeline(Options{Now: func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}})
	st := NewState()

	// Oscillates around the healthy threshold without ever reaching the
	// critical rearm limit. The clock advances a full hour per sample, so
	// the cooldown never suppresses anything: only hysteresis does.
	kinds := evaluateSeries(t, p, st, []string{"1.60", "1.40", "1.60", "1.40", "1.60", "1.40"})

	warnings := 0
	for _, cycle := range kinds {
		for _, kind := range cycle {
			if kind == EventUnhealthyWarning {
				warnings++
			}
		}
	}
	if warnings != 1 {
		t.Fatalf("unhealthy warning should fire exactly once across the oscillation, got %d", warnings)
	}
}

func TestPipelineRearmAfterCriticalDip(t *testing.T) {
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPipeline(Options{Now: func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}})
	st := NewState()

	// 1.60 -> 1.40 warns; dipping to 1.30 and climbing back above the
	// critical band re-arms the warning, so the second drop warns again.
	kinds := evaluateSeries(t, p, st, []string{"1.60", "1.40", "1.30", "1.60", "1.40"})

	if len(kinds[1]) != 1 || kinds[1][0] != EventUnhealthyWarning {
		t.Fatalf("first drop should warn, got %v", kinds[1])
	}
	if len(kinds[2]) != 1 || kinds[2][0] != EventCriticalWarning {
		t.Fatalf("drop below critical should fire the critical warning, got %v", kinds[2])
	}
	found := map[EventKind]bool{}
	for _, kind := range kinds[4] {
		found[kind] = true
	}
	if !found[EventUnhealthyWarning] {
		t.Fatalf("re-armed warning should fire on the second drop, got %v", kinds[4])
	}
}

func TestPipelineCooldownThrottle(t *testing.T) {
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := clock
	rule := Rule{
		Kind:     EventCriticalWarning,
		Edge:     ThresholdConfig{Direction: Falling, Threshold: dec("1.35")},
		Cooldown: 5 * time.Minute,
		Window:   1,
		Render:   func(r decimal.Decimal) RenderedText { return RenderedText{Body: r.String()} },
	}
	p := NewPipeline([]Rule{rule}, Options{Now: func() time.Time { return now }}, zerolog.Nop())
	st := NewState()

	feed := func(v string) int {
		notes := p.Evaluate(st, Sample{Account: "0xabc", Ratio: dec(v), ObservedAt: now})
		return len(notes)
	}

	feed("1.40")
	if got := feed("1.30"); got != 1 {
		t.Fatalf("first crossing should emit, got %d notes", got)
	}

	// Recross within the cooldown: the edge fires but the emission is
	// suppressed, and lastFired stays at the original emission time.
	now = now.Add(2 * time.Minute)
	feed("1.40")
	if got := feed("1.30"); got != 0 {
		t.Fatalf("crossing inside the cooldown must be throttled, got %d notes", got)
	}
	if fired, ok := st.LastFired(EventCriticalWarning); !ok || !fired.Equal(clock) {
		t.Fatalf("throttled emission must not advance lastFired, got %v", fired)
	}

	// Past the cooldown the next crossing emits again.
	now = now.Add(5 * time.Minute)
	feed("1.40")
	if got := feed("1.30"); got != 1 {
		t.Fatalf("crossing after the cooldown should emit, got %d notes", got)
	}
}

func TestPipelineColdStart(t *testing.T) {
	st := NewState()
	p := newTestPipeline(Options{})

	notes := p.Evaluate(st, Sample{Account: "0xabc", Ratio: dec("1.20"), ObservedAt: time.Now()})
	if len(notes) != 0 {
		t.Fatalf("default cold start must stay silent even deep in the danger zone, got %v", notes)
	}
	if st.LastRatio == nil || !st.LastRatio.Equal(dec("1.20")) {
		t.Fatal("evaluation must record the last observed ratio")
	}

	st = NewState()
	p = newTestPipeline(Options{FireOnFirstObservation: true})
	notes = p.Evaluate(st, Sample{Account: "0xabc", Ratio: dec("1.30"), ObservedAt: time.Now()})

	found := map[EventKind]bool{}
	for _, n := range notes {
		found[n.Kind] = true
	}
	if !found[EventUnhealthyWarning] || !found[EventCriticalWarning] {
		t.Fatalf("first observation below both bands should fire both warnings, got %v", notes)
	}
	if found[EventHealthyRecovered] || found[EventCriticalRecovered] {
		t.Fatalf("rising rules must not fire on a low first observation, got %v", notes)
	}
}

func TestPipelineWindowSmoothing(t *testing.T) {
	rule := Rule{
		Kind:     EventCriticalWarning,
		Edge:     ThresholdConfig{Direction: Falling, Threshold: dec("1.35")},
		Cooldown: 0,
		Window:   2,
		Render:   func(r decimal.Decimal) RenderedText { return RenderedText{Body: r.String()} },
	}
	p := NewPipeline([]Rule{rule}, Options{}, zerolog.Nop())
	st := NewState()

	// Raw values dip below the threshold but the two-sample mean does not:
	// 1.50, then (1.50+1.30)/2 = 1.40.
	notes := p.Evaluate(st, Sample{Account: "0xabc", Ratio: dec("1.50"), ObservedAt: time.Now()})
	notes = append(notes, p.Evaluate(st, Sample{Account: "0xabc", Ratio: dec("1.30"), ObservedAt: time.Now()})...)
	if len(notes) != 0 {
		t.Fatalf("smoothed series stays above the threshold, got %v", notes)
	}

	// A second low value pulls the mean to (1.30+1.30)/2 = 1.30 and fires.
	notes = p.Evaluate(st, Sample{Account: "0xabc", Ratio: dec("1.30"), ObservedAt: time.Now()})
	if len(notes) != 1 {
		t.Fatalf("smoothed series crossing should fire once, got %v", notes)
	}
	if !notes[0].Ratio.Equal(dec("1.3")) {
		t.Fatalf("notification carries the smoothed value, got %s", notes[0].Ratio)
	}
}

func TestPipelineMissedPollsReset(t *testing.T) {
	st := NewState()
	st.MissedPolls = 3

	p := newTestPipeline(Options{})
	p.Evaluate(st, Sample{Account: "0xabc", Ratio: dec("1.60"), ObservedAt: time.Now()})

	if st.MissedPolls != 0 {
		t.Fatalf("a successful observation resets the absence counter, got %d", st.MissedPolls)
	}
}
