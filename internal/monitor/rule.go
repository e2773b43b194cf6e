package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rule binds one event kind to its edge condition, throttling and message
// rendering. The rule set is plain data, built once at startup.
type Rule struct {
	Kind     EventKind
	Edge     ThresholdConfig
	Cooldown time.Duration
	Window   int
	Render   func(ratio decimal.Decimal) RenderedText
}

// Thresholds carries the deployment's collateral-ratio bands.
type Thresholds struct {
	Healthy     decimal.Decimal
	Critical    decimal.Decimal
	Liquidation decimal.Decimal
}

// DefaultRules returns the standard four-rule set. The unhealthy warning
// re-arms only after the ratio has dipped below the critical band and
// recovered; the critical-recovered notice re-arms only after the ratio
// has climbed back above healthy. That pairing keeps the two warnings
// from ping-ponging while the ratio oscillates around a single band edge.
func DefaultRules(t Thresholds, cooldown time.Duration, window int) []Rule {
	healthy := t.Healthy
	critical := t.Critical

	return []Rule{
		{
			Kind:     EventUnhealthyWarning,
			Edge:     ThresholdConfig{Direction: Falling, Threshold: healthy, RearmLimit: &critical},
			Cooldown: cooldown,
			Window:   window,
			Render:   func(r decimal.Decimal) RenderedText { return renderUnhealthyWarning(r, t) },
		},
		{
			Kind:     EventHealthyRecovered,
			Edge:     ThresholdConfig{Direction: Rising, Threshold: healthy},
			Cooldown: cooldown,
			Window:   window,
			Render:   func(r decimal.Decimal) RenderedText { return renderHealthyRecovered(r, t) },
		},
		{
			Kind:     EventCriticalWarning,
			Edge:     ThresholdConfig{Direction: Falling, Threshold: critical},
			Cooldown: cooldown,
			Window:   window,
			Render:   func(r decimal.Decimal) RenderedText { return renderCriticalWarning(r, t) },
		},
		{
			Kind:     EventCriticalRecovered,
			Edge:     ThresholdConfig{Direction: Rising, Threshold: critical, RearmLimit: &healthy},
			Cooldown: cooldown,
			Window:   window,
			Render:   func(r decimal.Decimal) RenderedText { return renderCriticalRecovered(r, t) },
		},
	}
}
