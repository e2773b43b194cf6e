package monitor

import (
	"time"

	"github.com/rs/zerolog"
)

// Options tune pipeline-wide policies.
type Options struct {
	// FireOnFirstObservation treats an absent previous value as lying
	// beyond every threshold, so a subscriber's very first sample can
	// fire. Off by default: cold starts stay silent.
	FireOnFirstObservation bool

	// Now overrides the throttle clock. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline evaluates a declarative rule set against per-subscriber state.
// Rules are independent: one firing never suppresses another.
type Pipeline struct {
	rules  []Rule
	opts   Options
	logger zerolog.Logger
}

// NewPipeline constructs a pipeline over an immutable rule set.
func NewPipeline(rules []Rule, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		rules:  rules,
		opts:   opts,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Rules exposes the configured rule set.
func (p *Pipeline) Rules() []Rule {
	return p.rules
}

// Evaluate feeds one sample through every rule, mutating st in place.
// At most one notification per (subscriber, kind) is produced per call;
// throttled edges update no state beyond the edge detector's own arming.
func (p *Pipeline) Evaluate(st *State, sample Sample) []Notification {
	var notes []Notification

	for _, rule := range p.rules {
		rs := st.rule(rule)
		value := rs.window.push(sample.Ratio)

		var fired bool
		if rs.prev == nil {
			if p.opts.FireOnFirstObservation && coldFire(value, rule.Edge) {
				fired = true
				rs.armed = rule.Edge.RearmLimit == nil
			}
		} else {
			fired, rs.armed = detectEdge(*rs.prev, value, rule.Edge, rs.armed)
		}

		prev := value
		rs.prev = &prev

		if !fired {
			continue
		}

		now := p.opts.Now()
		if !shouldEmit(now, rs.lastFired, rule.Cooldown) {
			p.logger.Debug().
				Str("account", sample.Account).
				Str("kind", string(rule.Kind)).
				Time("last_fired", rs.lastFired).
				Msg("edge throttled")
			continue
		}
		rs.lastFired = now

		notes = append(notes, Notification{
			Account: sample.Account,
			Kind:    rule.Kind,
			Ratio:   value,
			Text:    rule.Render(value),
			At:      now,
		})
	}

	last := sample.Ratio
	st.LastRatio = &last
	st.MissedPolls = 0

	return notes
}
