package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is everything the monitor remembers about one subscriber between
// polling cycles. It is owned by the service loop and must only be
// touched from its single-writer path; there is no internal locking.
type State struct {
	// LastRatio is the raw value from the last cycle that observed this
	// subscriber; nil until the first observation.
	LastRatio *decimal.Decimal

	// MissedPolls counts consecutive cycles without data, for the
	// absence-expiry policy.
	MissedPolls int

	rules map[EventKind]*ruleState
}

// ruleState tracks one rule's windowed series, hysteresis arming and
// throttle bookkeeping for a single subscriber.
type ruleState struct {
	window    *slidingWindow
	prev      *decimal.Decimal
	armed     bool
	lastFired time.Time
}

// NewState initialises state for a newly observed subscriber.
func NewState() *State {
	return &State{rules: make(map[EventKind]*ruleState)}
}

func (s *State) rule(r Rule) *ruleState {
	rs, ok := s.rules[r.Kind]
	if !ok {
		rs = &ruleState{window: newSlidingWindow(r.Window), armed: true}
		s.rules[r.Kind] = rs
	}
	return rs
}

// LastFired returns when kind last emitted for this subscriber.
func (s *State) LastFired(kind EventKind) (time.Time, bool) {
	rs, ok := s.rules[kind]
	if !ok || rs.lastFired.IsZero() {
		return time.Time{}, false
	}
	return rs.lastFired, true
}
