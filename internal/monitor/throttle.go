package monitor

import "time"

// shouldEmit applies the cooldown gate for one (subscriber, event) pair.
// A zero or negative cooldown never throttles; the caller records now as
// the new lastFired only when the emission is accepted.
func shouldEmit(now, lastFired time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 || lastFired.IsZero() {
		return true
	}
	return now.Sub(lastFired) >= cooldown
}
