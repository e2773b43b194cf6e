// Package monitor implements the threshold-edge detection core: per-rule
// sliding windows, directional edge detection with rearm hysteresis, and
// cooldown throttling over per-subscriber state.
package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies one configured edge condition.
type EventKind string

const (
	EventUnhealthyWarning  EventKind = "unhealthy-warning"
	EventHealthyRecovered  EventKind = "healthy-recovered"
	EventCriticalWarning   EventKind = "critical-warning"
	EventCriticalRecovered EventKind = "critical-recovered"
	EventWelcome           EventKind = "welcome"
	EventBroadcast         EventKind = "broadcast"
)

// Direction describes which way a threshold crossing fires.
type Direction string

const (
	Falling Direction = "falling"
	Rising  Direction = "rising"
)

// Sample is one polled observation for one subscriber.
type Sample struct {
	Account    string
	Ratio      decimal.Decimal
	ObservedAt time.Time
}

// RenderedText is the channel-agnostic message produced for an event.
// Subject is only used by channels that carry one (email).
type RenderedText struct {
	Subject string
	Body    string
}

// Notification is an emitted event, consumed exactly once by the dispatcher.
type Notification struct {
	Account string
	Kind    EventKind
	Ratio   decimal.Decimal
	Text    RenderedText
	At      time.Time
}
