package monitor

import "github.com/shopspring/decimal"

// ThresholdConfig defines a directional edge over the ratio series.
// RearmLimit, when set, adds hysteresis: after a firing the rule stays
// disarmed until the series crosses the limit in the opposite direction.
type ThresholdConfig struct {
	Direction  Direction
	Threshold  decimal.Decimal
	RearmLimit *decimal.Decimal
}

// crossed reports whether the series moved across level in dir between
// two consecutive values. Equality on the new value never crosses.
func crossed(dir Direction, level, prev, cur decimal.Decimal) bool {
	switch dir {
	case Falling:
		return prev.GreaterThanOrEqual(level) && cur.LessThan(level)
	case Rising:
		return prev.LessThanOrEqual(level) && cur.GreaterThan(level)
	}
	return false
}

func opposite(dir Direction) Direction {
	if dir == Falling {
		return Rising
	}
	return Falling
}

// detectEdge evaluates one step of the series. It is pure: the caller owns
// the armed flag and persists the returned value.
func detectEdge(prev, cur decimal.Decimal, cfg ThresholdConfig, armed bool) (fired, nowArmed bool) {
	if cfg.RearmLimit == nil {
		armed = true
	} else if !armed && crossed(opposite(cfg.Direction), *cfg.RearmLimit, prev, cur) {
		armed = true
	}

	if armed && crossed(cfg.Direction, cfg.Threshold, prev, cur) {
		return true, cfg.RearmLimit == nil
	}
	return false, armed
}

// coldFire decides whether a first-ever observation fires, under the
// absent-previous-value-counts-as-beyond-threshold policy.
func coldFire(cur decimal.Decimal, cfg ThresholdConfig) bool {
	switch cfg.Direction {
	case Falling:
		return cur.LessThan(cfg.Threshold)
	case Rising:
		return cur.GreaterThan(cfg.Threshold)
	}
	return false
}
