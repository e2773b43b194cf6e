package monitor

import "github.com/shopspring/decimal"

// slidingWindow smooths a noisy series with an arithmetic mean over the
// last size values. Size <= 1 passes values through untouched.
type slidingWindow struct {
	size   int
	values []decimal.Decimal
}

func newSlidingWindow(size int) *slidingWindow {
	return &slidingWindow{size: size}
}

// push appends v and returns the mean over the retained values. Until the
// window fills, the mean covers the values seen so far.
func (w *slidingWindow) push(v decimal.Decimal) decimal.Decimal {
	if w.size <= 1 {
		return v
	}

	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[1:]
	}

	sum := decimal.Zero
	for _, it := range w.values {
		sum = sum.Add(it)
	}
	return sum.Div(decimal.NewFromInt(int64(len(w.values))))
}
