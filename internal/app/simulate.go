package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"cratio-alerts/internal/monitor"
)

// Simulate replays a sequence of ratio values through the edge-detection
// pipeline with a synthetic clock advancing one step per value, printing
// the notifications that would have been emitted. No channel is touched.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if len(opts.Values) == 0 {
		return errors.New("at least one ratio value is required")
	}
	account := opts.Account
	if account == "" {
		account = "0x0000000000000000000000000000000000000000"
	}
	step := opts.Step
	if step <= 0 {
		step = a.Config.Scheduler.Interval
	}

	clock := time.Now().UTC().Truncate(step)
	now := clock
	thresholds := monitor.Thresholds{
		Healthy:     decimal.NewFromFloat(a.Config.Monitor.HealthyThreshold),
		Critical:    decimal.NewFromFloat(a.Config.Monitor.CriticalThreshold),
		Liquidation: decimal.NewFromFloat(a.Config.Monitor.LiquidationThreshold),
	}
	rules := monitor.DefaultRules(thresholds, a.Config.Monitor.Cooldown, a.Config.Monitor.Window)
	pipeline := monitor.NewPipeline(rules, monitor.Options{
		FireOnFirstObservation: a.Config.Monitor.FireOnFirstObservation,
		Now:                    func() time.Time { return now },
	}, a.Logger)

	state := monitor.NewState()
	emitted := 0
	for i, value := range opts.Values {
		now = clock.Add(time.Duration(i) * step)
		sample := monitor.Sample{
			Account:    account,
			Ratio:      decimal.NewFromFloat(value),
			ObservedAt: now,
		}

		notes := pipeline.Evaluate(state, sample)
		for _, note := range notes {
			emitted++
			fmt.Fprintf(os.Stdout, "[%s] ratio=%s kind=%s\n  %s\n  %s\n",
				note.At.Format(time.RFC3339),
				note.Ratio.StringFixed(4),
				note.Kind,
				note.Text.Subject,
				note.Text.Body,
			)
		}
	}

	fmt.Fprintf(os.Stdout, "replayed %d samples, %d notifications\n", len(opts.Values), emitted)
	return nil
}
