package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"cratio-alerts/internal/app"
)

var (
	simulateAccount string
	simulateValues  []float64
	simulateStep    time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a sequence of ratio values through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulateValues) == 0 {
			return errors.New("--values must list at least one ratio")
		}

		opts := app.SimulateOptions{
			Account: simulateAccount,
			Values:  simulateValues,
			Step:    simulateStep,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAccount, "account", "", "Subscriber account to simulate (optional)")
	simulateCmd.Flags().Float64SliceVar(&simulateValues, "values", nil, "Comma-separated ratio values, e.g. 1.6,1.49,1.3")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", 0, "Simulated time between samples (defaults to scheduler interval)")
}
