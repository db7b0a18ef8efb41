package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"kabu-alerts/internal/app"
)

var (
	simulateText      string
	simulateTicker    string
	simulateCurrent   float64
	simulatePrevClose float64
	simulateAt        string
	simulatePushTo    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one condition against a synthetic price snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateText == "" {
			return errors.New("--text is required")
		}
		if simulateCurrent < 0 || simulatePrevClose < 0 {
			return errors.New("--current and --prev-close must not be negative")
		}

		opts := app.SimulateOptions{
			Text:          simulateText,
			Ticker:        simulateTicker,
			Current:       simulateCurrent,
			PreviousClose: simulatePrevClose,
			PushTo:        simulatePushTo,
			At:            time.Now(),
		}
		if simulateAt != "" {
			at, err := parseTimeFlag("at", simulateAt)
			if err != nil {
				return err
			}
			opts.At = at
		}

		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateText, "text", "", "Condition text, e.g. 5%上がったら")
	simulateCmd.Flags().StringVar(&simulateTicker, "ticker", "", "Ticker shown in the message")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current price (0 means unknown)")
	simulateCmd.Flags().Float64Var(&simulatePrevClose, "prev-close", 0, "Previous close (0 means unknown)")
	simulateCmd.Flags().StringVar(&simulateAt, "at", "", "Evaluate as of this instant (RFC3339); defaults to now")
	simulateCmd.Flags().StringVar(&simulatePushTo, "push-to", "", "Push the message to this LINE user id instead of printing it")
}
