package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var sweepAt string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate every stored notification once and push the ones that fire",
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if sweepAt != "" {
			parsed, err := parseTimeFlag("at", sweepAt)
			if err != nil {
				return err
			}
			at = parsed
		}
		return getApp().Sweep(cmd.Context(), at)
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepAt, "at", "", "Evaluate as of this instant (RFC3339); defaults to now")
}
