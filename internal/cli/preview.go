package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kabu-alerts/internal/app"
)

var (
	previewFrom string
	previewTo   string
	previewText string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "List when time-based notifications would fire within a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		from := time.Now()
		if previewFrom != "" {
			parsed, err := parseTimeFlag("from", previewFrom)
			if err != nil {
				return err
			}
			from = parsed
		}

		to := from.Add(7 * 24 * time.Hour)
		if previewTo != "" {
			parsed, err := parseTimeFlag("to", previewTo)
			if err != nil {
				return err
			}
			to = parsed
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		return getApp().Preview(cmd.Context(), app.PreviewOptions{From: from, To: to, Text: previewText})
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewFrom, "from", "", "Start timestamp (RFC3339, inclusive); defaults to now")
	previewCmd.Flags().StringVar(&previewTo, "to", "", "End timestamp (RFC3339, exclusive); defaults to one week after --from")
	previewCmd.Flags().StringVar(&previewText, "text", "", "Preview this condition text instead of the stored notifications")
}
