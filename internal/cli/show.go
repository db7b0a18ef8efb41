package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kabu-alerts/internal/app"
)

var (
	showLimit int
	showUser  string
	showFires bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored notifications or recent fire history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			UserID: showUser,
			Fires:  showFires,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showUser, "user", "", "Only show notifications owned by this LINE user id")
	showCmd.Flags().BoolVar(&showFires, "fires", false, "Show delivered notifications instead of stored rules")
}
