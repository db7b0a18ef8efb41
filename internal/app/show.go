package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"kabu-alerts/internal/storage"
)

// Show prints stored notifications or recent fire history.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Fires {
		fires, err := store.ListRecentFires(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeFires(a.Out, fires)
	}

	var records []storage.Notification
	if opts.UserID != "" {
		records, err = store.ListNotificationsByUser(ctx, opts.UserID)
	} else {
		records, err = store.ListNotifications(ctx)
	}
	if err != nil {
		return err
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return writeNotifications(a.Out, records)
}

func writeNotifications(out io.Writer, records []storage.Notification) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tUser\tName\tTicker\tKind\tCondition\tCreated (UTC)")
	for _, rec := range records {
		desc := "(invalid condition)"
		if cond, err := rec.DecodeCondition(); err == nil {
			desc = cond.Describe()
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.UserID,
			sanitizeInline(rec.DisplayName),
			rec.Ticker,
			rec.Kind,
			desc,
			rec.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func writeFires(out io.Writer, fires []storage.FireRecord) error {
	if len(fires) == 0 {
		fmt.Fprintln(out, "no fires found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tNotification\tUser\tTicker\tKind\tPrice\tChange%")
	for _, fire := range fires {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			fire.FiredAt.UTC().Format(time.RFC3339),
			fire.NotificationID,
			fire.UserID,
			fire.Ticker,
			fire.Kind,
			formatNullDecimal(fire.CurrentPrice, 2),
			formatNullDecimal(fire.ChangePct, 2),
		)
	}
	return writer.Flush()
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
