package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"kabu-alerts/internal/condition"
	"kabu-alerts/internal/evaluator"
	"kabu-alerts/internal/fetcher"
	"kabu-alerts/internal/storage"
)

const (
	previewStep     = time.Minute
	maxPreviewRange = 31 * 24 * time.Hour
)

// Preview lists the minutes in [From, To) at which time-based rules fire.
// Price and percent rules depend on live data and are only listed once.
func (a *App) Preview(ctx context.Context, opts PreviewOptions) error {
	start := alignForward(opts.From, previewStep)
	end := opts.To
	if !start.Before(end) {
		return errors.New("preview range is empty; check --from/--to")
	}
	if end.Sub(start) > maxPreviewRange {
		return fmt.Errorf("preview range must not exceed %s", maxPreviewRange)
	}

	var records []storage.Notification
	if opts.Text != "" {
		rec, err := storage.NewMemoryNotification(0, "-", "-", condition.Parse(opts.Text))
		if err != nil {
			return fmt.Errorf("condition not recognised: %q", opts.Text)
		}
		records = append(records, rec)
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if records, err = store.ListNotifications(ctx); err != nil {
			return err
		}
	}

	eval := evaluator.New(evaluator.LoadLocation(a.Config.Evaluator.Timezone))
	return writePreview(ctx, a.Out, eval, records, start, end)
}

func writePreview(ctx context.Context, out io.Writer, eval *evaluator.Evaluator, records []storage.Notification, start, end time.Time) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fires at\tID\tUser\tTicker\tCondition")

	loc := eval.Location()
	for _, rec := range records {
		cond, err := rec.DecodeCondition()
		if err != nil {
			fmt.Fprintf(writer, "-\t%d\t%s\t%s\t(invalid condition)\n", rec.ID, rec.UserID, rec.Ticker)
			continue
		}
		if !timeBased(cond.Kind) {
			fmt.Fprintf(writer, "price dependent\t%d\t%s\t%s\t%s\n", rec.ID, rec.UserID, rec.Ticker, cond.Describe())
			continue
		}

		for at := start; at.Before(end); at = at.Add(previewStep) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if eval.Evaluate(cond, fetcher.Snapshot{}, at).Fired {
				fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n", at.In(loc).Format("2006-01-02 15:04 MST"), rec.ID, rec.UserID, rec.Ticker, cond.Describe())
			}
		}
	}
	return writer.Flush()
}

func timeBased(k condition.Kind) bool {
	return k == condition.Daily || k == condition.Weekly || k == condition.Monthly
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
