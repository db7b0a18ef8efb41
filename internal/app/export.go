package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"kabu-alerts/internal/storage"
)

// Export writes fire history as CSV and/or a PNG chart of fires per day.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-a.Config.Export.DefaultWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	fires, err := store.ListFiresBetween(ctx, from, to)
	if err != nil {
		return err
	}
	fires = filterTicker(fires, opts.Ticker)
	if len(fires) == 0 {
		a.Logger.Info().Msg("no fires found for export window")
		return nil
	}
	a.Logger.Info().Int("fires", len(fires)).Time("from", from).Time("to", to).Msg("exporting fire history")

	if opts.CSVPath != "" {
		if err := writeFiresCSV(opts.CSVPath, fires); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFiresPNG(opts.PNGPath, from, to, fires); err != nil {
			return err
		}
	}
	return nil
}

func filterTicker(fires []storage.FireRecord, ticker string) []storage.FireRecord {
	if ticker == "" {
		return fires
	}
	out := make([]storage.FireRecord, 0, len(fires))
	for _, f := range fires {
		if f.Ticker == ticker {
			out = append(out, f)
		}
	}
	return out
}

func writeFiresCSV(path string, fires []storage.FireRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"fired_at", "notification_id", "user_id", "ticker", "kind", "current_price", "change_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, fire := range fires {
		record := []string{
			fire.FiredAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(fire.NotificationID, 10),
			fire.UserID,
			fire.Ticker,
			fire.Kind,
			decimalField(fire.CurrentPrice),
			decimalField(fire.ChangePct),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func decimalField(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// dailyFireCounts buckets fires per UTC day across [from, to], always yielding
// at least two points so the chart has a non-empty x range.
func dailyFireCounts(from, to time.Time, fires []storage.FireRecord) ([]time.Time, []float64) {
	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	if !end.After(start) {
		end = start.Add(24 * time.Hour)
	}

	days := int(end.Sub(start)/(24*time.Hour)) + 1
	x := make([]time.Time, days)
	y := make([]float64, days)
	for i := range x {
		x[i] = start.Add(time.Duration(i) * 24 * time.Hour)
	}
	for _, f := range fires {
		idx := int(f.FiredAt.UTC().Sub(start) / (24 * time.Hour))
		if idx >= 0 && idx < days {
			y[idx]++
		}
	}
	return x, y
}

func writeFiresPNG(path string, from, to time.Time, fires []storage.FireRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x, counts := dailyFireCounts(from, to, fires)
	maxCount := 0.0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Fires per day",
			ValueFormatter: countFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: maxCount + 1},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Fires",
				XValues: x,
				YValues: counts,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	defer file.Close()

	if err := graph.Render(chart.PNG, file); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
