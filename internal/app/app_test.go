package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kabu-alerts/internal/condition"
	"kabu-alerts/internal/config"
	"kabu-alerts/internal/storage"
)

func testApp() (*App, *bytes.Buffer) {
	cfg := &config.Config{
		Evaluator: config.EvaluatorConfig{Timezone: "Asia/Tokyo"},
		Export:    config.ExportConfig{DefaultWindow: 24 * time.Hour},
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestSimulatePercentUpFires(t *testing.T) {
	a, out := testApp()
	err := a.SimulateAlert(context.Background(), SimulateOptions{
		Text:          "5%上がったら",
		Ticker:        "7203.T",
		Current:       105,
		PreviousClose: 100,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "上昇 +5.00%")
	assert.Contains(t, out.String(), "result: fired")
}

func TestSimulateMissingPreviousCloseSkips(t *testing.T) {
	a, out := testApp()
	err := a.SimulateAlert(context.Background(), SimulateOptions{Text: "3%下がったら", Current: 90})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "result: skipped")
}

func TestSimulateDailyAtGivenInstant(t *testing.T) {
	a, out := testApp()
	err := a.SimulateAlert(context.Background(), SimulateOptions{
		Text: "毎日15時30分",
		At:   time.Date(2025, 5, 1, 6, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "result: fired")
}

func TestSimulateRejectsUnknownText(t *testing.T) {
	a, _ := testApp()
	err := a.SimulateAlert(context.Background(), SimulateOptions{Text: "明日教えて"})
	require.Error(t, err)
}

func TestPreviewAdHocWeekly(t *testing.T) {
	a, out := testApp()
	from := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	err := a.Preview(context.Background(), PreviewOptions{
		From: from,
		To:   from.Add(14 * 24 * time.Hour),
		Text: "毎週月曜の9時",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2025-05-05 09:00 JST")
	assert.Contains(t, out.String(), "2025-05-12 09:00 JST")
	assert.Equal(t, 2, strings.Count(out.String(), "09:00 JST"))
}

func TestPreviewRejectsEmptyRange(t *testing.T) {
	a, _ := testApp()
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.Error(t, a.Preview(context.Background(), PreviewOptions{From: at, To: at, Text: "毎日9時"}))
}

func TestDailyFireCounts(t *testing.T) {
	from := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	fires := []storage.FireRecord{
		{FiredAt: from.Add(time.Hour)},
		{FiredAt: from.Add(2 * time.Hour)},
		{FiredAt: from.Add(30 * time.Hour)},
	}

	x, y := dailyFireCounts(from, to, fires)
	require.Len(t, x, 3)
	assert.Equal(t, []float64{2, 1, 0}, y)

	x, _ = dailyFireCounts(from, from.Add(time.Hour), nil)
	assert.Len(t, x, 2)
}

func TestWriteFiresCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "fires.csv")
	fires := []storage.FireRecord{{
		NotificationID: 7,
		UserID:         "U1",
		Ticker:         "7203.T",
		Kind:           "percent_up",
		CurrentPrice:   decimal.NewNullDecimal(decimal.RequireFromString("2950.5")),
		ChangePct:      decimal.NewNullDecimal(decimal.RequireFromString("5.25")),
		FiredAt:        time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}, {
		NotificationID: 8,
		UserID:         "U2",
		Ticker:         "7203.T",
		Kind:           "daily",
		FiredAt:        time.Date(2025, 5, 1, 0, 1, 0, 0, time.UTC),
	}}
	require.NoError(t, writeFiresCSV(path, fires))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2025-05-01T00:00:00Z", "7", "U1", "7203.T", "percent_up", "2950.5", "5.25"}, rows[1])
	assert.Equal(t, "", rows[2][5])
}

func TestWriteNotifications(t *testing.T) {
	rec, err := storage.NewMemoryNotification(3, "U1", "7203.T", condition.Parse("株価が2500円を下回ったら"))
	require.NoError(t, err)
	rec.DisplayName = "taro\tjr"

	var out bytes.Buffer
	require.NoError(t, writeNotifications(&out, []storage.Notification{rec}))
	assert.Contains(t, out.String(), "price_under")
	assert.Contains(t, out.String(), "taro jr")

	out.Reset()
	require.NoError(t, writeNotifications(&out, nil))
	assert.Equal(t, "no notifications found\n", out.String())
}
