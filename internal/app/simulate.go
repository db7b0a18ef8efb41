package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kabu-alerts/internal/alerting"
	"kabu-alerts/internal/condition"
	"kabu-alerts/internal/fetcher"
	"kabu-alerts/internal/service"
	"kabu-alerts/internal/storage"
)

// SimulateAlert runs one condition through the sweep against a synthetic
// snapshot. The message is printed, or pushed over LINE when PushTo is set.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	cond := condition.Parse(opts.Text)
	if !cond.Actionable() {
		if rule := condition.RuleName(opts.Text); rule != "" {
			return fmt.Errorf("condition matched rule %s but is malformed: %q", rule, opts.Text)
		}
		return fmt.Errorf("condition not recognised: %q", opts.Text)
	}

	ticker := opts.Ticker
	if ticker == "" {
		ticker = "SIM.T"
	}
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}

	rec, err := storage.NewMemoryNotification(1, "simulator", ticker, cond)
	if err != nil {
		return err
	}

	var notifier alerting.Notifier = &printNotifier{out: a.Out}
	if opts.PushTo != "" {
		if err := a.Config.RequireLine(); err != nil {
			return err
		}
		rec.UserID = opts.PushTo
		notifier = a.newMessenger()
	}

	snap := fetcher.Snapshot{
		Ticker:    ticker,
		Name:      "シミュレーション",
		FetchedAt: at,
	}
	if opts.Current > 0 {
		snap.CurrentPrice = decimal.NewNullDecimal(decimal.NewFromFloat(opts.Current))
	}
	if opts.PreviousClose > 0 {
		snap.PreviousClose = decimal.NewNullDecimal(decimal.NewFromFloat(opts.PreviousClose))
	}

	cfg := *a.Config
	cfg.Scheduler.AdvisoryLockKey = 0
	cfg.Evaluator.Cooldown = 0

	svc := service.New(&cfg, nil, staticPriceFetcher{snap: snap}, singleNotificationStore{rec: rec}, nil, notifier, a.Logger)
	report, err := svc.Sweep(ctx, at)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "condition: %s (%s)\n", cond.Describe(), cond.Kind)
	switch {
	case report.Fired > 0:
		fmt.Fprintln(a.Out, "result: fired")
	case report.Skipped > 0:
		fmt.Fprintln(a.Out, "result: skipped (price data missing)")
	case report.DeliveryFailures > 0:
		return errors.New("result: fired but delivery failed")
	default:
		fmt.Fprintln(a.Out, "result: not fired")
	}
	return nil
}

type printNotifier struct {
	out io.Writer
}

func (p *printNotifier) Notify(_ context.Context, note alerting.Notification) error {
	_, err := fmt.Fprintf(p.out, "%s\n%s\n", strings.Repeat("-", 24), alerting.RenderMessage(note))
	return err
}

type staticPriceFetcher struct {
	snap fetcher.Snapshot
}

func (s staticPriceFetcher) FetchSnapshot(_ context.Context, ticker string) (fetcher.Snapshot, error) {
	if ticker != s.snap.Ticker {
		return fetcher.Snapshot{}, fetcher.ErrTickerNotFound
	}
	return s.snap, nil
}

type singleNotificationStore struct {
	rec storage.Notification
}

func (s singleNotificationStore) ListNotifications(context.Context) ([]storage.Notification, error) {
	return []storage.Notification{s.rec}, nil
}

func (s singleNotificationStore) ListNotificationsByUser(_ context.Context, userID string) ([]storage.Notification, error) {
	if userID != s.rec.UserID {
		return nil, nil
	}
	return []storage.Notification{s.rec}, nil
}

func (s singleNotificationStore) InsertNotification(context.Context, string, string, string, condition.Condition) (storage.Notification, error) {
	return storage.Notification{}, errors.New("simulator store is read only")
}

func (s singleNotificationStore) DeleteNotificationsByUserAndTicker(context.Context, string, string) (int64, error) {
	return 0, errors.New("simulator store is read only")
}

func (s singleNotificationStore) DeleteNotificationsByUser(context.Context, string) (int64, error) {
	return 0, errors.New("simulator store is read only")
}

var (
	_ fetcher.PriceFetcher      = staticPriceFetcher{}
	_ storage.NotificationStore = singleNotificationStore{}
	_ alerting.Notifier         = (*printNotifier)(nil)
)
