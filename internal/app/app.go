package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"kabu-alerts/internal/alerting"
	"kabu-alerts/internal/chat"
	"kabu-alerts/internal/config"
	"kabu-alerts/internal/fetcher"
	"kabu-alerts/internal/scheduler"
	"kabu-alerts/internal/service"
	"kabu-alerts/internal/storage"
	"kabu-alerts/internal/webhook"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newYahoo() *fetcher.Yahoo {
	return fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:       a.Config.Market.BaseURL,
		DetailURLBase: a.Config.Market.DetailURLBase,
		Timeout:       a.Config.Market.RequestTimeout,
		UserAgent:     a.Config.Market.UserAgent,
		MaxCandidates: a.Config.Market.MaxCandidates,
	}, a.Logger)
}

func (a *App) newMessenger() *alerting.LineMessenger {
	return alerting.NewLineMessenger(alerting.LineOptions{
		AccessToken:    a.Config.Line.ChannelAccessToken,
		APIBase:        a.Config.Line.APIBase,
		Timeout:        a.Config.Line.RequestTimeout,
		PushRatePerSec: a.Config.Line.PushRatePerSec,
		PushBurst:      a.Config.Line.PushBurst,
	}, a.Logger)
}

func (a *App) newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

// Run serves the LINE webhook and trigger endpoint, and sweeps on a timer when
// the scheduler is enabled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.RequireWebhook(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if a.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	yahoo := a.newYahoo()
	messenger := a.newMessenger()

	var sched *scheduler.Scheduler
	if a.Config.Scheduler.Enabled {
		sched = a.newScheduler()
	}
	svc := service.New(a.Config, sched, yahoo, store, store, messenger, a.Logger)
	handler := chat.NewHandler(store, store, yahoo, yahoo, messenger, a.Logger)
	server := webhook.NewServer(webhook.Options{
		Addr:            a.Config.Server.Addr,
		ChannelSecret:   a.Config.Line.ChannelSecret,
		TriggerToken:    a.Config.Server.TriggerToken,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, handler, svc, messenger, a.Logger)

	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- server.Run(ctx) }()
	if sched != nil {
		running++
		go func() { errCh <- svc.Run(ctx) }()
	} else {
		a.Logger.Info().Msg("scheduler disabled; sweeps run only via POST /notify or the sweep command")
	}

	a.Logger.Info().Str("addr", a.Config.Server.Addr).Bool("scheduler", sched != nil).Msg("starting alert service")

	var firstErr error
	for i := 0; i < running; i++ {
		err := <-errCh
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		a.Logger.Error().Err(firstErr).Msg("alert service terminated with error")
		return firstErr
	}

	a.Logger.Info().Msg("alert service stopped")
	return nil
}

// Sweep runs one evaluation pass and prints its report.
func (a *App) Sweep(ctx context.Context, at time.Time) error {
	if err := a.Config.RequireLine(); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.New(a.Config, nil, a.newYahoo(), store, store, a.newMessenger(), a.Logger)
	report, err := svc.Sweep(ctx, at)
	if err != nil {
		return err
	}
	return writeJSON(a.Out, report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// ExportOptions hold parameters for exporting fire history.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	Ticker  string
	PNGPath string
	CSVPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	UserID string
	Fires  bool
}

// PreviewOptions configure the schedule preview.
type PreviewOptions struct {
	From time.Time
	To   time.Time
	// Text previews an ad-hoc condition instead of the stored ones.
	Text string
}

// SimulateOptions describe a synthetic snapshot to run one rule against.
type SimulateOptions struct {
	Text          string
	Ticker        string
	Current       float64
	PreviousClose float64
	At            time.Time
	// PushTo delivers the rendered message over LINE instead of printing it.
	PushTo string
}
