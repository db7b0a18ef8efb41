package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kabu-alerts/internal/alerting"
	"kabu-alerts/internal/config"
	"kabu-alerts/internal/evaluator"
	"kabu-alerts/internal/fetcher"
	"kabu-alerts/internal/scheduler"
	"kabu-alerts/internal/storage"
)

// SweepReport summarises one pass over the stored notifications.
type SweepReport struct {
	At               time.Time `json:"at"`
	Evaluated        int       `json:"evaluated"`
	Fired            int       `json:"fired"`
	Skipped          int       `json:"skipped"`
	Suppressed       int       `json:"suppressed"`
	DeliveryFailures int       `json:"delivery_failures"`
	// LockHeld is set when another instance was already sweeping.
	LockHeld bool `json:"lock_held"`
}

// Service evaluates stored notifications against live prices and delivers the ones that fire.
type Service struct {
	scheduler *scheduler.Scheduler
	prices    fetcher.PriceFetcher
	store     storage.NotificationStore
	fires     storage.FireStore
	notifier  alerting.Notifier
	eval      *evaluator.Evaluator
	logger    zerolog.Logger

	cooldown  time.Duration
	retention time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the sweep service. fires may be nil, which disables fire history and cooldown.
func New(cfg *config.Config, sched *scheduler.Scheduler, prices fetcher.PriceFetcher, store storage.NotificationStore, fires storage.FireStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		prices:    prices,
		store:     store,
		fires:     fires,
		notifier:  notifier,
		eval:      evaluator.New(evaluator.LoadLocation(cfg.Evaluator.Timezone)),
		logger:    logger.With().Str("component", "service").Logger(),
		cooldown:  cfg.Evaluator.Cooldown,
		retention: cfg.Evaluator.FireRetention,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run sweeps on the scheduler's cadence until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.Sweep(ctx, at)
		return err
	})
}

// Sweep evaluates every stored notification once at now. Only a failure to
// read the notification list is returned; per-record lookup and delivery
// failures are logged and counted.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	report := SweepReport{At: now}
	if s.store == nil {
		return report, fmt.Errorf("notification store not configured")
	}
	if s.prices == nil || s.notifier == nil {
		return report, fmt.Errorf("price fetcher and notifier are required")
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		s.logger.Debug().Time("at", now).Msg("skip sweep because advisory lock held elsewhere")
		report.LockHeld = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	records, err := s.store.ListNotifications(ctx)
	if err != nil {
		return report, fmt.Errorf("list notifications: %w", err)
	}

	snapshots := newSnapshotCache(s.prices)
	for _, rec := range records {
		report.Evaluated++
		s.processRecord(ctx, now, rec, snapshots, &report)
	}

	s.pruneFires(ctx, now)

	s.logger.Info().Time("at", now).
		Int("evaluated", report.Evaluated).
		Int("fired", report.Fired).
		Int("skipped", report.Skipped).
		Int("suppressed", report.Suppressed).
		Int("delivery_failures", report.DeliveryFailures).
		Msg("sweep finished")
	return report, nil
}

func (s *Service) processRecord(ctx context.Context, now time.Time, rec storage.Notification, snapshots *snapshotCache, report *SweepReport) {
	log := s.logger.With().Int64("notification_id", rec.ID).Str("ticker", rec.Ticker).Logger()

	cond, err := rec.DecodeCondition()
	if err != nil {
		log.Warn().Err(err).Msg("skip notification with undecodable condition")
		report.Skipped++
		return
	}

	snap, err := snapshots.get(ctx, rec.Ticker)
	if err != nil {
		log.Warn().Err(err).Msg("skip notification because price lookup failed")
		report.Skipped++
		return
	}

	decision := s.eval.Evaluate(cond, snap, now)
	if decision.Skipped {
		log.Debug().Str("reason", decision.SkipReason).Msg("skip notification")
		report.Skipped++
		return
	}
	if !decision.Fired {
		return
	}

	if s.coolingDown(ctx, rec.ID, now) {
		log.Debug().Dur("cooldown", s.cooldown).Msg("suppress notification within cooldown")
		report.Suppressed++
		return
	}

	note := alerting.Notification{
		UserID:    rec.UserID,
		Ticker:    rec.Ticker,
		Condition: cond,
		Snapshot:  snap,
		Direction: directionLabel(decision.Direction),
		ChangePct: decision.ChangePct,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Str("user_id", rec.UserID).Msg("failed to dispatch notification")
		report.DeliveryFailures++
		return
	}
	report.Fired++

	if s.fires == nil {
		return
	}
	fire := storage.FireRecord{
		NotificationID: rec.ID,
		UserID:         rec.UserID,
		Ticker:         rec.Ticker,
		Kind:           cond.Kind.String(),
		CurrentPrice:   snap.CurrentPrice,
		ChangePct:      decision.ChangePct,
		FiredAt:        now.UTC(),
	}
	if _, err := s.fires.InsertFire(ctx, fire); err != nil {
		log.Error().Err(err).Msg("failed to persist fire record")
	}
}

func (s *Service) coolingDown(ctx context.Context, notificationID int64, now time.Time) bool {
	if s.cooldown <= 0 || s.fires == nil {
		return false
	}
	last, found, err := s.fires.LastFiredAt(ctx, notificationID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("notification_id", notificationID).Msg("cooldown lookup failed; delivering anyway")
		return false
	}
	return found && now.Sub(last) < s.cooldown
}

func (s *Service) pruneFires(ctx context.Context, now time.Time) {
	if s.retention <= 0 || s.fires == nil {
		return
	}
	removed, err := s.fires.DeleteFiresBefore(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune fire history")
		return
	}
	if removed > 0 {
		s.logger.Debug().Int64("removed", removed).Msg("pruned fire history")
	}
}

func directionLabel(d evaluator.Direction) string {
	switch d {
	case evaluator.Up:
		return alerting.DirectionUp
	case evaluator.Down:
		return alerting.DirectionDown
	default:
		return ""
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// snapshotCache fetches each ticker at most once per sweep, failures included.
type snapshotCache struct {
	prices  fetcher.PriceFetcher
	entries map[string]snapshotEntry
}

type snapshotEntry struct {
	snap fetcher.Snapshot
	err  error
}

func newSnapshotCache(prices fetcher.PriceFetcher) *snapshotCache {
	return &snapshotCache{prices: prices, entries: make(map[string]snapshotEntry)}
}

func (c *snapshotCache) get(ctx context.Context, ticker string) (fetcher.Snapshot, error) {
	if entry, ok := c.entries[ticker]; ok {
		return entry.snap, entry.err
	}
	snap, err := c.prices.FetchSnapshot(ctx, ticker)
	c.entries[ticker] = snapshotEntry{snap: snap, err: err}
	return snap, err
}
