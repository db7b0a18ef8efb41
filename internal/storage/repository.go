package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"kabu-alerts/internal/condition"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotActionable rejects conditions that must never be stored.
	ErrNotActionable = errors.New("storage: condition is not actionable")
)

const (
	insertNotificationSQL = `INSERT INTO notifications (
        user_id,
        display_name,
        ticker,
        condition_type,
        condition
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, user_id, display_name, ticker, condition_type, condition, created_at;`

	listNotificationsSQL = `SELECT
        id,
        user_id,
        display_name,
        ticker,
        condition_type,
        condition,
        created_at
    FROM notifications
    ORDER BY id;`

	listNotificationsByUserSQL = `SELECT
        id,
        user_id,
        display_name,
        ticker,
        condition_type,
        condition,
        created_at
    FROM notifications
    WHERE user_id = $1
    ORDER BY id;`

	deleteNotificationsByUserAndTickerSQL = `DELETE FROM notifications WHERE user_id = $1 AND ticker = $2;`

	deleteNotificationsByUserSQL = `DELETE FROM notifications WHERE user_id = $1;`

	getSessionSQL = `SELECT user_id, selected_ticker, updated_at FROM user_sessions WHERE user_id = $1;`

	upsertSessionSQL = `INSERT INTO user_sessions (user_id, selected_ticker, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (user_id) DO UPDATE
    SET selected_ticker = EXCLUDED.selected_ticker,
        updated_at      = EXCLUDED.updated_at;`

	clearSessionSQL = `DELETE FROM user_sessions WHERE user_id = $1;`

	insertFireSQL = `INSERT INTO notification_fires (
        notification_id,
        user_id,
        ticker,
        condition_type,
        current_price,
        change_pct,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id;`

	listRecentFiresSQL = `SELECT
        id,
        notification_id,
        user_id,
        ticker,
        condition_type,
        current_price::text,
        change_pct::text,
        fired_at
    FROM notification_fires
    ORDER BY fired_at DESC
    LIMIT $1;`

	listFiresBetweenSQL = `SELECT
        id,
        notification_id,
        user_id,
        ticker,
        condition_type,
        current_price::text,
        change_pct::text,
        fired_at
    FROM notification_fires
    WHERE fired_at >= $1
      AND fired_at < $2
    ORDER BY fired_at;`

	lastFiredAtSQL = `SELECT max(fired_at) FROM notification_fires WHERE notification_id = $1;`

	deleteFiresBeforeSQL = `DELETE FROM notification_fires WHERE fired_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NotificationStore defines the operations on stored alert rules.
type NotificationStore interface {
	ListNotifications(ctx context.Context) ([]Notification, error)
	ListNotificationsByUser(ctx context.Context, userID string) ([]Notification, error)
	InsertNotification(ctx context.Context, userID, displayName, ticker string, cond condition.Condition) (Notification, error)
	DeleteNotificationsByUserAndTicker(ctx context.Context, userID, ticker string) (int64, error)
	DeleteNotificationsByUser(ctx context.Context, userID string) (int64, error)
}

// SessionStore persists the "awaiting condition" state per user.
type SessionStore interface {
	GetSession(ctx context.Context, userID string) (Session, bool, error)
	SetSelectedTicker(ctx context.Context, userID, ticker string) error
	ClearSession(ctx context.Context, userID string) error
}

// FireStore records delivered notifications.
type FireStore interface {
	InsertFire(ctx context.Context, fire FireRecord) (int64, error)
	ListRecentFires(ctx context.Context, limit int) ([]FireRecord, error)
	ListFiresBetween(ctx context.Context, from, to time.Time) ([]FireRecord, error)
	LastFiredAt(ctx context.Context, notificationID int64) (time.Time, bool, error)
	DeleteFiresBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to notifications, sessions and fire history.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock also goes away with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertNotification stores a new rule. Unknown conditions are rejected.
func (s *Store) InsertNotification(ctx context.Context, userID, displayName, ticker string, cond condition.Condition) (Notification, error) {
	if !cond.Actionable() {
		return Notification{}, ErrNotActionable
	}
	pool, err := s.getPool()
	if err != nil {
		return Notification{}, err
	}

	payload, err := json.Marshal(cond)
	if err != nil {
		return Notification{}, fmt.Errorf("encode condition: %w", err)
	}

	row := pool.QueryRow(ctx, insertNotificationSQL, userID, displayName, ticker, cond.Kind.String(), payload)
	rec, err := scanNotification(row)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return rec, nil
}

// ListNotifications returns every stored rule.
func (s *Store) ListNotifications(ctx context.Context) ([]Notification, error) {
	return s.queryNotifications(ctx, "list notifications", listNotificationsSQL)
}

// ListNotificationsByUser returns the rules owned by userID.
func (s *Store) ListNotificationsByUser(ctx context.Context, userID string) ([]Notification, error) {
	return s.queryNotifications(ctx, "list user notifications", listNotificationsByUserSQL, userID)
}

func (s *Store) queryNotifications(ctx context.Context, op, query string, args ...any) ([]Notification, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	records := make([]Notification, 0)
	for rows.Next() {
		rec, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}
	return records, nil
}

// DeleteNotificationsByUserAndTicker removes the user's rules for one ticker.
func (s *Store) DeleteNotificationsByUserAndTicker(ctx context.Context, userID, ticker string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteNotificationsByUserAndTickerSQL, userID, ticker)
	if execErr != nil {
		return 0, fmt.Errorf("delete notifications by ticker: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// DeleteNotificationsByUser removes every rule owned by userID.
func (s *Store) DeleteNotificationsByUser(ctx context.Context, userID string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteNotificationsByUserSQL, userID)
	if execErr != nil {
		return 0, fmt.Errorf("delete notifications by user: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// GetSession loads the user's conversation state.
func (s *Store) GetSession(ctx context.Context, userID string) (Session, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Session{}, false, err
	}
	var sess Session
	scanErr := pool.QueryRow(ctx, getSessionSQL, userID).Scan(&sess.UserID, &sess.SelectedTicker, &sess.UpdatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Session{UserID: userID}, false, nil
	}
	if scanErr != nil {
		return Session{}, false, fmt.Errorf("get session: %w", scanErr)
	}
	return sess, true, nil
}

// SetSelectedTicker marks the user as awaiting a condition for ticker.
func (s *Store) SetSelectedTicker(ctx context.Context, userID, ticker string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSessionSQL, userID, ticker); execErr != nil {
		return fmt.Errorf("set selected ticker: %w", execErr)
	}
	return nil
}

// ClearSession forgets the user's selected ticker.
func (s *Store) ClearSession(ctx context.Context, userID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, clearSessionSQL, userID); execErr != nil {
		return fmt.Errorf("clear session: %w", execErr)
	}
	return nil
}

// InsertFire records a delivered notification.
func (s *Store) InsertFire(ctx context.Context, fire FireRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	firedAt := fire.FiredAt
	if firedAt.IsZero() {
		firedAt = time.Now().UTC()
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertFireSQL,
		fire.NotificationID,
		fire.UserID,
		fire.Ticker,
		fire.Kind,
		nullableDecimal(fire.CurrentPrice),
		nullableDecimal(fire.ChangePct),
		firedAt,
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert fire: %w", scanErr)
	}
	return id, nil
}

// ListRecentFires lists the most recent fires, newest first.
func (s *Store) ListRecentFires(ctx context.Context, limit int) ([]FireRecord, error) {
	return s.queryFires(ctx, "list recent fires", listRecentFiresSQL, limit)
}

// ListFiresBetween lists fires within a time window.
func (s *Store) ListFiresBetween(ctx context.Context, from, to time.Time) ([]FireRecord, error) {
	return s.queryFires(ctx, "list fires between", listFiresBetweenSQL, from, to)
}

func (s *Store) queryFires(ctx context.Context, op, query string, args ...any) ([]FireRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	fires := make([]FireRecord, 0)
	for rows.Next() {
		fire, scanErr := scanFire(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		fires = append(fires, fire)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}
	return fires, nil
}

// LastFiredAt returns when the notification last fired, if ever.
func (s *Store) LastFiredAt(ctx context.Context, notificationID int64) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var last *time.Time
	if scanErr := pool.QueryRow(ctx, lastFiredAtSQL, notificationID).Scan(&last); scanErr != nil {
		return time.Time{}, false, fmt.Errorf("last fired at: %w", scanErr)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// DeleteFiresBefore prunes fire history.
func (s *Store) DeleteFiresBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteFiresBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete fires before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var rec Notification
	var payload []byte
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.DisplayName,
		&rec.Ticker,
		&rec.Kind,
		&payload,
		&rec.CreatedAt,
	); err != nil {
		return Notification{}, err
	}
	rec.ConditionJSON = json.RawMessage(payload)
	return rec, nil
}

func scanFire(rows pgx.Rows) (FireRecord, error) {
	var (
		fire     FireRecord
		priceStr sql.NullString
		pctStr   sql.NullString
	)
	if err := rows.Scan(
		&fire.ID,
		&fire.NotificationID,
		&fire.UserID,
		&fire.Ticker,
		&fire.Kind,
		&priceStr,
		&pctStr,
		&fire.FiredAt,
	); err != nil {
		return FireRecord{}, err
	}

	var err error
	if fire.CurrentPrice, err = parseNullDecimal(priceStr); err != nil {
		return FireRecord{}, fmt.Errorf("parse current price: %w", err)
	}
	if fire.ChangePct, err = parseNullDecimal(pctStr); err != nil {
		return FireRecord{}, fmt.Errorf("parse change pct: %w", err)
	}
	return fire, nil
}

func nullableDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(v sql.NullString) (decimal.NullDecimal, error) {
	if !v.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var (
	_ NotificationStore = (*Store)(nil)
	_ SessionStore      = (*Store)(nil)
	_ FireStore         = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
