package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cratio-alerts/internal/registry"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertRatioSampleSQL = `INSERT INTO ratio_samples (
        account,
        ratio,
        observed_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (account, observed_at) DO UPDATE
    SET ratio = EXCLUDED.ratio;`

	listAccountSamplesBetweenSQL = `SELECT
        account,
        ratio,
        observed_at,
        created_at
    FROM ratio_samples
    WHERE account = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentSamplesSQL = `SELECT
        account,
        ratio,
        observed_at,
        created_at
    FROM ratio_samples
    ORDER BY observed_at DESC
    LIMIT $1;`

	insertAlertSQL = `INSERT INTO alerts (
        account,
        kind,
        ratio,
        message
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, account, kind, ratio, message, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        account,
        kind,
        ratio,
        message,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	upsertSubscriberSQL = `INSERT INTO subscribers (
        account,
        telegram_chat_id,
        phone,
        email,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (account) DO UPDATE
    SET telegram_chat_id = EXCLUDED.telegram_chat_id,
        phone            = EXCLUDED.phone,
        email            = EXCLUDED.email;`

	deleteSubscriberSQL = `DELETE FROM subscribers WHERE account = $1;`

	listSubscribersSQL = `SELECT
        account,
        telegram_chat_id,
        phone,
        email,
        created_at
    FROM subscribers
    ORDER BY created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RatioSampleStore defines operations for sample persistence.
type RatioSampleStore interface {
	UpsertRatioSample(ctx context.Context, sample RatioSample) error
	ListAccountSamplesBetween(ctx context.Context, account string, from, to time.Time) ([]RatioSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]RatioSample, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples, alerts and the subscriber
// directory. It also satisfies registry.Store.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
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

// UpsertRatioSample persists or updates a ratio sample.
func (s *Store) UpsertRatioSample(ctx context.Context, sample RatioSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertRatioSampleSQL,
		sample.Account,
		sample.Ratio.String(),
		sample.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert ratio sample: %w", execErr)
	}
	return nil
}

// ListAccountSamplesBetween lists one account's samples within a window.
func (s *Store) ListAccountSamplesBetween(ctx context.Context, account string, from, to time.Time) ([]RatioSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAccountSamplesBetweenSQL, account, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list account samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RatioSample, 0)
	for rows.Next() {
		sample, scanErr := scanRatioSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples across all accounts.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]RatioSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RatioSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanRatioSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRatioSample(row rowScanner) (RatioSample, error) {
	var sample RatioSample
	var ratioStr string
	if err := row.Scan(
		&sample.Account,
		&ratioStr,
		&sample.ObservedAt,
		&sample.CreatedAt,
	); err != nil {
		return RatioSample{}, err
	}

	ratio, convErr := decimal.NewFromString(ratioStr)
	if convErr != nil {
		return RatioSample{}, fmt.Errorf("parse ratio: %w", convErr)
	}
	sample.Ratio = ratio
	return sample, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Account,
		alert.Kind,
		alert.Ratio.String(),
		alert.Message,
	)

	var rec AlertRecord
	var ratioStr string
	if scanErr := row.Scan(
		&rec.ID,
		&rec.Account,
		&rec.Kind,
		&ratioStr,
		&rec.Message,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}

	ratio, convErr := decimal.NewFromString(ratioStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse ratio: %w", convErr)
	}
	rec.Ratio = ratio

	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var ratioStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.Account,
			&rec.Kind,
			&ratioStr,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		ratio, convErr := decimal.NewFromString(ratioStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse ratio: %w", convErr)
		}
		rec.Ratio = ratio

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// UpsertSubscriber persists a directory entry.
func (s *Store) UpsertSubscriber(ctx context.Context, sub registry.Subscriber) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSubscriberSQL,
		sub.Account,
		sub.TelegramChatID,
		sub.Phone,
		sub.Email,
		sub.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert subscriber: %w", execErr)
	}
	return nil
}

// DeleteSubscriber removes a directory entry.
func (s *Store) DeleteSubscriber(ctx context.Context, account string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSubscriberSQL, account); execErr != nil {
		return fmt.Errorf("delete subscriber: %w", execErr)
	}
	return nil
}

// ListSubscribers returns the persisted directory.
func (s *Store) ListSubscribers(ctx context.Context) ([]registry.Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSubscribersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscribers: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]registry.Subscriber, 0)
	for rows.Next() {
		var sub registry.Subscriber
		if err := rows.Scan(
			&sub.Account,
			&sub.TelegramChatID,
			&sub.Phone,
			&sub.Email,
			&sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

var _ registry.Store = (*Store)(nil)
