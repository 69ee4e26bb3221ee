package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	masterdata "supplier-core/internal/masterdata/domain"
)

// TimeSeriesRepository persists versioned time series.
type TimeSeriesRepository struct {
	db *sql.DB
}

// NewTimeSeriesRepository constructs a repository.
func NewTimeSeriesRepository(db *sql.DB) *TimeSeriesRepository {
	return &TimeSeriesRepository{db: db}
}

const timeSeriesColumns = `id, metering_point, period_start, period_end, resolution, version, is_latest, transaction_id, received_at`

// Append stores ts as the latest version. The previous latest rows of
// overlapping periods lose the flag in the same transaction, which runs under
// a per-metering-point advisory lock.
func (r *TimeSeriesRepository) Append(ctx context.Context, ts *masterdata.TimeSeries) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("time series repo: nil db")
	}
	if ts == nil {
		return false, errors.New("time series repo: nil time series")
	}
	if ts.ID == "" {
		ts.ID = uuid.NewString()
	}
	if err := ts.Validate(); err != nil {
		return false, err
	}
	if ts.ReceivedAt.IsZero() {
		ts.ReceivedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ts.MeteringPoint); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	var latestID sql.NullString
	var maxVersion int
	err = tx.QueryRowContext(ctx, `
SELECT
	COALESCE(MAX(version), 0),
	(SELECT id FROM time_series
	 WHERE metering_point = $1 AND is_latest AND period_start = $2 AND period_end = $3
	 LIMIT 1)
FROM time_series
WHERE metering_point = $1 AND period_start < $3 AND period_end > $2`,
		ts.MeteringPoint, ts.PeriodStart.UTC(), ts.PeriodEnd.UTC(),
	).Scan(&maxVersion, &latestID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}

	if latestID.Valid {
		current := &masterdata.TimeSeries{ID: latestID.String, PeriodStart: ts.PeriodStart, PeriodEnd: ts.PeriodEnd}
		if err := loadObservations(ctx, tx, current); err != nil {
			_ = tx.Rollback()
			return false, err
		}
		if current.SameData(*ts) {
			_ = tx.Rollback()
			stored, err := r.Get(ctx, latestID.String)
			if err != nil {
				return false, err
			}
			*ts = *stored
			return false, nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE time_series
SET is_latest = FALSE
WHERE metering_point = $1 AND is_latest AND period_start < $3 AND period_end > $2`,
		ts.MeteringPoint, ts.PeriodStart.UTC(), ts.PeriodEnd.UTC(),
	); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	ts.Version = maxVersion + 1
	ts.IsLatest = true
	if _, err := tx.ExecContext(ctx, `
INSERT INTO time_series (`+timeSeriesColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8)`,
		ts.ID, ts.MeteringPoint, ts.PeriodStart.UTC(), ts.PeriodEnd.UTC(), ts.Resolution,
		ts.Version, nullString(ts.TransactionID), ts.ReceivedAt,
	); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	for i, o := range ts.Observations {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO time_series_observations (time_series_id, position, at, quantity, quality)
VALUES ($1, $2, $3, $4, $5)`, ts.ID, i+1, o.Timestamp.UTC(), o.Quantity, o.Quality); err != nil {
			_ = tx.Rollback()
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Get loads a version with its observations.
func (r *TimeSeriesRepository) Get(ctx context.Context, id string) (*masterdata.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("time series repo: nil db")
	}
	ts, err := scanTimeSeries(r.db.QueryRowContext(ctx, `SELECT `+timeSeriesColumns+` FROM time_series WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := loadObservations(ctx, r.db, ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// ListUnsettled returns latest unsettled versions, least recently checked first.
func (r *TimeSeriesRepository) ListUnsettled(ctx context.Context, limit int) ([]*masterdata.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("time series repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+timeSeriesColumns+`
FROM time_series
WHERE is_latest AND settled_at IS NULL
ORDER BY checked_at ASC NULLS FIRST, received_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	var result []*masterdata.TimeSeries
	for rows.Next() {
		ts, err := scanTimeSeries(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, ts)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for _, ts := range result {
		if err := loadObservations(ctx, r.db, ts); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// MarkSettled excludes the version from ListUnsettled.
func (r *TimeSeriesRepository) MarkSettled(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("time series repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `UPDATE time_series SET settled_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return masterdata.ErrNotFound
	}
	return nil
}

// MarkChecked records a settlement attempt that could not complete.
func (r *TimeSeriesRepository) MarkChecked(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("time series repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `UPDATE time_series SET checked_at = $1 WHERE id = $2`, at.UTC(), id)
	return err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadObservations(ctx context.Context, q queryer, ts *masterdata.TimeSeries) error {
	rows, err := q.QueryContext(ctx, `
SELECT at, quantity, quality
FROM time_series_observations
WHERE time_series_id = $1
ORDER BY position ASC`, ts.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	ts.Observations = ts.Observations[:0]
	for rows.Next() {
		var o masterdata.Observation
		if err := rows.Scan(&o.Timestamp, &o.Quantity, &o.Quality); err != nil {
			return err
		}
		o.Timestamp = o.Timestamp.UTC()
		ts.Observations = append(ts.Observations, o)
	}
	return rows.Err()
}

func scanTimeSeries(row rowScanner) (*masterdata.TimeSeries, error) {
	var (
		ts            masterdata.TimeSeries
		transactionID sql.NullString
	)
	if err := row.Scan(
		&ts.ID,
		&ts.MeteringPoint,
		&ts.PeriodStart,
		&ts.PeriodEnd,
		&ts.Resolution,
		&ts.Version,
		&ts.IsLatest,
		&transactionID,
		&ts.ReceivedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, masterdata.ErrNotFound
		}
		return nil, err
	}
	ts.TransactionID = transactionID.String
	ts.PeriodStart = ts.PeriodStart.UTC()
	ts.PeriodEnd = ts.PeriodEnd.UTC()
	ts.ReceivedAt = ts.ReceivedAt.UTC()
	return &ts, nil
}
