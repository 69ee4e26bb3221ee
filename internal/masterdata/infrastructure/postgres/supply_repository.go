package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	masterdata "supplier-core/internal/masterdata/domain"
)

// SupplyRepository persists supplies.
type SupplyRepository struct {
	db *sql.DB
}

// NewSupplyRepository constructs a repository.
func NewSupplyRepository(db *sql.DB) *SupplyRepository {
	return &SupplyRepository{db: db}
}

const supplyColumns = `id, metering_point, customer_id, product_id, start_at, end_at, created_at, updated_at`

// Get loads a supply by id.
func (r *SupplyRepository) Get(ctx context.Context, id string) (*masterdata.Supply, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("supply repo: nil db")
	}
	return scanSupply(r.db.QueryRowContext(ctx, `SELECT `+supplyColumns+` FROM supplies WHERE id = $1`, id))
}

// FindCovering returns the supply active at t.
func (r *SupplyRepository) FindCovering(ctx context.Context, gsrn string, at time.Time) (*masterdata.Supply, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("supply repo: nil db")
	}
	return scanSupply(r.db.QueryRowContext(ctx, `
SELECT `+supplyColumns+`
FROM supplies
WHERE metering_point = $1
	AND start_at <= $2
	AND (end_at IS NULL OR end_at > $2)
ORDER BY start_at DESC
LIMIT 1`, gsrn, at.UTC()))
}

// FindStarting returns the supply starting exactly at start.
func (r *SupplyRepository) FindStarting(ctx context.Context, gsrn string, start time.Time) (*masterdata.Supply, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("supply repo: nil db")
	}
	return scanSupply(r.db.QueryRowContext(ctx, `
SELECT `+supplyColumns+`
FROM supplies
WHERE metering_point = $1 AND start_at = $2
LIMIT 1`, gsrn, start.UTC()))
}

// ListByMeteringPoint returns supplies ordered by start.
func (r *SupplyRepository) ListByMeteringPoint(ctx context.Context, gsrn string) ([]masterdata.Supply, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("supply repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+supplyColumns+`
FROM supplies
WHERE metering_point = $1
ORDER BY start_at ASC`, gsrn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Supply
	for rows.Next() {
		s, err := scanSupply(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts a supply.
func (r *SupplyRepository) Create(ctx context.Context, s *masterdata.Supply) error {
	if r == nil || r.db == nil {
		return errors.New("supply repo: nil db")
	}
	if s == nil {
		return errors.New("supply repo: nil supply")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
INSERT INTO supplies (`+supplyColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.MeteringPoint, nullString(s.CustomerID), nullString(s.ProductID),
		s.Start.UTC(), nullTime(s.End), s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// Update writes the mutable supply fields.
func (r *SupplyRepository) Update(ctx context.Context, s *masterdata.Supply) error {
	if r == nil || r.db == nil {
		return errors.New("supply repo: nil db")
	}
	if s == nil {
		return errors.New("supply repo: nil supply")
	}
	s.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE supplies
SET customer_id = $1, product_id = $2, end_at = $3, updated_at = $4
WHERE id = $5`,
		nullString(s.CustomerID), nullString(s.ProductID), nullTime(s.End), s.UpdatedAt, s.ID,
	)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSupply(row rowScanner) (*masterdata.Supply, error) {
	var (
		s          masterdata.Supply
		customerID sql.NullString
		productID  sql.NullString
		end        sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.MeteringPoint,
		&customerID,
		&productID,
		&s.Start,
		&end,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, masterdata.ErrNotFound
		}
		return nil, err
	}
	s.CustomerID = customerID.String
	s.ProductID = productID.String
	s.Start = s.Start.UTC()
	if end.Valid {
		s.End = end.Time.UTC()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
