package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	masterdata "supplier-core/internal/masterdata/domain"
)

// MeteringPointRepository persists metering point master data.
type MeteringPointRepository struct {
	db *sql.DB
}

// NewMeteringPointRepository constructs a repository.
func NewMeteringPointRepository(db *sql.DB) *MeteringPointRepository {
	return &MeteringPointRepository{db: db}
}

// Get loads a metering point by GSRN.
func (r *MeteringPointRepository) Get(ctx context.Context, gsrn string) (*masterdata.MeteringPoint, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("metering point repo: nil db")
	}
	var mp masterdata.MeteringPoint
	err := r.db.QueryRowContext(ctx, `
SELECT gsrn, type, settlement_method, grid_area, price_area,
	street, building_number, post_code, city, updated_at
FROM metering_points
WHERE gsrn = $1`, gsrn).Scan(
		&mp.GSRN,
		&mp.Type,
		&mp.SettlementMethod,
		&mp.GridArea,
		&mp.PriceArea,
		&mp.Address.Street,
		&mp.Address.BuildingNumber,
		&mp.Address.PostCode,
		&mp.Address.City,
		&mp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, masterdata.ErrNotFound
		}
		return nil, err
	}
	mp.UpdatedAt = mp.UpdatedAt.UTC()
	return &mp, nil
}

// Upsert inserts or replaces a metering point.
func (r *MeteringPointRepository) Upsert(ctx context.Context, mp *masterdata.MeteringPoint) error {
	if r == nil || r.db == nil {
		return errors.New("metering point repo: nil db")
	}
	if mp == nil {
		return errors.New("metering point repo: nil metering point")
	}
	if err := mp.Validate(); err != nil {
		return err
	}
	if mp.UpdatedAt.IsZero() {
		mp.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO metering_points (
	gsrn, type, settlement_method, grid_area, price_area,
	street, building_number, post_code, city, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (gsrn)
DO UPDATE SET
	type = EXCLUDED.type,
	settlement_method = EXCLUDED.settlement_method,
	grid_area = EXCLUDED.grid_area,
	price_area = EXCLUDED.price_area,
	street = EXCLUDED.street,
	building_number = EXCLUDED.building_number,
	post_code = EXCLUDED.post_code,
	city = EXCLUDED.city,
	updated_at = EXCLUDED.updated_at`,
		mp.GSRN,
		mp.Type,
		mp.SettlementMethod,
		mp.GridArea,
		mp.PriceArea,
		mp.Address.Street,
		mp.Address.BuildingNumber,
		mp.Address.PostCode,
		mp.Address.City,
		mp.UpdatedAt,
	)
	return err
}

// CustomerRepository persists customers.
type CustomerRepository struct {
	db *sql.DB
}

// NewCustomerRepository constructs a repository.
func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Get loads a customer.
func (r *CustomerRepository) Get(ctx context.Context, id string) (*masterdata.Customer, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("customer repo: nil db")
	}
	var c masterdata.Customer
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, masterdata.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// FindOrCreate inserts c unless a customer with the same id exists.
func (r *CustomerRepository) FindOrCreate(ctx context.Context, c masterdata.Customer) (*masterdata.Customer, bool, error) {
	if r == nil || r.db == nil {
		return nil, false, errors.New("customer repo: nil db")
	}
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO customers (id, name, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, c.ID, c.Name, c.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return &c, true, nil
	}
	existing, err := r.Get(ctx, c.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
