package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	masterdata "supplier-core/internal/masterdata/domain"
)

// PriceRepository persists prices and their time-varying points.
type PriceRepository struct {
	db *sql.DB
}

// NewPriceRepository constructs a repository.
func NewPriceRepository(db *sql.DB) *PriceRepository {
	return &PriceRepository{db: db}
}

const priceColumns = `id, charge_id, owner_gln, price_type, description, valid_from, valid_to, resolution, rate, updated_at`

// Get loads a price with its points.
func (r *PriceRepository) Get(ctx context.Context, id string) (*masterdata.Price, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("price repo: nil db")
	}
	p, err := scanPrice(r.db.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM prices WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadPoints(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByCharge loads a price by its charge identity.
func (r *PriceRepository) FindByCharge(ctx context.Context, chargeID, ownerGLN string, priceType masterdata.PriceType) (*masterdata.Price, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("price repo: nil db")
	}
	p, err := scanPrice(r.db.QueryRowContext(ctx, `
SELECT `+priceColumns+`
FROM prices
WHERE charge_id = $1 AND owner_gln = $2 AND price_type = $3`, chargeID, ownerGLN, string(priceType)))
	if err != nil {
		return nil, err
	}
	if err := r.loadPoints(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Upsert stores the price and replaces its points in one transaction.
func (r *PriceRepository) Upsert(ctx context.Context, p *masterdata.Price) error {
	if r == nil || r.db == nil {
		return errors.New("price repo: nil db")
	}
	if p == nil {
		return errors.New("price repo: nil price")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var id string
	err = tx.QueryRowContext(ctx, `
INSERT INTO prices (`+priceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (charge_id, owner_gln, price_type)
DO UPDATE SET
	description = EXCLUDED.description,
	valid_from = EXCLUDED.valid_from,
	valid_to = EXCLUDED.valid_to,
	resolution = EXCLUDED.resolution,
	rate = EXCLUDED.rate,
	updated_at = EXCLUDED.updated_at
RETURNING id`,
		p.ID, p.ChargeID, p.OwnerGLN, string(p.Type), p.Description,
		p.ValidFrom.UTC(), nullTime(p.ValidTo), p.Resolution, p.Rate, p.UpdatedAt,
	).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	p.ID = id
	if _, err := tx.ExecContext(ctx, `DELETE FROM price_points WHERE price_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, pt := range p.Points {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO price_points (price_id, at, price)
VALUES ($1, $2, $3)`, id, pt.Timestamp.UTC(), pt.Price); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *PriceRepository) loadPoints(ctx context.Context, p *masterdata.Price) error {
	rows, err := r.db.QueryContext(ctx, `
SELECT at, price
FROM price_points
WHERE price_id = $1
ORDER BY at ASC`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var pt masterdata.PricePoint
		if err := rows.Scan(&pt.Timestamp, &pt.Price); err != nil {
			return err
		}
		pt.Timestamp = pt.Timestamp.UTC()
		p.Points = append(p.Points, pt)
	}
	return rows.Err()
}

func scanPrice(row rowScanner) (*masterdata.Price, error) {
	var (
		p         masterdata.Price
		priceType string
		validTo   sql.NullTime
	)
	if err := row.Scan(
		&p.ID,
		&p.ChargeID,
		&p.OwnerGLN,
		&priceType,
		&p.Description,
		&p.ValidFrom,
		&validTo,
		&p.Resolution,
		&p.Rate,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, masterdata.ErrNotFound
		}
		return nil, err
	}
	p.Type = masterdata.PriceType(priceType)
	p.ValidFrom = p.ValidFrom.UTC()
	if validTo.Valid {
		p.ValidTo = validTo.Time.UTC()
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// PriceLinkRepository persists price links.
type PriceLinkRepository struct {
	db *sql.DB
}

// NewPriceLinkRepository constructs a repository.
func NewPriceLinkRepository(db *sql.DB) *PriceLinkRepository {
	return &PriceLinkRepository{db: db}
}

// ListOverlapping returns links of gsrn overlapping period.
func (r *PriceLinkRepository) ListOverlapping(ctx context.Context, gsrn string, period masterdata.Period) ([]masterdata.PriceLink, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("price link repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, metering_point, price_id, valid_from, valid_to
FROM price_links
WHERE metering_point = $1
	AND ($3::timestamptz IS NULL OR valid_from < $3)
	AND (valid_to IS NULL OR valid_to > $2)
ORDER BY valid_from ASC, price_id ASC`, gsrn, period.Start.UTC(), nullTime(period.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.PriceLink
	for rows.Next() {
		var (
			l       masterdata.PriceLink
			validTo sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.MeteringPoint, &l.PriceID, &l.ValidFrom, &validTo); err != nil {
			return nil, err
		}
		l.ValidFrom = l.ValidFrom.UTC()
		if validTo.Valid {
			l.ValidTo = validTo.Time.UTC()
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert stores l keyed by (metering point, price, valid from).
func (r *PriceLinkRepository) Upsert(ctx context.Context, l *masterdata.PriceLink) error {
	if r == nil || r.db == nil {
		return errors.New("price link repo: nil db")
	}
	if l == nil {
		return errors.New("price link repo: nil link")
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return r.db.QueryRowContext(ctx, `
INSERT INTO price_links (id, metering_point, price_id, valid_from, valid_to)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (metering_point, price_id, valid_from)
DO UPDATE SET valid_to = EXCLUDED.valid_to
RETURNING id`,
		l.ID, l.MeteringPoint, l.PriceID, l.ValidFrom.UTC(), nullTime(l.ValidTo),
	).Scan(&l.ID)
}

// ProductRepository reads products and their margin rates.
type ProductRepository struct {
	db *sql.DB
}

// NewProductRepository constructs a repository.
func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Get loads a product with its rates.
func (r *ProductRepository) Get(ctx context.Context, id string) (*masterdata.Product, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("product repo: nil db")
	}
	var (
		p     masterdata.Product
		model string
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, pricing_model FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, masterdata.ErrNotFound
		}
		return nil, err
	}
	p.PricingModel = masterdata.PricingModel(model)

	rows, err := r.db.QueryContext(ctx, `
SELECT start_at, end_at, rate
FROM product_rates
WHERE product_id = $1
ORDER BY start_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rate masterdata.MarginRate
			end  sql.NullTime
		)
		if err := rows.Scan(&rate.Start, &end, &rate.Rate); err != nil {
			return nil, err
		}
		rate.Start = rate.Start.UTC()
		if end.Valid {
			rate.End = end.Time.UTC()
		}
		p.Rates = append(p.Rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SpotPriceRepository persists hourly spot prices in DKK/MWh.
type SpotPriceRepository struct {
	db *sql.DB
}

// NewSpotPriceRepository constructs a repository.
func NewSpotPriceRepository(db *sql.DB) *SpotPriceRepository {
	return &SpotPriceRepository{db: db}
}

// Range returns DKK/kWh prices keyed by UTC hour.
func (r *SpotPriceRepository) Range(ctx context.Context, area string, period masterdata.Period) (map[time.Time]decimal.Decimal, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("spot price repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT hour, dkk_per_mwh
FROM spot_prices
WHERE price_area = $1
	AND hour >= $2
	AND ($3::timestamptz IS NULL OR hour < $3)`, area, period.Start.UTC(), nullTime(period.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[time.Time]decimal.Decimal)
	for rows.Next() {
		var sp masterdata.SpotPrice
		if err := rows.Scan(&sp.Hour, &sp.DKKPerMWh); err != nil {
			return nil, err
		}
		out[sp.Hour.UTC()] = sp.PerKWh()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert stores spot prices.
func (r *SpotPriceRepository) Upsert(ctx context.Context, prices []masterdata.SpotPrice) error {
	if r == nil || r.db == nil {
		return errors.New("spot price repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, p := range prices {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO spot_prices (price_area, hour, dkk_per_mwh)
VALUES ($1, $2, $3)
ON CONFLICT (price_area, hour)
DO UPDATE SET dkk_per_mwh = EXCLUDED.dkk_per_mwh`, p.Area, p.Hour.UTC(), p.DKKPerMWh); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
