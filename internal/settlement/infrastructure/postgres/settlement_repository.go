package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	settlement "supplier-core/internal/settlement/domain"
)

const uniqueViolation = "23505"

// SettlementRepository persists settlements, their lines and line detail.
type SettlementRepository struct {
	db *sql.DB
}

// NewSettlementRepository constructs a repository.
func NewSettlementRepository(db *sql.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

const settlementColumns = `id, document_number, metering_point, supply_id, time_series_id,
	time_series_version, period_start, period_end, status, is_correction, correction_mode,
	previous_id, invoice_reference, invoiced_at, void_reason, created_at, updated_at`

// Save moves the superseded settlements and inserts the new one with a
// number drawn from settlement_document_number_seq, all in one transaction.
func (r *SettlementRepository) Save(ctx context.Context, c settlement.Commit) error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	if c.Created == nil {
		return settlement.ErrNilSettlement
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, sup := range c.Superseded {
		if err := updateStatus(ctx, tx, sup.Settlement, sup.From); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	var number int64
	if err := tx.QueryRowContext(ctx, `SELECT nextval('settlement_document_number_seq')`).Scan(&number); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := c.Created.AssignDocumentNumber(number); err != nil {
		_ = tx.Rollback()
		return err
	}

	s := c.Created.Snapshot()
	_, err = tx.ExecContext(ctx, `
INSERT INTO settlements (
	id, document_number, metering_point, supply_id, time_series_id, time_series_version,
	period_start, period_end, status, is_correction, correction_mode, previous_id,
	total_energy_kwh, total_amount, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)`,
		s.ID, s.DocumentNumber, s.MeteringPoint, s.SupplyID, s.TimeSeriesID, s.TimeSeriesVersion,
		s.PeriodStart, s.PeriodEnd, s.Status, s.IsCorrection, nullString(string(s.CorrectionMode)), nullString(s.PreviousID),
		c.Created.TotalEnergy(), c.Created.TotalAmount(), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return settlement.ErrAlreadySettled
		}
		return err
	}
	if err := insertLines(ctx, tx, s.ID, s.Lines); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertLines(ctx context.Context, tx *sql.Tx, settlementID string, lines []settlement.Line) error {
	for i, l := range lines {
		_, err := tx.ExecContext(ctx, `
INSERT INTO settlement_lines (
	settlement_id, line_no, price_id, kind, description, quantity, unit_price, amount
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			settlementID, i, l.PriceID, l.Kind, l.Description, l.Quantity, l.UnitPrice, l.Amount)
		if err != nil {
			return err
		}
		for _, d := range l.Detail {
			_, err := tx.ExecContext(ctx, `
INSERT INTO settlement_line_details (settlement_id, line_no, ts, quantity, rate, amount)
VALUES ($1,$2,$3,$4,$5,$6)`,
				settlementID, i, nullTime(d.Timestamp), d.Quantity, d.Rate, d.Amount)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateStatus(ctx context.Context, q execer, s *settlement.Settlement, from settlement.Status) error {
	snap := s.Snapshot()
	res, err := q.ExecContext(ctx, `
UPDATE settlements
SET status = $1, invoice_reference = $2, invoiced_at = $3, void_reason = $4, updated_at = $5
WHERE id = $6 AND status = $7`,
		snap.Status, nullString(snap.InvoiceReference), nullTime(snap.InvoicedAt), nullString(snap.VoidReason),
		snap.UpdatedAt, snap.ID, from,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var current string
	err = q.QueryRowContext(ctx, `SELECT status FROM settlements WHERE id = $1`, snap.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &settlement.StatusError{Action: snap.Status.Action(), Current: settlement.Status(current), Expected: from}
}

// UpdateStatus persists a status change guarded by the stored status.
func (r *SettlementRepository) UpdateStatus(ctx context.Context, s *settlement.Settlement, from settlement.Status) error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	return updateStatus(ctx, r.db, s, from)
}

// Get loads a settlement with its lines.
func (r *SettlementRepository) Get(ctx context.Context, id string) (*settlement.Settlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE id = $1`, id)
	snap, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.withLines(ctx, snap)
}

// List returns settlements matching f ordered by document number.
func (r *SettlementRepository) List(ctx context.Context, f settlement.Filter) ([]*settlement.Settlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	var where []string
	var args []any
	switch f.View {
	case settlement.ViewReady:
		args = append(args, settlement.StatusCalculated)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	case settlement.ViewCorrections:
		where = append(where, "is_correction")
	}
	if f.MeteringPoint != "" {
		args = append(args, f.MeteringPoint)
		where = append(where, "metering_point = $"+strconv.Itoa(len(args)))
	}
	query := `
SELECT ` + settlementColumns + `
FROM settlements`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY document_number"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return r.query(ctx, query, args...)
}

// ListForSupply returns settlements of a supply overlapping [from, to).
func (r *SettlementRepository) ListForSupply(ctx context.Context, gsrn, supplyID string, from, to time.Time) ([]*settlement.Settlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	return r.query(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE metering_point = $1 AND supply_id = $2 AND period_start < $3 AND period_end > $4
ORDER BY document_number`, gsrn, supplyID, to.UTC(), from.UTC())
}

func (r *SettlementRepository) query(ctx context.Context, query string, args ...any) ([]*settlement.Settlement, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var snaps []settlement.Snapshot
	for rows.Next() {
		snap, err := scanSettlement(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]*settlement.Settlement, 0, len(snaps))
	for _, snap := range snaps {
		s, err := r.withLines(ctx, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *SettlementRepository) withLines(ctx context.Context, snap settlement.Snapshot) (*settlement.Settlement, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT line_no, price_id, kind, description, quantity, unit_price, amount
FROM settlement_lines
WHERE settlement_id = $1
ORDER BY line_no`, snap.ID)
	if err != nil {
		return nil, err
	}
	byNo := make(map[int]int)
	for rows.Next() {
		var (
			no   int
			kind string
			l    settlement.Line
		)
		if err := rows.Scan(&no, &l.PriceID, &kind, &l.Description, &l.Quantity, &l.UnitPrice, &l.Amount); err != nil {
			rows.Close()
			return nil, err
		}
		l.Kind = settlement.LineKind(kind)
		byNo[no] = len(snap.Lines)
		snap.Lines = append(snap.Lines, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	detail, err := r.db.QueryContext(ctx, `
SELECT line_no, ts, quantity, rate, amount
FROM settlement_line_details
WHERE settlement_id = $1
ORDER BY line_no, ts NULLS FIRST`, snap.ID)
	if err != nil {
		return nil, err
	}
	defer detail.Close()
	for detail.Next() {
		var (
			no int
			ts sql.NullTime
			d  settlement.Detail
		)
		if err := detail.Scan(&no, &ts, &d.Quantity, &d.Rate, &d.Amount); err != nil {
			return nil, err
		}
		if ts.Valid {
			d.Timestamp = ts.Time.UTC()
		}
		idx, ok := byNo[no]
		if !ok {
			continue
		}
		snap.Lines[idx].Detail = append(snap.Lines[idx].Detail, d)
	}
	if err := detail.Err(); err != nil {
		return nil, err
	}
	return settlement.Rehydrate(snap), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (settlement.Snapshot, error) {
	var (
		s              settlement.Snapshot
		status         string
		correctionMode sql.NullString
		previousID     sql.NullString
		invoiceRef     sql.NullString
		invoicedAt     sql.NullTime
		voidReason     sql.NullString
	)
	if err := row.Scan(
		&s.ID, &s.DocumentNumber, &s.MeteringPoint, &s.SupplyID, &s.TimeSeriesID,
		&s.TimeSeriesVersion, &s.PeriodStart, &s.PeriodEnd, &status, &s.IsCorrection, &correctionMode,
		&previousID, &invoiceRef, &invoicedAt, &voidReason, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return s, err
	}
	s.Status = settlement.Status(status)
	s.CorrectionMode = settlement.CorrectionMode(correctionMode.String)
	s.PreviousID = previousID.String
	s.InvoiceReference = invoiceRef.String
	s.VoidReason = voidReason.String
	if invoicedAt.Valid {
		s.InvoicedAt = invoicedAt.Time.UTC()
	}
	s.PeriodStart = s.PeriodStart.UTC()
	s.PeriodEnd = s.PeriodEnd.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
