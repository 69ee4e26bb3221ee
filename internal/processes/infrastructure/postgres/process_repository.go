package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	processes "supplier-core/internal/processes/domain"
)

// ProcessRepository persists BRS processes and their transition log.
type ProcessRepository struct {
	db *sql.DB
}

// NewProcessRepository constructs a repository.
func NewProcessRepository(db *sql.DB) *ProcessRepository {
	return &ProcessRepository{db: db}
}

const processColumns = `id, process_type, role, status, state, transaction_id, effective_date,
	counterpart, metering_point, error_message, created_at, updated_at, version`

// Create inserts the process row and its initial log entries.
func (r *ProcessRepository) Create(ctx context.Context, p *processes.BrsProcess) error {
	if r == nil || r.db == nil {
		return errors.New("process repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s := p.Snapshot()
	_, err = tx.ExecContext(ctx, `
INSERT INTO brs_processes (
	id, process_type, role, status, state, transaction_id, effective_date,
	counterpart, metering_point, error_message, created_at, updated_at, version
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1
)`,
		s.ID, s.Type, s.Role, s.Status, s.State, nullString(s.TransactionID), nullTime(s.EffectiveDate),
		s.Counterpart, s.MeteringPoint, s.ErrorMessage, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertTransitions(ctx, tx, p.PendingTransitions()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.MarkPersisted(1)
	return nil
}

// Save updates the row under a version check and appends pending transitions
// in the same transaction.
func (r *ProcessRepository) Save(ctx context.Context, p *processes.BrsProcess) error {
	if r == nil || r.db == nil {
		return errors.New("process repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s := p.Snapshot()
	res, err := tx.ExecContext(ctx, `
UPDATE brs_processes
SET status = $1, state = $2, transaction_id = $3, effective_date = $4,
	error_message = $5, updated_at = $6, version = version + 1
WHERE id = $7 AND version = $8`,
		s.Status, s.State, nullString(s.TransactionID), nullTime(s.EffectiveDate),
		s.ErrorMessage, s.UpdatedAt, s.ID, s.Version,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return processes.ErrConcurrentUpdate
	}
	if err := insertTransitions(ctx, tx, p.PendingTransitions()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.MarkPersisted(s.Version + 1)
	return nil
}

func insertTransitions(ctx context.Context, tx *sql.Tx, transitions []processes.Transition) error {
	for _, t := range transitions {
		_, err := tx.ExecContext(ctx, `
INSERT INTO process_state_transitions (process_id, from_state, to_state, reason, created_at)
VALUES ($1,$2,$3,$4,$5)`, t.ProcessID, t.From, t.To, t.Reason, t.At)
		if err != nil {
			return err
		}
	}
	return nil
}

// Get loads a process by id.
func (r *ProcessRepository) Get(ctx context.Context, id string) (*processes.BrsProcess, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("process repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+processColumns+`
FROM brs_processes
WHERE id = $1`, id)
	return r.load(ctx, row)
}

// FindActive returns the most recently created non-terminal process.
func (r *ProcessRepository) FindActive(ctx context.Context, key processes.ActiveKey) (*processes.BrsProcess, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("process repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+processColumns+`
FROM brs_processes
WHERE metering_point = $1 AND process_type = $2 AND role = $3
	AND status NOT IN ('Completed','Rejected','Cancelled')
ORDER BY created_at DESC
LIMIT 1`, key.MeteringPoint, key.Type, key.Role)
	return r.load(ctx, row)
}

// FindByTransactionID returns a process by external correlation id.
func (r *ProcessRepository) FindByTransactionID(ctx context.Context, pt processes.ProcessType, role processes.Role, transactionID string) (*processes.BrsProcess, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("process repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+processColumns+`
FROM brs_processes
WHERE process_type = $1 AND role = $2 AND transaction_id = $3
ORDER BY created_at DESC
LIMIT 1`, pt, role, transactionID)
	return r.load(ctx, row)
}

// ListByState returns processes in state with effective date before the cutoff.
func (r *ProcessRepository) ListByState(ctx context.Context, state processes.State, effectiveBefore time.Time, limit int) ([]*processes.BrsProcess, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("process repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+processColumns+`
FROM brs_processes
WHERE state = $1 AND effective_date <= $2
ORDER BY effective_date ASC
LIMIT $3`, state, effectiveBefore, limit)
	if err != nil {
		return nil, err
	}
	var snapshots []processes.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	result := make([]*processes.BrsProcess, 0, len(snapshots))
	for _, s := range snapshots {
		p, err := r.rehydrate(ctx, s)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (processes.Snapshot, error) {
	var (
		s             processes.Snapshot
		processType   string
		role          string
		status        string
		state         string
		transactionID sql.NullString
		effective     sql.NullTime
	)
	if err := row.Scan(&s.ID, &processType, &role, &status, &state, &transactionID, &effective,
		&s.Counterpart, &s.MeteringPoint, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt, &s.Version); err != nil {
		return processes.Snapshot{}, err
	}
	s.Type = processes.ProcessType(processType)
	s.Role = processes.Role(role)
	s.Status = processes.Status(status)
	s.State = processes.State(state)
	if transactionID.Valid {
		s.TransactionID = transactionID.String
	}
	if effective.Valid {
		s.EffectiveDate = effective.Time.UTC()
	}
	return s, nil
}

func (r *ProcessRepository) load(ctx context.Context, row *sql.Row) (*processes.BrsProcess, error) {
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, processes.ErrNotFound
		}
		return nil, err
	}
	return r.rehydrate(ctx, s)
}

func (r *ProcessRepository) rehydrate(ctx context.Context, s processes.Snapshot) (*processes.BrsProcess, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT process_id, from_state, to_state, reason, created_at
FROM process_state_transitions
WHERE process_id = $1
ORDER BY id ASC`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var log []processes.Transition
	for rows.Next() {
		var t processes.Transition
		var from, to string
		if err := rows.Scan(&t.ProcessID, &from, &to, &t.Reason, &t.At); err != nil {
			return nil, err
		}
		t.From = processes.State(from)
		t.To = processes.State(to)
		t.At = t.At.UTC()
		log = append(log, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return processes.Rehydrate(s, log)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value, Valid: !value.IsZero()}
}
