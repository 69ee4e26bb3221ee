package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"supplier-core/internal/cim"
	"supplier-core/internal/messaging"
)

// InboxStore is a Postgres implementation of the inbox.
type InboxStore struct {
	db *sql.DB
}

// NewInboxStore constructs an inbox store.
func NewInboxStore(db *sql.DB) *InboxStore {
	return &InboxStore{db: db}
}

const inboxColumns = `id, external_id, document_type, business_process, sender_id, receiver_id, payload,
	processed, processed_at, error, attempts, process_id, received_at`

// Insert stores msg; a repeated external id is messaging.ErrDuplicateMessage.
func (s *InboxStore) Insert(ctx context.Context, msg *messaging.InboxMessage) error {
	if s == nil || s.db == nil {
		return errors.New("inbox store: nil db")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO inbox_messages (`+inboxColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NULL, '', 0, NULL, $8)`,
		msg.ID,
		msg.ExternalID,
		nullString(string(msg.DocumentType)),
		nullString(string(msg.BusinessProcess)),
		msg.SenderID,
		msg.ReceiverID,
		msg.Payload,
		msg.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return messaging.ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// Get loads a message by id.
func (s *InboxStore) Get(ctx context.Context, id string) (*messaging.InboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("inbox store: nil db")
	}
	return scanInbox(s.db.QueryRowContext(ctx, `SELECT `+inboxColumns+` FROM inbox_messages WHERE id = $1`, id))
}

// GetByExternalID loads a message by external id.
func (s *InboxStore) GetByExternalID(ctx context.Context, externalID string) (*messaging.InboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("inbox store: nil db")
	}
	return scanInbox(s.db.QueryRowContext(ctx, `SELECT `+inboxColumns+` FROM inbox_messages WHERE external_id = $1`, externalID))
}

// ListPending returns unprocessed messages below maxAttempts, oldest first.
func (s *InboxStore) ListPending(ctx context.Context, maxAttempts, limit int) ([]*messaging.InboxMessage, error) {
	return s.list(ctx, `
SELECT `+inboxColumns+`
FROM inbox_messages
WHERE NOT processed AND attempts < $1
ORDER BY received_at ASC
LIMIT $2`, maxAttempts, limit)
}

// ListParked returns unprocessed messages at or above maxAttempts.
func (s *InboxStore) ListParked(ctx context.Context, maxAttempts, limit int) ([]*messaging.InboxMessage, error) {
	return s.list(ctx, `
SELECT `+inboxColumns+`
FROM inbox_messages
WHERE NOT processed AND attempts >= $1
ORDER BY received_at ASC
LIMIT $2`, maxAttempts, limit)
}

func (s *InboxStore) list(ctx context.Context, query string, maxAttempts, limit int) ([]*messaging.InboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("inbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*messaging.InboxMessage
	for rows.Next() {
		msg, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update writes the routing fields. Processed rows are left untouched.
func (s *InboxStore) Update(ctx context.Context, msg *messaging.InboxMessage) error {
	if s == nil || s.db == nil {
		return errors.New("inbox store: nil db")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE inbox_messages
SET document_type = $1, business_process = $2, sender_id = $3, receiver_id = $4,
	processed = $5, processed_at = $6, error = $7, attempts = $8, process_id = $9
WHERE id = $10 AND NOT processed`,
		nullString(string(msg.DocumentType)),
		nullString(string(msg.BusinessProcess)),
		msg.SenderID,
		msg.ReceiverID,
		msg.Processed,
		nullTime(msg.ProcessedAt),
		msg.Error,
		msg.Attempts,
		nullString(msg.ProcessID),
		msg.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return messaging.ErrAlreadyProcessed
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInbox(row rowScanner) (*messaging.InboxMessage, error) {
	var (
		msg             messaging.InboxMessage
		documentType    sql.NullString
		businessProcess sql.NullString
		processedAt     sql.NullTime
		processID       sql.NullString
	)
	if err := row.Scan(
		&msg.ID,
		&msg.ExternalID,
		&documentType,
		&businessProcess,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Payload,
		&msg.Processed,
		&processedAt,
		&msg.Error,
		&msg.Attempts,
		&processID,
		&msg.ReceivedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, messaging.ErrNotFound
		}
		return nil, err
	}
	msg.DocumentType = cim.DocumentType(documentType.String)
	msg.BusinessProcess = cim.BusinessProcess(businessProcess.String)
	if processedAt.Valid {
		msg.ProcessedAt = processedAt.Time.UTC()
	}
	msg.ProcessID = processID.String
	msg.ReceivedAt = msg.ReceivedAt.UTC()
	return &msg, nil
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
