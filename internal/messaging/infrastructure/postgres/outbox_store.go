package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"supplier-core/internal/cim"
	"supplier-core/internal/messaging"
)

// OutboxStore is a Postgres implementation of the outbox.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

const outboxColumns = `id, document_type, business_process, sender_id, receiver_id, payload, process_id,
	transaction_id, sent, sent_at, attempts, last_error, scheduled_for, dead, created_at`

// Enqueue inserts a new message.
func (s *OutboxStore) Enqueue(ctx context.Context, msg *messaging.OutboxMessage) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ScheduledFor.IsZero() {
		msg.ScheduledFor = msg.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO outbox_messages (`+outboxColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL, 0, '', $9, FALSE, $10)`,
		msg.ID,
		string(msg.DocumentType),
		string(msg.BusinessProcess),
		msg.SenderID,
		msg.ReceiverID,
		msg.Payload,
		nullString(msg.ProcessID),
		nullString(msg.TransactionID),
		msg.ScheduledFor,
		msg.CreatedAt,
	)
	return err
}

// Get loads a message by id.
func (s *OutboxStore) Get(ctx context.Context, id string) (*messaging.OutboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	return scanOutbox(s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, id))
}

// ListDue returns unsent live messages scheduled at or before now.
func (s *OutboxStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*messaging.OutboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_messages
WHERE NOT sent AND NOT dead AND scheduled_for <= $1
ORDER BY scheduled_for ASC, created_at ASC
LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*messaging.OutboxMessage
	for rows.Next() {
		msg, err := scanOutbox(rows)
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

// Update writes the delivery fields.
func (s *OutboxStore) Update(ctx context.Context, msg *messaging.OutboxMessage) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE outbox_messages
SET sent = $1, sent_at = $2, attempts = $3, last_error = $4, scheduled_for = $5, dead = $6
WHERE id = $7`,
		msg.Sent,
		nullTime(msg.SentAt),
		msg.Attempts,
		msg.LastError,
		msg.ScheduledFor.UTC(),
		msg.Dead,
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
		return messaging.ErrNotFound
	}
	return nil
}

func scanOutbox(row rowScanner) (*messaging.OutboxMessage, error) {
	var (
		msg             messaging.OutboxMessage
		documentType    string
		businessProcess string
		processID       sql.NullString
		transactionID   sql.NullString
		sentAt          sql.NullTime
	)
	if err := row.Scan(
		&msg.ID,
		&documentType,
		&businessProcess,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Payload,
		&processID,
		&transactionID,
		&msg.Sent,
		&sentAt,
		&msg.Attempts,
		&msg.LastError,
		&msg.ScheduledFor,
		&msg.Dead,
		&msg.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, messaging.ErrNotFound
		}
		return nil, err
	}
	msg.DocumentType = cim.DocumentType(documentType)
	msg.BusinessProcess = cim.BusinessProcess(businessProcess)
	msg.ProcessID = processID.String
	msg.TransactionID = transactionID.String
	if sentAt.Valid {
		msg.SentAt = sentAt.Time.UTC()
	}
	msg.ScheduledFor = msg.ScheduledFor.UTC()
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}
