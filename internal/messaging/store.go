package messaging

import (
	"context"
	"time"
)

// InboxStore persists inbound messages.
type InboxStore interface {
	// Insert stores a new message; an existing external id is ErrDuplicateMessage.
	Insert(ctx context.Context, msg *InboxMessage) error
	Get(ctx context.Context, id string) (*InboxMessage, error)
	GetByExternalID(ctx context.Context, externalID string) (*InboxMessage, error)
	// ListPending returns unprocessed messages below maxAttempts, oldest first.
	ListPending(ctx context.Context, maxAttempts, limit int) ([]*InboxMessage, error)
	// ListParked returns unprocessed messages at or above maxAttempts.
	ListParked(ctx context.Context, maxAttempts, limit int) ([]*InboxMessage, error)
	// Update writes the router-owned fields. Processed rows are never updated.
	Update(ctx context.Context, msg *InboxMessage) error
}

// OutboxStore persists outbound messages.
type OutboxStore interface {
	Enqueue(ctx context.Context, msg *OutboxMessage) error
	Get(ctx context.Context, id string) (*OutboxMessage, error)
	// ListDue returns unsent, live messages scheduled at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*OutboxMessage, error)
	Update(ctx context.Context, msg *OutboxMessage) error
}
