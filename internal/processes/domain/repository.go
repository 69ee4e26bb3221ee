package processes

import (
	"context"
	"time"
)

// Repository persists processes and their transition logs.
type Repository interface {
	// Create inserts a new process at version 1.
	Create(ctx context.Context, p *BrsProcess) error
	// Save writes state and appends pending transitions when the stored
	// version still matches; otherwise it returns ErrConcurrentUpdate.
	Save(ctx context.Context, p *BrsProcess) error
	Get(ctx context.Context, id string) (*BrsProcess, error)
	// FindActive returns the most recently created non-terminal process.
	FindActive(ctx context.Context, key ActiveKey) (*BrsProcess, error)
	FindByTransactionID(ctx context.Context, pt ProcessType, role Role, transactionID string) (*BrsProcess, error)
	ListByState(ctx context.Context, state State, effectiveBefore time.Time, limit int) ([]*BrsProcess, error)
}
