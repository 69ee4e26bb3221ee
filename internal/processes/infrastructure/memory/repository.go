package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	processes "supplier-core/internal/processes/domain"
)

// Repository is an in-memory process repository.
type Repository struct {
	mu    sync.RWMutex
	items map[string]*processes.BrsProcess
}

// NewRepository constructs an in-memory repository.
func NewRepository() *Repository {
	return &Repository{items: make(map[string]*processes.BrsProcess)}
}

// Create stores a new process.
func (r *Repository) Create(_ context.Context, p *processes.BrsProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID()]; ok {
		return processes.ErrConcurrentUpdate
	}
	p.MarkPersisted(1)
	r.items[p.ID()] = p.Clone()
	return nil
}

// Save updates a process when its version still matches.
func (r *Repository) Save(_ context.Context, p *processes.BrsProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[p.ID()]
	if !ok {
		return processes.ErrNotFound
	}
	if stored.Version() != p.Version() {
		return processes.ErrConcurrentUpdate
	}
	p.MarkPersisted(p.Version() + 1)
	r.items[p.ID()] = p.Clone()
	return nil
}

// Get returns a process by id.
func (r *Repository) Get(_ context.Context, id string) (*processes.BrsProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, processes.ErrNotFound
	}
	return p.Clone(), nil
}

// FindActive returns the newest non-terminal process for the key.
func (r *Repository) FindActive(_ context.Context, key processes.ActiveKey) (*processes.BrsProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *processes.BrsProcess
	for _, p := range r.items {
		if p.Key() != key || p.IsTerminal() {
			continue
		}
		if found == nil || p.CreatedAt().After(found.CreatedAt()) {
			found = p
		}
	}
	if found == nil {
		return nil, processes.ErrNotFound
	}
	return found.Clone(), nil
}

// FindByTransactionID returns a process by external correlation id.
func (r *Repository) FindByTransactionID(_ context.Context, pt processes.ProcessType, role processes.Role, transactionID string) (*processes.BrsProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.Type() == pt && p.Role() == role && p.TransactionID() == transactionID && transactionID != "" {
			return p.Clone(), nil
		}
	}
	return nil, processes.ErrNotFound
}

// ListByState returns processes in state whose effective date is before the cutoff.
func (r *Repository) ListByState(_ context.Context, state processes.State, effectiveBefore time.Time, limit int) ([]*processes.BrsProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*processes.BrsProcess
	for _, p := range r.items {
		if p.State() != state || p.EffectiveDate().After(effectiveBefore) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate().Before(out[j].EffectiveDate()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
