package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	settlement "supplier-core/internal/settlement/domain"
)

// SettlementRepository is an in-memory repository for settlements.
type SettlementRepository struct {
	mu      sync.RWMutex
	data    map[string]*settlement.Settlement
	nextDoc int64
}

// NewSettlementRepository constructs a repository.
func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{data: make(map[string]*settlement.Settlement)}
}

// Save applies one settlement computation.
func (r *SettlementRepository) Save(_ context.Context, c settlement.Commit) error {
	if c.Created == nil {
		return settlement.ErrNilSettlement
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.data {
		if s.MeteringPoint() == c.Created.MeteringPoint() &&
			s.SupplyID() == c.Created.SupplyID() &&
			s.TimeSeriesID() == c.Created.TimeSeriesID() {
			return settlement.ErrAlreadySettled
		}
	}
	for _, sup := range c.Superseded {
		stored, ok := r.data[sup.Settlement.ID()]
		if !ok {
			return settlement.ErrNotFound
		}
		if stored.Status() != sup.From {
			return &settlement.StatusError{Action: sup.Settlement.Status().Action(), Current: stored.Status(), Expected: sup.From}
		}
	}

	r.nextDoc++
	if err := c.Created.AssignDocumentNumber(r.nextDoc); err != nil {
		return err
	}
	for _, sup := range c.Superseded {
		r.data[sup.Settlement.ID()] = sup.Settlement.Clone()
	}
	r.data[c.Created.ID()] = c.Created.Clone()
	return nil
}

// Get returns a settlement.
func (r *SettlementRepository) Get(_ context.Context, id string) (*settlement.Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[id]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return s.Clone(), nil
}

// List returns settlements matching f ordered by document number.
func (r *SettlementRepository) List(_ context.Context, f settlement.Filter) ([]*settlement.Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*settlement.Settlement
	for _, s := range r.data {
		if f.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	sortByDocument(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListForSupply returns settlements of a supply overlapping [from, to).
func (r *SettlementRepository) ListForSupply(_ context.Context, gsrn, supplyID string, from, to time.Time) ([]*settlement.Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*settlement.Settlement
	for _, s := range r.data {
		if s.MeteringPoint() != gsrn || s.SupplyID() != supplyID {
			continue
		}
		if !s.PeriodStart().Before(to) || !from.Before(s.PeriodEnd()) {
			continue
		}
		out = append(out, s.Clone())
	}
	sortByDocument(out)
	return out, nil
}

// UpdateStatus stores a status change if the stored status is still from.
func (r *SettlementRepository) UpdateStatus(_ context.Context, s *settlement.Settlement, from settlement.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.data[s.ID()]
	if !ok {
		return settlement.ErrNotFound
	}
	if stored.Status() != from {
		return &settlement.StatusError{Action: s.Status().Action(), Current: stored.Status(), Expected: from}
	}
	r.data[s.ID()] = s.Clone()
	return nil
}

func sortByDocument(out []*settlement.Settlement) {
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentNumber() < out[j].DocumentNumber() })
}
