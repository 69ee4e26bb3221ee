package masterdata

import (
	"context"
	"time"
)

// Supply is our delivery of electricity to a customer at a metering point.
type Supply struct {
	ID            string
	MeteringPoint string
	CustomerID    string
	ProductID     string
	Start         time.Time
	End           time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks supply invariants.
func (s Supply) Validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if s.MeteringPoint == "" {
		return ErrEmptyMeteringPoint
	}
	_, err := NewPeriod(s.Start, s.End)
	return err
}

// Period returns the supply period.
func (s Supply) Period() Period {
	return Period{Start: s.Start, End: s.End}
}

// ActiveAt reports whether the supply covers t.
func (s Supply) ActiveAt(t time.Time) bool {
	return s.Period().Contains(t)
}

// EndAt ends the supply. Ending at the same instant twice is a no-op.
func (s *Supply) EndAt(at time.Time) error {
	at = at.UTC()
	if !s.End.IsZero() {
		if s.End.Equal(at) {
			return nil
		}
		return ErrSupplyEnded
	}
	if at.Before(s.Start) {
		return ErrInvalidPeriod
	}
	s.End = at
	return nil
}

// SupplyRepository manages supply persistence.
type SupplyRepository interface {
	Get(ctx context.Context, id string) (*Supply, error)
	// FindCovering returns the supply active at t for the metering point.
	FindCovering(ctx context.Context, gsrn string, at time.Time) (*Supply, error)
	// FindStarting returns the supply starting exactly at start.
	FindStarting(ctx context.Context, gsrn string, start time.Time) (*Supply, error)
	ListByMeteringPoint(ctx context.Context, gsrn string) ([]Supply, error)
	Create(ctx context.Context, s *Supply) error
	Update(ctx context.Context, s *Supply) error
}
