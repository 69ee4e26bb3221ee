package settlement

import (
	"context"
	"time"
)

// View selects which settlements a listing returns.
type View string

const (
	// ViewReady lists Calculated settlements waiting for an invoice.
	ViewReady View = "ready"
	// ViewAll lists every settlement.
	ViewAll View = "all"
	// ViewCorrections lists corrections in any status.
	ViewCorrections View = "corrections"
)

// Filter narrows a listing.
type Filter struct {
	View          View
	MeteringPoint string
	Limit         int
}

// Matches reports whether s passes the filter.
func (f Filter) Matches(s *Settlement) bool {
	if f.MeteringPoint != "" && s.MeteringPoint() != f.MeteringPoint {
		return false
	}
	switch f.View {
	case ViewReady:
		return s.Status() == StatusCalculated
	case ViewCorrections:
		return s.IsCorrection()
	}
	return true
}

// Commit is one settlement computation: the new settlement plus the earlier
// ones it superseded, each with the status it had when loaded.
type Commit struct {
	Created    *Settlement
	Superseded []Superseded
}

// Superseded is an earlier settlement moved to Voided or Adjusted.
type Superseded struct {
	Settlement *Settlement
	From       Status
}

// Repository persists settlements.
type Repository interface {
	// Save applies c in one unit of work. It draws the document number of
	// c.Created from the global sequence and fails with ErrAlreadySettled
	// when the (metering point, supply, time series) triple exists.
	Save(ctx context.Context, c Commit) error
	Get(ctx context.Context, id string) (*Settlement, error)
	// List returns matching settlements ordered by document number.
	List(ctx context.Context, f Filter) ([]*Settlement, error)
	// ListForSupply returns every settlement of a metering point and supply
	// overlapping [from, to), ordered by document number.
	ListForSupply(ctx context.Context, gsrn, supplyID string, from, to time.Time) ([]*Settlement, error)
	// UpdateStatus persists a status change of s if it still has status from.
	// A concurrent change yields a StatusError naming the stored status.
	UpdateStatus(ctx context.Context, s *Settlement, from Status) error
}
