package masterdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one metered quantity. Immutable once persisted.
type Observation struct {
	Timestamp time.Time
	Quantity  decimal.Decimal
	Quality   string
}

// TimeSeries is one version of metered data for a metering point and period.
type TimeSeries struct {
	ID            string
	MeteringPoint string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Resolution    string
	Version       int
	IsLatest      bool
	TransactionID string
	ReceivedAt    time.Time
	Observations  []Observation
}

// Validate checks time series invariants.
func (ts TimeSeries) Validate() error {
	if ts.ID == "" {
		return ErrEmptyID
	}
	if ts.MeteringPoint == "" {
		return ErrEmptyMeteringPoint
	}
	if _, err := NewPeriod(ts.PeriodStart, ts.PeriodEnd); err != nil {
		return err
	}
	if len(ts.Observations) == 0 {
		return ErrEmptyObservations
	}
	return nil
}

// Period returns the covered period.
func (ts TimeSeries) Period() Period {
	return Period{Start: ts.PeriodStart, End: ts.PeriodEnd}
}

// Energy sums every observation.
func (ts TimeSeries) Energy() decimal.Decimal {
	total := decimal.Zero
	for _, o := range ts.Observations {
		total = total.Add(o.Quantity)
	}
	return total
}

// Within returns the observations whose timestamp falls in period.
func (ts TimeSeries) Within(period Period) []Observation {
	var out []Observation
	for _, o := range ts.Observations {
		if period.Contains(o.Timestamp) {
			out = append(out, o)
		}
	}
	return out
}

// SameData reports whether other carries identical observations.
func (ts TimeSeries) SameData(other TimeSeries) bool {
	if !ts.PeriodStart.Equal(other.PeriodStart) || !ts.PeriodEnd.Equal(other.PeriodEnd) {
		return false
	}
	if len(ts.Observations) != len(other.Observations) {
		return false
	}
	for i, o := range ts.Observations {
		p := other.Observations[i]
		if !o.Timestamp.Equal(p.Timestamp) || !o.Quantity.Equal(p.Quantity) || o.Quality != p.Quality {
			return false
		}
	}
	return true
}

// TimeSeriesRepository manages versioned time series.
type TimeSeriesRepository interface {
	// Append stores ts as the new latest version for its metering point and
	// overlapping period, clearing the previous latest flag in the same unit
	// of work. Identical data to the current latest is a no-op (appended=false).
	Append(ctx context.Context, ts *TimeSeries) (appended bool, err error)
	Get(ctx context.Context, id string) (*TimeSeries, error)
	// ListUnsettled returns latest versions not yet marked settled, least
	// recently checked first.
	ListUnsettled(ctx context.Context, limit int) ([]*TimeSeries, error)
	MarkSettled(ctx context.Context, id string, at time.Time) error
	// MarkChecked records an attempt that could not settle yet.
	MarkChecked(ctx context.Context, id string, at time.Time) error
}
