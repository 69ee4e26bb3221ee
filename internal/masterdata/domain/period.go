package masterdata

import "time"

// Period is a half-open interval [Start, End). A zero End is open-ended.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod validates and builds a period.
func NewPeriod(start, end time.Time) (Period, error) {
	if !end.IsZero() && end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start.UTC(), End: end.UTC()}, nil
}

// OpenEnded reports whether the period has no end.
func (p Period) OpenEnded() bool { return p.End.IsZero() }

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	if t.Before(p.Start) {
		return false
	}
	return p.OpenEnded() || t.Before(p.End)
}

// Overlaps reports whether the periods share any instant.
func (p Period) Overlaps(o Period) bool {
	if !p.OpenEnded() && !o.Start.Before(p.End) {
		return false
	}
	if !o.OpenEnded() && !p.Start.Before(o.End) {
		return false
	}
	return true
}

// Intersect returns the overlap of two periods.
func (p Period) Intersect(o Period) (Period, bool) {
	if !p.Overlaps(o) {
		return Period{}, false
	}
	out := p
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if out.OpenEnded() || (!o.OpenEnded() && o.End.Before(out.End)) {
		out.End = o.End
	}
	return out, true
}

// Days returns the number of whole days in a closed period. A day shortened
// or stretched by an hour of daylight saving still counts; anything shorter
// does not.
func (p Period) Days() int {
	if p.OpenEnded() || !p.End.After(p.Start) {
		return 0
	}
	return int((p.End.Sub(p.Start) + time.Hour) / (24 * time.Hour))
}
