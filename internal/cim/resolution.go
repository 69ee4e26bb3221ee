package cim

import "time"

// Resolution is an ISO 8601 duration used for position-indexed points.
type Resolution string

const (
	ResolutionQuarter Resolution = "PT15M"
	ResolutionHour    Resolution = "PT1H"
	ResolutionDay     Resolution = "P1D"
	ResolutionMonth   Resolution = "P1M"
)

// ParseResolution validates a resolution code.
func ParseResolution(value string) (Resolution, error) {
	switch r := Resolution(value); r {
	case ResolutionQuarter, ResolutionHour, ResolutionDay, ResolutionMonth:
		return r, nil
	}
	return "", &ValidationError{Field: "resolution", Value: value}
}

// At returns the timestamp of the 1-based position relative to start.
func (r Resolution) At(start time.Time, position int) time.Time {
	steps := position - 1
	switch r {
	case ResolutionQuarter:
		return start.Add(time.Duration(steps) * 15 * time.Minute)
	case ResolutionHour:
		return start.Add(time.Duration(steps) * time.Hour)
	case ResolutionDay:
		return start.AddDate(0, 0, steps)
	case ResolutionMonth:
		return start.AddDate(0, steps, 0)
	}
	return start
}
