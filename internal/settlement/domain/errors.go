package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyID is returned when a settlement has no id.
	ErrEmptyID = errors.New("settlement: empty id")
	// ErrEmptyMeteringPoint is returned when a settlement has no metering point.
	ErrEmptyMeteringPoint = errors.New("settlement: empty metering point")
	// ErrEmptySupply is returned when a settlement has no supply.
	ErrEmptySupply = errors.New("settlement: empty supply id")
	// ErrEmptyTimeSeries is returned when a settlement has no source time series.
	ErrEmptyTimeSeries = errors.New("settlement: empty time series id")
	// ErrInvalidPeriod is returned when the settlement period is not closed.
	ErrInvalidPeriod = errors.New("settlement: invalid period")
	// ErrEmptyInvoiceReference is returned when invoicing without a reference.
	ErrEmptyInvoiceReference = errors.New("settlement: empty invoice reference")
	// ErrInvalidStatus is matched by every StatusError.
	ErrInvalidStatus = errors.New("settlement: invalid status")
	// ErrAlreadySettled is returned when the (metering point, supply, time
	// series) triple already has a settlement.
	ErrAlreadySettled = errors.New("settlement: already settled")
	// ErrDocumentNumberSet is returned when a document number is assigned twice.
	ErrDocumentNumberSet = errors.New("settlement: document number already assigned")
	// ErrNotFound is returned when a settlement is not found.
	ErrNotFound = errors.New("settlement: not found")
	// ErrNilSettlement is returned when saving a nil settlement.
	ErrNilSettlement = errors.New("settlement: nil settlement")
)

// StatusError is an illegal status transition. It names both the current
// status and the status the action requires.
type StatusError struct {
	Action   string
	Current  Status
	Expected Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Cannot %s — status is %s, expected %s", e.Action, e.Current, e.Expected)
}

// Is matches ErrInvalidStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrInvalidStatus
}
