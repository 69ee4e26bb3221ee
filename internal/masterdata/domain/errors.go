package masterdata

import "errors"

var (
	ErrNotFound           = errors.New("masterdata: not found")
	ErrEmptyMeteringPoint = errors.New("masterdata: empty metering point")
	ErrEmptyID            = errors.New("masterdata: empty id")
	ErrInvalidPeriod      = errors.New("masterdata: period end before start")
	ErrSupplyEnded        = errors.New("masterdata: supply already ended")
	ErrUnknownPriceType   = errors.New("masterdata: unknown price type")
	ErrNoRate             = errors.New("masterdata: no rate at time")
	ErrEmptyObservations  = errors.New("masterdata: time series has no observations")
)
