package masterdata

import (
	"context"
	"errors"
	"time"
)

// Address is the installation address of a metering point.
type Address struct {
	Street         string
	BuildingNumber string
	PostCode       string
	City           string
}

// MeteringPoint is identified by its GSRN.
type MeteringPoint struct {
	GSRN             string
	Type             string
	SettlementMethod string
	GridArea         string
	PriceArea        string
	Address          Address
	UpdatedAt        time.Time
}

// Validate checks metering point invariants.
func (m MeteringPoint) Validate() error {
	if m.GSRN == "" {
		return ErrEmptyMeteringPoint
	}
	if m.PriceArea != "" && m.PriceArea != PriceAreaDK1 && m.PriceArea != PriceAreaDK2 {
		return errors.New("metering point: unknown price area")
	}
	return nil
}

// Merge overwrites the master data fields present in update.
func (m *MeteringPoint) Merge(update MeteringPoint) {
	if update.Type != "" {
		m.Type = update.Type
	}
	if update.SettlementMethod != "" {
		m.SettlementMethod = update.SettlementMethod
	}
	if update.GridArea != "" {
		m.GridArea = update.GridArea
	}
	if update.PriceArea != "" {
		m.PriceArea = update.PriceArea
	}
	if update.Address != (Address{}) {
		m.Address = update.Address
	}
	if !update.UpdatedAt.IsZero() {
		m.UpdatedAt = update.UpdatedAt
	}
}

// MeteringPointRepository manages metering point persistence.
type MeteringPointRepository interface {
	Get(ctx context.Context, gsrn string) (*MeteringPoint, error)
	Upsert(ctx context.Context, mp *MeteringPoint) error
}

// Customer is the party a supply is delivered to.
type Customer struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Validate checks customer invariants.
func (c Customer) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// CustomerRepository manages customer persistence.
type CustomerRepository interface {
	Get(ctx context.Context, id string) (*Customer, error)
	// FindOrCreate returns the existing customer or stores c. created reports which.
	FindOrCreate(ctx context.Context, c Customer) (customer *Customer, created bool, err error)
}
