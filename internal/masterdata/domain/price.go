package masterdata

import (
	"context"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

// PriceType is the charge category of a price.
type PriceType string

const (
	PriceSubscription PriceType = "subscription"
	PriceTariff       PriceType = "tariff"
	PriceFee          PriceType = "fee"
)

// Charge type codes used on the wire.
const (
	ChargeCodeSubscription = "D01"
	ChargeCodeFee          = "D02"
	ChargeCodeTariff       = "D03"
)

// PriceTypeFromCode maps a charge type code to a PriceType.
func PriceTypeFromCode(code string) (PriceType, error) {
	switch code {
	case ChargeCodeSubscription:
		return PriceSubscription, nil
	case ChargeCodeFee:
		return PriceFee, nil
	case ChargeCodeTariff:
		return PriceTariff, nil
	}
	return "", ErrUnknownPriceType
}

const hourlyProfilePoints = 24

var tariffZone = loadZone("Europe/Copenhagen")

func loadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PricePoint is one time-varying rate.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// Price is a charge owned by a grid company or the system operator.
type Price struct {
	ID          string
	ChargeID    string
	OwnerGLN    string
	Type        PriceType
	Description string
	ValidFrom   time.Time
	ValidTo     time.Time
	Resolution  string
	Rate        decimal.Decimal
	Points      []PricePoint
	UpdatedAt   time.Time
}

// Validity returns the validity period.
func (p Price) Validity() Period {
	return Period{Start: p.ValidFrom, End: p.ValidTo}
}

// TimeVarying reports whether the price is resolution-bound.
func (p Price) TimeVarying() bool {
	return len(p.Points) > 0
}

// RateAt returns the rate applicable at t. Twenty-four hourly points form a
// daily profile keyed by local hour; otherwise points are a step function.
func (p Price) RateAt(t time.Time) (decimal.Decimal, error) {
	if !p.Validity().Contains(t) {
		return decimal.Zero, ErrNoRate
	}
	if !p.TimeVarying() {
		return p.Rate, nil
	}
	points := make([]PricePoint, len(p.Points))
	copy(points, p.Points)
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	if p.Resolution == "PT1H" && len(points) == hourlyProfilePoints {
		hour := t.In(tariffZone).Hour()
		for _, pt := range points {
			if pt.Timestamp.In(tariffZone).Hour() == hour {
				return pt.Price, nil
			}
		}
	}
	rate, found := decimal.Zero, false
	for _, pt := range points {
		if pt.Timestamp.After(t) {
			break
		}
		rate, found = pt.Price, true
	}
	if !found {
		return decimal.Zero, ErrNoRate
	}
	return rate, nil
}

// PriceLink binds a price to a metering point for a period.
type PriceLink struct {
	ID            string
	MeteringPoint string
	PriceID       string
	ValidFrom     time.Time
	ValidTo       time.Time
}

// Validity returns the link period.
func (l PriceLink) Validity() Period {
	return Period{Start: l.ValidFrom, End: l.ValidTo}
}

// PriceRepository manages prices.
type PriceRepository interface {
	Get(ctx context.Context, id string) (*Price, error)
	FindByCharge(ctx context.Context, chargeID, ownerGLN string, priceType PriceType) (*Price, error)
	// Upsert stores p keyed by (charge id, owner, type), replacing its points.
	Upsert(ctx context.Context, p *Price) error
}

// PriceLinkRepository manages price links.
type PriceLinkRepository interface {
	// ListOverlapping returns links of the metering point overlapping period.
	ListOverlapping(ctx context.Context, gsrn string, period Period) ([]PriceLink, error)
	// Upsert stores l keyed by (metering point, price, valid from).
	Upsert(ctx context.Context, l *PriceLink) error
}

// SpotPrice is the hourly day-ahead price of one price area.
type SpotPrice struct {
	Area      string
	Hour      time.Time
	DKKPerMWh decimal.Decimal
}

const (
	PriceAreaDK1 = "DK1"
	PriceAreaDK2 = "DK2"
)

var kwhPerMWh = decimal.NewFromInt(1000)

// PerKWh converts the price to DKK/kWh.
func (s SpotPrice) PerKWh() decimal.Decimal {
	return s.DKKPerMWh.Div(kwhPerMWh)
}

// SpotPriceRepository reads and stores spot prices.
type SpotPriceRepository interface {
	// Range returns DKK/kWh prices keyed by UTC hour start.
	Range(ctx context.Context, area string, period Period) (map[time.Time]decimal.Decimal, error)
	Upsert(ctx context.Context, prices []SpotPrice) error
}
