package masterdata

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PricingModel selects how the supplier margin is charged.
type PricingModel string

const (
	PricingSpotAddon PricingModel = "SpotAddon"
	PricingFixed     PricingModel = "Fixed"
)

// MarginRate is a product rate valid from Start. A rate with an End applies
// on [Start, End); an open-ended rate applies strictly after Start.
type MarginRate struct {
	Start time.Time
	End   time.Time
	Rate  decimal.Decimal
}

func (r MarginRate) appliesAt(t time.Time) bool {
	if r.End.IsZero() {
		return r.Start.Before(t)
	}
	return !t.Before(r.Start) && t.Before(r.End)
}

// Product is the commercial agreement attached to a supply.
type Product struct {
	ID           string
	Name         string
	PricingModel PricingModel
	Rates        []MarginRate
}

// RateAt returns the margin (spot-addon) or fixed rate in DKK/kWh at t. When
// several rates apply the latest starting one wins.
func (p Product) RateAt(t time.Time) (decimal.Decimal, error) {
	rates := make([]MarginRate, len(p.Rates))
	copy(rates, p.Rates)
	sort.Slice(rates, func(i, j int) bool { return rates[i].Start.After(rates[j].Start) })
	for _, r := range rates {
		if r.appliesAt(t) {
			return r.Rate, nil
		}
	}
	return decimal.Zero, ErrNoRate
}

// ProductRepository reads products.
type ProductRepository interface {
	Get(ctx context.Context, id string) (*Product, error)
}
