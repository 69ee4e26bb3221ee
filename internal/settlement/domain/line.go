package settlement

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LineKind is the source category of a line.
type LineKind string

const (
	LineTariff       LineKind = "tariff"
	LineSubscription LineKind = "subscription"
	LineFee          LineKind = "fee"
	LineMargin       LineKind = "margin"
)

// Metered reports whether the line quantity is energy.
func (k LineKind) Metered() bool {
	return k == LineTariff || k == LineMargin
}

// Detail is one priced quantity of a line, usually one metered hour. Amount
// is kept unrounded.
type Detail struct {
	Timestamp time.Time
	Quantity  decimal.Decimal
	Rate      decimal.Decimal
	Amount    decimal.Decimal
}

// NewDetail prices quantity at rate.
func NewDetail(at time.Time, quantity, rate decimal.Decimal) Detail {
	return Detail{Timestamp: at.UTC(), Quantity: quantity, Rate: rate, Amount: quantity.Mul(rate)}
}

// Line is one priced component of a settlement. A line with detail derives
// quantity and amount from it; otherwise amount is quantity times unit price.
// Amounts round to two decimals at the line, never earlier.
type Line struct {
	PriceID     string
	Kind        LineKind
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	Detail      []Detail
}

// Key identifies the priced source of the line across versions.
func (l Line) Key() string {
	return string(l.Kind) + ":" + l.PriceID
}

func (l Line) derive() Line {
	out := l.clone()
	if len(out.Detail) == 0 {
		out.Amount = out.Quantity.Mul(out.UnitPrice).Round(amountPlaces)
		return out
	}
	qty, raw := decimal.Zero, decimal.Zero
	for _, d := range out.Detail {
		qty = qty.Add(d.Quantity)
		raw = raw.Add(d.Amount)
	}
	out.Quantity = qty
	out.Amount = raw.Round(amountPlaces)
	if !qty.IsZero() {
		out.UnitPrice = raw.DivRound(qty, 6)
	}
	return out
}

func detailKey(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}

// details returns the detail, or the whole line as one undated detail.
func (l Line) details() []Detail {
	if len(l.Detail) > 0 {
		return l.Detail
	}
	if l.Quantity.IsZero() && l.Amount.IsZero() {
		return nil
	}
	return []Detail{{Quantity: l.Quantity, Rate: l.UnitPrice, Amount: l.Quantity.Mul(l.UnitPrice)}}
}

func (l Line) clone() Line {
	out := l
	out.Detail = append([]Detail(nil), l.Detail...)
	return out
}

// Zero reports whether the line carries nothing.
func (l Line) Zero() bool {
	return l.Quantity.IsZero() && l.Amount.IsZero()
}

// Delta returns the line that brings billed up to l. Detail is differenced
// per timestamp; a line without detail carries the exact amount difference.
func (l Line) Delta(billed Line) Line {
	out := Line{PriceID: l.PriceID, Kind: l.Kind, Description: l.Description}
	if len(l.Detail) == 0 && len(billed.Detail) == 0 {
		if l.UnitPrice.Equal(billed.UnitPrice) {
			out.Quantity = l.Quantity.Sub(billed.Quantity)
			out.UnitPrice = l.UnitPrice
			return out.derive()
		}
		out.Detail = []Detail{{
			Quantity: l.Quantity.Sub(billed.Quantity),
			Rate:     l.UnitPrice,
			Amount:   l.Amount.Sub(billed.Amount),
		}}
		return out.derive()
	}
	byTime := make(map[int64]Detail)
	var order []int64
	for _, d := range billed.details() {
		key := detailKey(d.Timestamp)
		if _, ok := byTime[key]; !ok {
			order = append(order, key)
		}
		byTime[key] = Detail{
			Timestamp: d.Timestamp,
			Quantity:  byTime[key].Quantity.Sub(d.Quantity),
			Rate:      d.Rate,
			Amount:    byTime[key].Amount.Sub(d.Amount),
		}
	}
	for _, d := range l.details() {
		key := detailKey(d.Timestamp)
		prev, ok := byTime[key]
		if !ok {
			order = append(order, key)
		}
		byTime[key] = Detail{
			Timestamp: d.Timestamp,
			Quantity:  prev.Quantity.Add(d.Quantity),
			Rate:      d.Rate,
			Amount:    prev.Amount.Add(d.Amount),
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, key := range order {
		d := byTime[key]
		if d.Quantity.IsZero() && d.Amount.IsZero() {
			continue
		}
		out.Detail = append(out.Detail, d)
	}
	return out.derive()
}

// Negate returns the line with every quantity and amount negated.
func (l Line) Negate() Line {
	out := l.clone()
	out.Quantity = out.Quantity.Neg()
	out.Amount = out.Amount.Neg()
	for i := range out.Detail {
		out.Detail[i].Quantity = out.Detail[i].Quantity.Neg()
		out.Detail[i].Amount = out.Detail[i].Amount.Neg()
	}
	return out
}

// Accumulate merges lines by key, summing quantities and per-timestamp
// detail. It is the invoiced content of an original plus its delta
// corrections.
func Accumulate(into map[string]Line, lines []Line) {
	for _, l := range lines {
		key := l.Key()
		prev, ok := into[key]
		if !ok {
			into[key] = l.clone()
			continue
		}
		// Summing A and B equals (A) minus the negation of B.
		into[key] = prev.Delta(l.Negate())
	}
}
