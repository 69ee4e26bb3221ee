package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	masterdata "supplier-core/internal/masterdata/domain"
	settlement "supplier-core/internal/settlement/domain"
)

var (
	// ErrMissingSpotPrice is returned when a spot-addon margin hits an hour
	// without a published spot price.
	ErrMissingSpotPrice = errors.New("settlement calculator: missing spot price")
	// ErrMissingPriceArea is returned when a spot-addon margin is computed for
	// a metering point without a price area.
	ErrMissingPriceArea = errors.New("settlement calculator: metering point has no price area")
)

// PriceLinkReader lists the price links of a metering point.
type PriceLinkReader interface {
	ListOverlapping(ctx context.Context, gsrn string, period masterdata.Period) ([]masterdata.PriceLink, error)
}

// PriceSources is what the calculator reads prices from. Products and
// SpotPrices may be nil when no supply carries a product.
type PriceSources struct {
	Prices     masterdata.PriceRepository
	PriceLinks PriceLinkReader
	Products   masterdata.ProductRepository
	SpotPrices masterdata.SpotPriceRepository
}

// Calculator turns a time series and the prices linked to its metering
// point into settlement lines.
type Calculator struct {
	src PriceSources
}

// NewCalculator constructs a calculator.
func NewCalculator(src PriceSources) (*Calculator, error) {
	if src.Prices == nil {
		return nil, errors.New("settlement calculator: nil price repository")
	}
	if src.PriceLinks == nil {
		return nil, errors.New("settlement calculator: nil price link repository")
	}
	return &Calculator{src: src}, nil
}

// Input is one settlement computation.
type Input struct {
	MeteringPoint *masterdata.MeteringPoint
	Supply        masterdata.Supply
	Series        *masterdata.TimeSeries
	Period        masterdata.Period
}

type linkedPrice struct {
	price   *masterdata.Price
	windows []masterdata.Period
}

// Compute returns one line per linked price plus the supplier margin line
// when the supply carries a product. Lines come back in link order.
func (c *Calculator) Compute(ctx context.Context, in Input) ([]settlement.Line, error) {
	if in.Series == nil {
		return nil, errors.New("settlement calculator: nil time series")
	}
	if in.Period.OpenEnded() {
		return nil, settlement.ErrInvalidPeriod
	}
	gsrn := in.Series.MeteringPoint

	links, err := c.src.PriceLinks.ListOverlapping(ctx, gsrn, in.Period)
	if err != nil {
		return nil, err
	}
	linked := make(map[string]*linkedPrice)
	var order []string
	for _, link := range links {
		window, ok := link.Validity().Intersect(in.Period)
		if !ok {
			continue
		}
		lp, seen := linked[link.PriceID]
		if !seen {
			price, err := c.src.Prices.Get(ctx, link.PriceID)
			if err != nil {
				return nil, fmt.Errorf("price %s: %w", link.PriceID, err)
			}
			lp = &linkedPrice{price: price}
			linked[link.PriceID] = lp
			order = append(order, link.PriceID)
		}
		if w, ok := window.Intersect(lp.price.Validity()); ok {
			lp.windows = append(lp.windows, w)
		}
	}

	var lines []settlement.Line
	for _, id := range order {
		lp := linked[id]
		if len(lp.windows) == 0 {
			continue
		}
		line, err := priceLine(lp, in.Series)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", id, err)
		}
		lines = append(lines, line)
	}

	if in.Supply.ProductID != "" {
		line, err := c.marginLine(ctx, in)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func priceLine(lp *linkedPrice, series *masterdata.TimeSeries) (settlement.Line, error) {
	p := lp.price
	line := settlement.Line{PriceID: p.ID, Description: p.Description}
	switch p.Type {
	case masterdata.PriceTariff:
		line.Kind = settlement.LineTariff
		for _, w := range lp.windows {
			for _, o := range series.Within(w) {
				rate, err := p.RateAt(o.Timestamp)
				if err != nil {
					return line, fmt.Errorf("%s: %w", o.Timestamp.Format(time.RFC3339), err)
				}
				line.Detail = append(line.Detail, settlement.NewDetail(o.Timestamp, o.Quantity, rate))
			}
		}
		sort.Slice(line.Detail, func(i, j int) bool { return line.Detail[i].Timestamp.Before(line.Detail[j].Timestamp) })
	case masterdata.PriceSubscription:
		line.Kind = settlement.LineSubscription
		var parts []settlement.Detail
		for _, w := range lp.windows {
			for _, seg := range rateSegments(*p, w) {
				rate, err := p.RateAt(seg.Start)
				if err != nil {
					return line, fmt.Errorf("%s: %w", seg.Start.Format(time.RFC3339), err)
				}
				parts = append(parts, settlement.NewDetail(seg.Start, decimal.NewFromInt(int64(seg.Days())), rate))
			}
		}
		if rate, ok := singleRate(parts); ok {
			days := decimal.Zero
			for _, d := range parts {
				days = days.Add(d.Quantity)
			}
			line.Quantity = days
			line.UnitPrice = rate
			break
		}
		line.Detail = parts
	case masterdata.PriceFee:
		line.Kind = settlement.LineFee
		rate, err := p.RateAt(lp.windows[0].Start)
		if err != nil {
			return line, err
		}
		line.Quantity = decimal.NewFromInt(1)
		line.UnitPrice = rate
	default:
		return line, masterdata.ErrUnknownPriceType
	}
	return line, nil
}

// rateSegments splits w at every price point inside it so each segment
// carries a single rate.
func rateSegments(p masterdata.Price, w masterdata.Period) []masterdata.Period {
	var cuts []time.Time
	for _, pt := range p.Points {
		if pt.Timestamp.After(w.Start) && w.Contains(pt.Timestamp) {
			cuts = append(cuts, pt.Timestamp.UTC())
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })

	var out []masterdata.Period
	start := w.Start
	for _, cut := range cuts {
		if cut.Equal(start) {
			continue
		}
		out = append(out, masterdata.Period{Start: start, End: cut})
		start = cut
	}
	return append(out, masterdata.Period{Start: start, End: w.End})
}

func singleRate(parts []settlement.Detail) (decimal.Decimal, bool) {
	if len(parts) == 0 {
		return decimal.Zero, false
	}
	for _, d := range parts[1:] {
		if !d.Rate.Equal(parts[0].Rate) {
			return decimal.Zero, false
		}
	}
	return parts[0].Rate, true
}

// marginLine prices every observation at spot plus margin for spot-addon
// products, or at the fixed rate for fixed products.
func (c *Calculator) marginLine(ctx context.Context, in Input) (settlement.Line, error) {
	if c.src.Products == nil {
		return settlement.Line{}, errors.New("settlement calculator: nil product repository")
	}
	product, err := c.src.Products.Get(ctx, in.Supply.ProductID)
	if err != nil {
		return settlement.Line{}, fmt.Errorf("product %s: %w", in.Supply.ProductID, err)
	}
	line := settlement.Line{PriceID: product.ID, Kind: settlement.LineMargin, Description: product.Name}
	if line.Description == "" {
		line.Description = product.ID
	}
	observations := in.Series.Within(in.Period)

	var spots map[time.Time]decimal.Decimal
	if product.PricingModel == masterdata.PricingSpotAddon {
		if c.src.SpotPrices == nil {
			return line, errors.New("settlement calculator: nil spot price repository")
		}
		if in.MeteringPoint == nil || in.MeteringPoint.PriceArea == "" {
			return line, ErrMissingPriceArea
		}
		spots, err = c.src.SpotPrices.Range(ctx, in.MeteringPoint.PriceArea, in.Period)
		if err != nil {
			return line, err
		}
	}
	for _, o := range observations {
		rate, err := product.RateAt(o.Timestamp)
		if err != nil {
			return line, fmt.Errorf("product %s at %s: %w", product.ID, o.Timestamp.Format(time.RFC3339), err)
		}
		if product.PricingModel == masterdata.PricingSpotAddon {
			hour := o.Timestamp.UTC().Truncate(time.Hour)
			spot, ok := spots[hour]
			if !ok {
				return line, fmt.Errorf("%w: %s %s", ErrMissingSpotPrice, in.MeteringPoint.PriceArea, hour.Format(time.RFC3339))
			}
			rate = spot.Add(rate)
		}
		line.Detail = append(line.Detail, settlement.NewDetail(o.Timestamp, o.Quantity, rate))
	}
	return line, nil
}
