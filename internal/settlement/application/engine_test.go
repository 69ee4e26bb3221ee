package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	masterdata "supplier-core/internal/masterdata/domain"
	mdmemory "supplier-core/internal/masterdata/infrastructure/memory"
	"supplier-core/internal/settlement/application"
	settlement "supplier-core/internal/settlement/domain"
	settlementmemory "supplier-core/internal/settlement/infrastructure/memory"
)

const gsrn = "571313180400000028"

var (
	feb      = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	linkFrom = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type harness struct {
	ctx      context.Context
	series   *mdmemory.TimeSeries
	supplies *mdmemory.Supplies
	prices   *mdmemory.Prices
	products *mdmemory.Products
	spots    *mdmemory.SpotPrices
	points   *mdmemory.MeteringPoints
	repo     *settlementmemory.SettlementRepository
	docs     *application.DocumentService
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ctx:      context.Background(),
		series:   mdmemory.NewTimeSeries(),
		supplies: mdmemory.NewSupplies(),
		prices:   mdmemory.NewPrices(),
		products: mdmemory.NewProducts(),
		spots:    mdmemory.NewSpotPrices(),
		points:   mdmemory.NewMeteringPoints(),
		repo:     settlementmemory.NewSettlementRepository(),
		now:      time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC),
	}
	docs, err := application.NewDocumentService(h.repo, nil)
	require.NoError(t, err)
	docs.SetClock(h.clock)
	h.docs = docs
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) engine(t *testing.T, opts ...application.EngineOption) *application.Engine {
	t.Helper()
	calc, err := application.NewCalculator(application.PriceSources{
		Prices:     h.prices,
		PriceLinks: h.prices,
		Products:   h.products,
		SpotPrices: h.spots,
	})
	require.NoError(t, err)
	opts = append([]application.EngineOption{application.WithEngineClock(h.clock)}, opts...)
	e, err := application.NewEngine(calc, h.repo, application.EngineStores{
		TimeSeries:     h.series,
		Supplies:       h.supplies,
		MeteringPoints: h.points,
	}, nil, opts...)
	require.NoError(t, err)
	return e
}

func (h *harness) supply(t *testing.T, productID string) {
	t.Helper()
	require.NoError(t, h.supplies.Create(h.ctx, &masterdata.Supply{
		ID:            "supply-1",
		MeteringPoint: gsrn,
		CustomerID:    "customer-1",
		ProductID:     productID,
		Start:         feb,
	}))
}

func (h *harness) price(t *testing.T, chargeID string, typ masterdata.PriceType, rate string) string {
	t.Helper()
	p := &masterdata.Price{
		ChargeID:    chargeID,
		OwnerGLN:    "5790000432752",
		Type:        typ,
		Description: chargeID,
		ValidFrom:   linkFrom,
		Rate:        dec(rate),
	}
	require.NoError(t, h.prices.Upsert(h.ctx, p))
	require.NoError(t, h.prices.UpsertLink(h.ctx, &masterdata.PriceLink{
		MeteringPoint: gsrn,
		PriceID:       p.ID,
		ValidFrom:     linkFrom,
	}))
	return p.ID
}

func (h *harness) appendHourly(t *testing.T, quantities ...string) *masterdata.TimeSeries {
	t.Helper()
	ts := &masterdata.TimeSeries{
		MeteringPoint: gsrn,
		PeriodStart:   feb,
		PeriodEnd:     feb.Add(time.Duration(len(quantities)) * time.Hour),
		Resolution:    "PT1H",
	}
	for i, q := range quantities {
		ts.Observations = append(ts.Observations, masterdata.Observation{
			Timestamp: feb.Add(time.Duration(i) * time.Hour),
			Quantity:  dec(q),
			Quality:   "A04",
		})
	}
	appended, err := h.series.Append(h.ctx, ts)
	require.NoError(t, err)
	require.True(t, appended)
	return ts
}

func TestCalculatorMonthEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	for _, tariff := range []struct{ id, rate string }{
		{"nettarif", "0.2616"},
		{"systemtarif", "0.0540"},
		{"transmission", "0.0490"},
		{"balance", "0.0080"},
		{"elafgift", "0.1500"},
	} {
		h.price(t, tariff.id, masterdata.PriceTariff, tariff.rate)
	}
	h.price(t, "abonnement", masterdata.PriceSubscription, "23.20")

	// 27 days of 23.15 kWh and one of 23.06 kWh make 648.11 kWh.
	ts := &masterdata.TimeSeries{
		MeteringPoint: gsrn,
		PeriodStart:   feb,
		PeriodEnd:     feb.AddDate(0, 1, 0),
		Resolution:    "P1D",
	}
	for day := 0; day < 28; day++ {
		q := "23.15"
		if day == 27 {
			q = "23.06"
		}
		ts.Observations = append(ts.Observations, masterdata.Observation{Timestamp: feb.AddDate(0, 0, day), Quantity: dec(q)})
	}
	_, err := h.series.Append(h.ctx, ts)
	require.NoError(t, err)
	require.True(t, ts.Energy().Equal(dec("648.11")))

	res, err := h.engine(t).Settle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)

	docs, err := h.docs.List(h.ctx, settlement.ViewReady, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[0]

	amounts := make(map[string]string)
	for _, l := range doc.Lines() {
		amounts[l.Description] = l.Amount.StringFixed(2)
		if l.Kind == settlement.LineSubscription {
			assert.True(t, l.Quantity.Equal(dec("28")))
		}
	}
	assert.Equal(t, map[string]string{
		"nettarif":     "169.55",
		"systemtarif":  "35.00",
		"transmission": "31.76",
		"balance":      "5.18",
		"elafgift":     "97.22",
		"abonnement":   "649.60",
	}, amounts)
	assert.Equal(t, "988.31", doc.TotalAmount().StringFixed(2))
	assert.True(t, doc.TotalEnergy().Equal(dec("648.11")))
	assert.Equal(t, int64(1), doc.DocumentNumber())
	assert.False(t, doc.IsCorrection())
}

func TestSubscriptionPricedPerRateSegment(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	mid := feb.AddDate(0, 0, 14)
	p := &masterdata.Price{
		ChargeID:    "abonnement",
		OwnerGLN:    "5790000432752",
		Type:        masterdata.PriceSubscription,
		Description: "abonnement",
		ValidFrom:   linkFrom,
		Points: []masterdata.PricePoint{
			{Timestamp: mid, Price: dec("30.00")},
			{Timestamp: feb, Price: dec("20.00")},
		},
	}
	require.NoError(t, h.prices.Upsert(h.ctx, p))
	require.NoError(t, h.prices.UpsertLink(h.ctx, &masterdata.PriceLink{MeteringPoint: gsrn, PriceID: p.ID, ValidFrom: linkFrom}))

	ts := &masterdata.TimeSeries{
		MeteringPoint: gsrn,
		PeriodStart:   feb,
		PeriodEnd:     feb.AddDate(0, 1, 0),
		Resolution:    "P1D",
	}
	for d := 0; d < 28; d++ {
		ts.Observations = append(ts.Observations, masterdata.Observation{Timestamp: feb.AddDate(0, 0, d), Quantity: dec("10")})
	}
	_, err := h.series.Append(h.ctx, ts)
	require.NoError(t, err)

	_, err = h.engine(t).Settle(h.ctx, 10)
	require.NoError(t, err)
	ready, err := h.docs.List(h.ctx, settlement.ViewReady, "")
	require.NoError(t, err)
	require.Len(t, ready, 1)

	lines := ready[0].Lines()
	require.Len(t, lines, 1)
	sub := lines[0]
	assert.Equal(t, settlement.LineSubscription, sub.Kind)
	require.Len(t, sub.Detail, 2)
	assert.Equal(t, feb, sub.Detail[0].Timestamp)
	assert.True(t, sub.Detail[0].Quantity.Equal(dec("14")))
	assert.True(t, sub.Detail[0].Rate.Equal(dec("20.00")))
	assert.Equal(t, mid, sub.Detail[1].Timestamp)
	assert.True(t, sub.Detail[1].Quantity.Equal(dec("14")))
	assert.True(t, sub.Detail[1].Rate.Equal(dec("30.00")))
	assert.True(t, sub.Quantity.Equal(dec("28")))
	// 14 days at 20.00 and 14 at 30.00.
	assert.Equal(t, "700.00", sub.Amount.StringFixed(2))
}

func TestSettleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	h.price(t, "tariff", masterdata.PriceTariff, "1.50")
	ts := h.appendHourly(t, "25", "25", "25", "25")
	e := h.engine(t)

	res, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)

	res, err = e.Settle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, application.Result{}, res)

	out, err := e.SettleSeries(h.ctx, ts)
	require.NoError(t, err)
	assert.Empty(t, out.Created)

	all, err := h.docs.List(h.ctx, settlement.ViewAll, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNewVersionVoidsUninvoicedSettlement(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	h.price(t, "tariff", masterdata.PriceTariff, "1.50")
	h.appendHourly(t, "25", "25", "25", "25")
	e := h.engine(t)
	_, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)

	h.appendHourly(t, "25", "25", "25", "45")
	res, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)
	assert.Equal(t, 1, res.Voided)

	all, err := h.docs.List(h.ctx, settlement.ViewAll, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, settlement.StatusVoided, all[0].Status())
	assert.Equal(t, int64(1), all[0].DocumentNumber())
	assert.Equal(t, settlement.StatusCalculated, all[1].Status())
	assert.Equal(t, int64(2), all[1].DocumentNumber())
	assert.False(t, all[1].IsCorrection())
	assert.Equal(t, "180.00", all[1].TotalAmount().StringFixed(2))
}

func TestCorrectionCarriesDelta(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	h.price(t, "tariff", masterdata.PriceTariff, "1.50")
	h.appendHourly(t, "25", "25", "25", "25")
	e := h.engine(t)
	_, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)

	ready, err := h.docs.List(h.ctx, settlement.ViewReady, "")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	original := ready[0]
	assert.Equal(t, "150.00", original.TotalAmount().StringFixed(2))
	_, err = h.docs.Confirm(h.ctx, original.ID(), "INV-2025-0001")
	require.NoError(t, err)

	h.appendHourly(t, "25", "25", "25", "45")
	res, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Corrections)

	corrections, err := h.docs.List(h.ctx, settlement.ViewCorrections, "")
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	c := corrections[0]
	assert.True(t, c.IsCorrection())
	assert.Equal(t, original.ID(), c.PreviousID())
	assert.Equal(t, settlement.CorrectionDelta, c.CorrectionMode())
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, "30.00", c.Lines()[0].Amount.StringFixed(2))
	assert.True(t, c.TotalEnergy().Equal(dec("20")))
	assert.Equal(t, int64(2), c.DocumentNumber())

	adjusted, err := h.docs.Get(h.ctx, original.ID())
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusAdjusted, adjusted.Status())
	assert.Equal(t, "INV-2025-0001", adjusted.InvoiceReference())
}

func TestSecondDeltaCorrectionBuildsOnInvoicedCorrection(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	h.price(t, "tariff", masterdata.PriceTariff, "1.50")
	h.appendHourly(t, "25", "25", "25", "25")
	e := h.engine(t)
	_, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)
	ready, _ := h.docs.List(h.ctx, settlement.ViewReady, "")
	_, err = h.docs.Confirm(h.ctx, ready[0].ID(), "INV-1")
	require.NoError(t, err)

	h.appendHourly(t, "25", "25", "25", "45")
	_, err = e.Settle(h.ctx, 10)
	require.NoError(t, err)
	ready, _ = h.docs.List(h.ctx, settlement.ViewReady, "")
	require.Len(t, ready, 1)
	_, err = h.docs.Confirm(h.ctx, ready[0].ID(), "INV-2")
	require.NoError(t, err)

	h.appendHourly(t, "25", "25", "25", "35")
	_, err = e.Settle(h.ctx, 10)
	require.NoError(t, err)

	ready, _ = h.docs.List(h.ctx, settlement.ViewReady, "")
	require.Len(t, ready, 1)
	assert.Equal(t, "-15.00", ready[0].TotalAmount().StringFixed(2))
	assert.Equal(t, int64(3), ready[0].DocumentNumber())
}

func TestCorrectionFullMode(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	h.price(t, "tariff", masterdata.PriceTariff, "1.50")
	h.appendHourly(t, "25", "25", "25", "25")
	e := h.engine(t, application.WithCorrectionMode(settlement.CorrectionFull))
	_, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)
	ready, _ := h.docs.List(h.ctx, settlement.ViewReady, "")
	require.Len(t, ready, 1)
	_, err = h.docs.Confirm(h.ctx, ready[0].ID(), "INV-1")
	require.NoError(t, err)

	h.appendHourly(t, "25", "25", "25", "45")
	_, err = e.Settle(h.ctx, 10)
	require.NoError(t, err)

	corrections, err := h.docs.List(h.ctx, settlement.ViewCorrections, "")
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	c := corrections[0]
	assert.Equal(t, settlement.CorrectionFull, c.CorrectionMode())
	assert.Equal(t, "180.00", c.TotalAmount().StringFixed(2))
	assert.True(t, c.TotalEnergy().Equal(dec("120")))
}

func TestDeltaCreditsUnlinkedPrice(t *testing.T) {
	h := newHarness(t)
	h.supply(t, "")
	h.price(t, "tariff", masterdata.PriceTariff, "1.50")
	feeID := h.price(t, "fee", masterdata.PriceFee, "45")
	h.appendHourly(t, "10", "10")
	e := h.engine(t)
	_, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)
	ready, _ := h.docs.List(h.ctx, settlement.ViewReady, "")
	require.Len(t, ready, 1)
	assert.Equal(t, "75.00", ready[0].TotalAmount().StringFixed(2))
	_, err = h.docs.Confirm(h.ctx, ready[0].ID(), "INV-1")
	require.NoError(t, err)

	// The fee link ends before the period.
	require.NoError(t, h.prices.UpsertLink(h.ctx, &masterdata.PriceLink{
		MeteringPoint: gsrn,
		PriceID:       feeID,
		ValidFrom:     linkFrom,
		ValidTo:       linkFrom.AddDate(0, 1, 0),
	}))
	h.appendHourly(t, "10", "12")
	_, err = e.Settle(h.ctx, 10)
	require.NoError(t, err)

	corrections, _ := h.docs.List(h.ctx, settlement.ViewCorrections, "")
	require.Len(t, corrections, 1)
	assert.Equal(t, "-42.00", corrections[0].TotalAmount().StringFixed(2))
}

func TestSettleSkipsSeriesWithoutSupply(t *testing.T) {
	h := newHarness(t)
	h.price(t, "tariff", masterdata.PriceTariff, "1.50")
	h.appendHourly(t, "1")

	res, err := h.engine(t).Settle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	unsettled, err := h.series.ListUnsettled(h.ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unsettled, 1)
}

func TestSpotAddonMarginLine(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.points.Upsert(h.ctx, &masterdata.MeteringPoint{GSRN: gsrn, PriceArea: masterdata.PriceAreaDK1}))
	h.products.Put(masterdata.Product{
		ID:           "product-spot",
		Name:         "Spot",
		PricingModel: masterdata.PricingSpotAddon,
		Rates:        []masterdata.MarginRate{{Start: linkFrom, Rate: dec("0.10")}},
	})
	h.supply(t, "product-spot")
	require.NoError(t, h.spots.Upsert(h.ctx, []masterdata.SpotPrice{
		{Area: masterdata.PriceAreaDK1, Hour: feb, DKKPerMWh: dec("500")},
		{Area: masterdata.PriceAreaDK1, Hour: feb.Add(time.Hour), DKKPerMWh: dec("700")},
	}))
	h.appendHourly(t, "50", "50")

	res, err := h.engine(t).Settle(h.ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Settled)

	ready, _ := h.docs.List(h.ctx, settlement.ViewReady, "")
	require.Len(t, ready, 1)
	lines := ready[0].Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, settlement.LineMargin, lines[0].Kind)
	assert.Equal(t, "Spot", lines[0].Description)
	// 50 x (0.50 + 0.10) + 50 x (0.70 + 0.10)
	assert.Equal(t, "70.00", lines[0].Amount.StringFixed(2))
	require.Len(t, lines[0].Detail, 2)
	assert.True(t, lines[0].Detail[1].Rate.Equal(dec("0.8")))
}

func TestMissingSpotPriceFailsSeries(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.points.Upsert(h.ctx, &masterdata.MeteringPoint{GSRN: gsrn, PriceArea: masterdata.PriceAreaDK2}))
	h.products.Put(masterdata.Product{
		ID:           "product-spot",
		PricingModel: masterdata.PricingSpotAddon,
		Rates:        []masterdata.MarginRate{{Start: linkFrom, Rate: dec("0.10")}},
	})
	h.supply(t, "product-spot")
	ts := h.appendHourly(t, "50")

	e := h.engine(t)
	res, err := e.Settle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	_, err = e.SettleSeries(h.ctx, ts)
	assert.ErrorIs(t, err, application.ErrMissingSpotPrice)
}

type failingCheck struct {
	masterdata.TimeSeriesRepository
}

func (failingCheck) MarkChecked(context.Context, string, time.Time) error {
	return errors.New("connection refused")
}

func TestFailedSeriesLogsMarkCheckedError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.points.Upsert(h.ctx, &masterdata.MeteringPoint{GSRN: gsrn, PriceArea: masterdata.PriceAreaDK2}))
	h.products.Put(masterdata.Product{
		ID:           "product-spot",
		PricingModel: masterdata.PricingSpotAddon,
		Rates:        []masterdata.MarginRate{{Start: linkFrom, Rate: dec("0.10")}},
	})
	h.supply(t, "product-spot")
	ts := h.appendHourly(t, "50")

	core, logs := observer.New(zap.ErrorLevel)
	calc, err := application.NewCalculator(application.PriceSources{
		Prices:     h.prices,
		PriceLinks: h.prices,
		Products:   h.products,
		SpotPrices: h.spots,
	})
	require.NoError(t, err)
	e, err := application.NewEngine(calc, h.repo, application.EngineStores{
		TimeSeries:     failingCheck{h.series},
		Supplies:       h.supplies,
		MeteringPoints: h.points,
	}, zap.New(core))
	require.NoError(t, err)

	_, err = e.SettleSeries(h.ctx, ts)
	assert.ErrorIs(t, err, application.ErrMissingSpotPrice)
	entries := logs.FilterMessage("mark time series checked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, ts.ID, entries[0].ContextMap()["time_series_id"])
	assert.Equal(t, "connection refused", entries[0].ContextMap()["error"])
}

func TestFixedProductMargin(t *testing.T) {
	h := newHarness(t)
	h.products.Put(masterdata.Product{
		ID:           "product-fixed",
		Name:         "Fast pris",
		PricingModel: masterdata.PricingFixed,
		Rates:        []masterdata.MarginRate{{Start: linkFrom, End: feb.Add(time.Hour), Rate: dec("1.00")}, {Start: feb, Rate: dec("2.00")}},
	})
	h.supply(t, "product-fixed")
	h.appendHourly(t, "10", "10")

	_, err := h.engine(t).Settle(h.ctx, 10)
	require.NoError(t, err)
	ready, _ := h.docs.List(h.ctx, settlement.ViewReady, "")
	require.Len(t, ready, 1)
	// 00:00 is not strictly after the open-ended start, so the bounded rate
	// applies; 01:00 takes the later open-ended rate.
	assert.Equal(t, "30.00", ready[0].TotalAmount().StringFixed(2))
}
