package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	masterdata "supplier-core/internal/masterdata/domain"
	mdpostgres "supplier-core/internal/masterdata/infrastructure/postgres"
	"supplier-core/internal/settlement/application"
	settlement "supplier-core/internal/settlement/domain"
	settlementpostgres "supplier-core/internal/settlement/infrastructure/postgres"
	"supplier-core/internal/testutil/pgtest"
)

const gsrn = "571313180400000028"

var (
	feb      = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	linkFrom = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	ctx    context.Context
	series *mdpostgres.TimeSeriesRepository
	repo   *settlementpostgres.SettlementRepository
	engine *application.Engine
	docs   *application.DocumentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := pgtest.Open(t)
	ctx := context.Background()

	points := mdpostgres.NewMeteringPointRepository(db)
	require.NoError(t, points.Upsert(ctx, &masterdata.MeteringPoint{
		GSRN:             gsrn,
		Type:             "E17",
		SettlementMethod: "E02",
		GridArea:         "344",
		PriceArea:        masterdata.PriceAreaDK1,
	}))
	_, _, err := mdpostgres.NewCustomerRepository(db).FindOrCreate(ctx, masterdata.Customer{ID: "customer-1", Name: "Jens Hansen"})
	require.NoError(t, err)

	supplies := mdpostgres.NewSupplyRepository(db)
	require.NoError(t, supplies.Create(ctx, &masterdata.Supply{
		ID:            uuid.NewString(),
		MeteringPoint: gsrn,
		CustomerID:    "customer-1",
		Start:         feb,
	}))

	prices := mdpostgres.NewPriceRepository(db)
	links := mdpostgres.NewPriceLinkRepository(db)
	tariff := &masterdata.Price{
		ChargeID:    "nettarif",
		OwnerGLN:    "5790000432752",
		Type:        masterdata.PriceTariff,
		Description: "Nettarif",
		ValidFrom:   linkFrom,
		Rate:        decimal.RequireFromString("1.50"),
	}
	require.NoError(t, prices.Upsert(ctx, tariff))
	require.NoError(t, links.Upsert(ctx, &masterdata.PriceLink{
		MeteringPoint: gsrn,
		PriceID:       tariff.ID,
		ValidFrom:     linkFrom,
	}))

	repo := settlementpostgres.NewSettlementRepository(db)
	calc, err := application.NewCalculator(application.PriceSources{
		Prices:     prices,
		PriceLinks: links,
		Products:   mdpostgres.NewProductRepository(db),
		SpotPrices: mdpostgres.NewSpotPriceRepository(db),
	})
	require.NoError(t, err)
	series := mdpostgres.NewTimeSeriesRepository(db)
	engine, err := application.NewEngine(calc, repo, application.EngineStores{
		TimeSeries:     series,
		Supplies:       supplies,
		MeteringPoints: points,
	}, nil)
	require.NoError(t, err)
	docs, err := application.NewDocumentService(repo, nil)
	require.NoError(t, err)

	return &fixture{ctx: ctx, series: series, repo: repo, engine: engine, docs: docs}
}

func (f *fixture) appendHourly(t *testing.T, quantities ...string) *masterdata.TimeSeries {
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
			Quantity:  decimal.RequireFromString(q),
			Quality:   "A04",
		})
	}
	appended, err := f.series.Append(f.ctx, ts)
	require.NoError(t, err)
	require.True(t, appended)
	return ts
}

func TestSettlementLifecycleOnPostgres(t *testing.T) {
	f := newFixture(t)

	f.appendHourly(t, "25", "25", "25", "25")
	res, err := f.engine.Settle(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)

	unsettled, err := f.series.ListUnsettled(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)

	ready, err := f.docs.List(f.ctx, settlement.ViewReady, gsrn)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	original := ready[0]
	assert.Equal(t, int64(1), original.DocumentNumber())
	assert.Equal(t, "150.00", original.TotalAmount().StringFixed(2))
	assert.True(t, original.TotalEnergy().Equal(decimal.RequireFromString("100")))
	require.Len(t, original.Lines(), 1)
	assert.Len(t, original.Lines()[0].Detail, 4)

	_, err = f.docs.Confirm(f.ctx, original.ID(), "INV-2025-0001")
	require.NoError(t, err)
	_, err = f.docs.Confirm(f.ctx, original.ID(), "INV-2025-0002")
	assert.ErrorIs(t, err, settlement.ErrInvalidStatus)

	f.appendHourly(t, "25", "25", "25", "45")
	res, err = f.engine.Settle(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Corrections)

	corrections, err := f.docs.List(f.ctx, settlement.ViewCorrections, "")
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	c := corrections[0]
	assert.Equal(t, original.ID(), c.PreviousID())
	assert.Equal(t, settlement.CorrectionDelta, c.CorrectionMode())
	assert.Equal(t, int64(2), c.DocumentNumber())
	assert.Equal(t, "30.00", c.TotalAmount().StringFixed(2))

	adjusted, err := f.docs.Get(f.ctx, original.ID())
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusAdjusted, adjusted.Status())
	assert.Equal(t, "INV-2025-0001", adjusted.InvoiceReference())
	assert.False(t, adjusted.InvoicedAt().IsZero())
}

func TestNewVersionVoidsCalculatedSettlementOnPostgres(t *testing.T) {
	f := newFixture(t)

	f.appendHourly(t, "10", "10")
	_, err := f.engine.Settle(f.ctx, 10)
	require.NoError(t, err)
	f.appendHourly(t, "10", "12")
	res, err := f.engine.Settle(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Voided)

	all, err := f.docs.List(f.ctx, settlement.ViewAll, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, settlement.StatusVoided, all[0].Status())
	assert.NotEmpty(t, all[0].VoidReason())
	assert.Equal(t, settlement.StatusCalculated, all[1].Status())
	assert.Greater(t, all[1].DocumentNumber(), all[0].DocumentNumber())
}

func TestDuplicateSettlementIsRejectedOnPostgres(t *testing.T) {
	f := newFixture(t)

	f.appendHourly(t, "5")
	_, err := f.engine.Settle(f.ctx, 10)
	require.NoError(t, err)
	all, err := f.docs.List(f.ctx, settlement.ViewAll, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	existing := all[0]

	dup, err := settlement.New(settlement.Draft{
		ID:                uuid.NewString(),
		MeteringPoint:     existing.MeteringPoint(),
		SupplyID:          existing.SupplyID(),
		TimeSeriesID:      existing.TimeSeriesID(),
		TimeSeriesVersion: existing.TimeSeriesVersion(),
		PeriodStart:       existing.PeriodStart(),
		PeriodEnd:         existing.PeriodEnd(),
		CreatedAt:         time.Now().UTC(),
	})
	require.NoError(t, err)
	err = f.repo.Save(f.ctx, settlement.Commit{Created: dup})
	assert.ErrorIs(t, err, settlement.ErrAlreadySettled)

	all, err = f.docs.List(f.ctx, settlement.ViewAll, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
