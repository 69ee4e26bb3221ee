package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	masterdata "supplier-core/internal/masterdata/domain"
)

const testGSRN = "571313180400000028"

func hourlySeries(id string, quantities ...string) *masterdata.TimeSeries {
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	ts := &masterdata.TimeSeries{
		ID:            id,
		MeteringPoint: testGSRN,
		PeriodStart:   start,
		PeriodEnd:     start.Add(time.Duration(len(quantities)) * time.Hour),
		Resolution:    "PT1H",
	}
	for i, q := range quantities {
		ts.Observations = append(ts.Observations, masterdata.Observation{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Quantity:  decimal.RequireFromString(q),
			Quality:   "A04",
		})
	}
	return ts
}

func TestAppendSupersedesLatestVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := hourlySeries("ts-2", "1.5", "2.0")

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(testGSRN).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("COALESCE\\(MAX\\(version\\), 0\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max", "id"}).AddRow(1, "ts-1"))
	mock.ExpectQuery("FROM time_series_observations").WithArgs("ts-1").
		WillReturnRows(sqlmock.NewRows([]string{"at", "quantity", "quality"}).
			AddRow(ts.PeriodStart, "1.0", "A04").
			AddRow(ts.PeriodStart.Add(time.Hour), "2.0", "A04"))
	mock.ExpectExec("UPDATE time_series\\s+SET is_latest = FALSE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO time_series \\(").
		WithArgs("ts-2", testGSRN, ts.PeriodStart, ts.PeriodEnd, "PT1H", 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO time_series_observations").
		WithArgs("ts-2", 1, ts.PeriodStart, sqlmock.AnyArg(), "A04").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO time_series_observations").
		WithArgs("ts-2", 2, ts.PeriodStart.Add(time.Hour), sqlmock.AnyArg(), "A04").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	appended, err := NewTimeSeriesRepository(db).Append(context.Background(), ts)
	require.NoError(t, err)
	assert.True(t, appended)
	assert.Equal(t, 2, ts.Version)
	assert.True(t, ts.IsLatest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendIdenticalDataIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := hourlySeries("ts-2", "1.5")
	received := time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("COALESCE\\(MAX\\(version\\), 0\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max", "id"}).AddRow(1, "ts-1"))
	mock.ExpectQuery("FROM time_series_observations").WithArgs("ts-1").
		WillReturnRows(sqlmock.NewRows([]string{"at", "quantity", "quality"}).AddRow(ts.PeriodStart, "1.50", "A04"))
	mock.ExpectRollback()
	mock.ExpectQuery("FROM time_series WHERE id = \\$1").WithArgs("ts-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "metering_point", "period_start", "period_end", "resolution", "version", "is_latest", "transaction_id", "received_at",
		}).AddRow("ts-1", testGSRN, ts.PeriodStart, ts.PeriodEnd, "PT1H", 1, true, "tx-1", received))
	mock.ExpectQuery("FROM time_series_observations").WithArgs("ts-1").
		WillReturnRows(sqlmock.NewRows([]string{"at", "quantity", "quality"}).AddRow(ts.PeriodStart, "1.50", "A04"))

	appended, err := NewTimeSeriesRepository(db).Append(context.Background(), ts)
	require.NoError(t, err)
	assert.False(t, appended)
	assert.Equal(t, "ts-1", ts.ID)
	assert.Equal(t, 1, ts.Version)
	assert.Equal(t, "tx-1", ts.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerFindOrCreateReturnsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO customers").
		WithArgs("cust-1", "Jens Hansen", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM customers WHERE id = \\$1").WithArgs("cust-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).AddRow("cust-1", "Jens Hansen", created))

	c, createdNow, err := NewCustomerRepository(db).FindOrCreate(context.Background(), masterdata.Customer{ID: "cust-1", Name: "Jens Hansen"})
	require.NoError(t, err)
	assert.False(t, createdNow)
	assert.Equal(t, created, c.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplyFindCoveringNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM supplies").WithArgs(testGSRN, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewSupplyRepository(db).FindCovering(context.Background(), testGSRN, at)
	assert.ErrorIs(t, err, masterdata.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplyUpdateWritesEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	end := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := &masterdata.Supply{ID: "sup-1", MeteringPoint: testGSRN, CustomerID: "cust-1", Start: end.AddDate(0, -1, 0), End: end}
	mock.ExpectExec("UPDATE supplies").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "sup-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewSupplyRepository(db).Update(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotPriceRangeConvertsToKWh(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	hour := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM spot_prices").
		WillReturnRows(sqlmock.NewRows([]string{"hour", "dkk_per_mwh"}).AddRow(hour, "412.50"))

	prices, err := NewSpotPriceRepository(db).Range(context.Background(), "DK1", masterdata.Period{Start: hour, End: hour.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.4125").Equal(prices[hour]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceUpsertReplacesPoints(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &masterdata.Price{
		ChargeID:  "40000",
		OwnerGLN:  "5790000432752",
		Type:      masterdata.PriceTariff,
		ValidFrom: from,
		Points:    []masterdata.PricePoint{{Timestamp: from, Price: decimal.RequireFromString("0.2")}},
	}
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO prices").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("price-existing"))
	mock.ExpectExec("DELETE FROM price_points").WithArgs("price-existing").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO price_points").
		WithArgs("price-existing", from, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPriceRepository(db).Upsert(context.Background(), p))
	assert.Equal(t, "price-existing", p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
