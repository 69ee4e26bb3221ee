package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	settlement "supplier-core/internal/settlement/domain"
)

var (
	start = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end   = start.AddDate(0, 1, 0)
	cols  = []string{"id", "document_number", "metering_point", "supply_id", "time_series_id",
		"time_series_version", "period_start", "period_end", "status", "is_correction", "correction_mode",
		"previous_id", "invoice_reference", "invoiced_at", "void_reason", "created_at", "updated_at"}
)

func draft(id, series string) settlement.Draft {
	return settlement.Draft{
		ID:                id,
		MeteringPoint:     "571313180400000028",
		SupplyID:          "supply-1",
		TimeSeriesID:      series,
		TimeSeriesVersion: 1,
		PeriodStart:       start,
		PeriodEnd:         end,
		CreatedAt:         start,
	}
}

func TestSaveAssignsDocumentNumberAndWritesLines(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	prev, err := settlement.New(draft("s-1", "ts-1"))
	require.NoError(t, err)
	require.NoError(t, prev.Void("superseded by time series version 2", start))

	s, err := settlement.New(draft("s-2", "ts-2"))
	require.NoError(t, err)
	s.AddLine(settlement.Line{PriceID: "p-1", Kind: settlement.LineTariff, Description: "Nettarif", Detail: []settlement.Detail{
		settlement.NewDetail(start, decimal.RequireFromString("150.5"), decimal.RequireFromString("0.3456")),
	}})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE settlements").
		WithArgs("Voided", nil, nil, "superseded by time series version 2", sqlmock.AnyArg(), "s-1", "Calculated").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT nextval\\('settlement_document_number_seq'\\)").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))
	mock.ExpectExec("INSERT INTO settlements").
		WithArgs("s-2", int64(42), "571313180400000028", "supply-1", "ts-2", 1,
			start, end, "Calculated", false, nil, nil, "150.5", "52.01", start, start).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO settlement_lines").
		WithArgs("s-2", 0, "p-1", "tariff", "Nettarif", "150.5", "0.3456", "52.01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO settlement_line_details").
		WithArgs("s-2", 0, start, "150.5", "0.3456", "52.0128").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewSettlementRepository(db)
	err = repo.Save(context.Background(), settlement.Commit{
		Created:    s,
		Superseded: []settlement.Superseded{{Settlement: prev, From: settlement.StatusCalculated}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.DocumentNumber())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := settlement.New(draft("s-1", "ts-1"))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT nextval").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO settlements").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err = NewSettlementRepository(db).Save(context.Background(), settlement.Commit{Created: s})
	assert.ErrorIs(t, err, settlement.ErrAlreadySettled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackWhenSupersededChanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	prev, err := settlement.New(draft("s-1", "ts-1"))
	require.NoError(t, err)
	require.NoError(t, prev.Void("superseded", start))
	s, err := settlement.New(draft("s-2", "ts-2"))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE settlements").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM settlements").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Invoiced"))
	mock.ExpectRollback()

	err = NewSettlementRepository(db).Save(context.Background(), settlement.Commit{
		Created:    s,
		Superseded: []settlement.Superseded{{Settlement: prev, From: settlement.StatusCalculated}},
	})
	var statusErr *settlement.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, settlement.StatusInvoiced, statusErr.Current)
	assert.Equal(t, "void", statusErr.Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusConflictNamesStoredStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := settlement.New(draft("s-1", "ts-1"))
	require.NoError(t, err)
	invoicedAt := start.AddDate(0, 1, 2)
	require.NoError(t, s.MarkInvoiced("INV-9", invoicedAt))

	mock.ExpectExec("UPDATE settlements").
		WithArgs("Invoiced", "INV-9", invoicedAt, nil, invoicedAt, "s-1", "Calculated").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM settlements").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Invoiced"))

	err = NewSettlementRepository(db).UpdateStatus(context.Background(), s, settlement.StatusCalculated)
	require.Error(t, err)
	assert.Equal(t, "Cannot mark as invoiced — status is Invoiced, expected Calculated", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLoadsLinesAndDetail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	local := time.FixedZone("CET", 3600)
	mock.ExpectQuery("FROM settlements").
		WithArgs("s-3").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"s-3", int64(3), "571313180400000028", "supply-1", "ts-3", 2,
			start.In(local), end.In(local), "Calculated", true, "delta", "s-1", nil, nil, nil,
			start, start,
		))
	mock.ExpectQuery("FROM settlement_lines").
		WithArgs("s-3").
		WillReturnRows(sqlmock.NewRows([]string{"line_no", "price_id", "kind", "description", "quantity", "unit_price", "amount"}).
			AddRow(0, "p-1", "tariff", "Nettarif", "20", "1.5", "30").
			AddRow(1, "p-2", "subscription", "Abonnement", "0", "0", "0"))
	mock.ExpectQuery("FROM settlement_line_details").
		WithArgs("s-3").
		WillReturnRows(sqlmock.NewRows([]string{"line_no", "ts", "quantity", "rate", "amount"}).
			AddRow(0, start.Add(3*time.Hour), "20", "1.5", "30").
			AddRow(1, nil, "0", "24", "22.4"))

	s, err := NewSettlementRepository(db).Get(context.Background(), "s-3")
	require.NoError(t, err)
	assert.True(t, s.IsCorrection())
	assert.Equal(t, settlement.CorrectionDelta, s.CorrectionMode())
	assert.Equal(t, "s-1", s.PreviousID())
	assert.Equal(t, time.UTC, s.PeriodStart().Location())
	lines := s.Lines()
	require.Len(t, lines, 2)
	require.Len(t, lines[0].Detail, 1)
	assert.Equal(t, "30.00", lines[0].Amount.StringFixed(2))
	assert.Equal(t, "22.40", lines[1].Amount.StringFixed(2))
	assert.True(t, lines[1].Detail[0].Timestamp.IsZero())
	assert.Equal(t, "52.40", s.TotalAmount().StringFixed(2))
	assert.True(t, s.TotalEnergy().Equal(decimal.NewFromInt(20)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM settlements").WithArgs("missing").WillReturnRows(sqlmock.NewRows(cols))

	_, err = NewSettlementRepository(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, settlement.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReadyFiltersByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("WHERE status = \\$1 AND metering_point = \\$2\\s+ORDER BY document_number LIMIT \\$3").
		WithArgs("Calculated", "571313180400000028", 10).
		WillReturnRows(sqlmock.NewRows(cols))

	out, err := NewSettlementRepository(db).List(context.Background(), settlement.Filter{
		View:          settlement.ViewReady,
		MeteringPoint: "571313180400000028",
		Limit:         10,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}
