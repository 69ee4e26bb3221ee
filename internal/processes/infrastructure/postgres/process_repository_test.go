package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	processes "supplier-core/internal/processes/domain"
)

func newProcess(t *testing.T) *processes.BrsProcess {
	t.Helper()
	p, err := processes.New(processes.NewProcessParams{
		ID:            "proc-1",
		Type:          processes.TypeSupplierSwitch,
		Role:          processes.RoleInitiator,
		MeteringPoint: "571313180400000028",
		EffectiveDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return p
}

func TestSaveAppendsTransitionsUnderVersionCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := newProcess(t)
	p.MarkPersisted(1)
	require.NoError(t, p.TransitionTo(processes.StateSubmitted, "accepted by hub", time.Time{}))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE brs_processes").
		WithArgs("Active", "Submitted", sqlmock.AnyArg(), sqlmock.AnyArg(), "", sqlmock.AnyArg(), "proc-1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO process_state_transitions").
		WithArgs("proc-1", "Created", "Submitted", "accepted by hub", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewProcessRepository(db)
	require.NoError(t, repo.Save(context.Background(), p))
	assert.Equal(t, int64(2), p.Version())
	assert.Empty(t, p.PendingTransitions())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDetectsConcurrentUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := newProcess(t)
	p.MarkPersisted(4)
	require.NoError(t, p.TransitionTo(processes.StateCancelled, "withdrawn", time.Time{}))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE brs_processes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewProcessRepository(db)
	err = repo.Save(context.Background(), p)
	assert.ErrorIs(t, err, processes.ErrConcurrentUpdate)
	assert.Len(t, p.PendingTransitions(), 1)
	assert.Equal(t, int64(4), p.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRehydratesLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM brs_processes").
		WithArgs("proc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "process_type", "role", "status", "state", "transaction_id", "effective_date",
			"counterpart", "metering_point", "error_message", "created_at", "updated_at", "version"}).
			AddRow("proc-1", "supplier-switch", "initiator", "Active", "Submitted", "tx-1", created,
				"5790001330583", "571313180400000028", "", created, created, int64(2)))
	mock.ExpectQuery("FROM process_state_transitions").
		WithArgs("proc-1").
		WillReturnRows(sqlmock.NewRows([]string{"process_id", "from_state", "to_state", "reason", "created_at"}).
			AddRow("proc-1", "Created", "Submitted", "accepted", created))

	repo := NewProcessRepository(db)
	p, err := repo.Get(context.Background(), "proc-1")
	require.NoError(t, err)
	assert.Equal(t, processes.StateSubmitted, p.State())
	assert.Equal(t, "tx-1", p.TransactionID())
	assert.Len(t, p.Transitions(), 1)
	assert.Equal(t, int64(2), p.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingProcess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM brs_processes").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewProcessRepository(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, processes.ErrNotFound)
}
