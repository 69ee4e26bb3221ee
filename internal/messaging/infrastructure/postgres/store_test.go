package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplier-core/internal/cim"
	"supplier-core/internal/messaging"
)

var inboxCols = []string{"id", "external_id", "document_type", "business_process", "sender_id", "receiver_id", "payload",
	"processed", "processed_at", "error", "attempts", "process_id", "received_at"}

func TestInboxInsertDuplicateExternalID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO inbox_messages").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	store := NewInboxStore(db)
	err = store.Insert(context.Background(), &messaging.InboxMessage{ExternalID: "ext-1", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, messaging.ErrDuplicateMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInboxUpdateRefusesProcessedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE inbox_messages").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "", "", false, sqlmock.AnyArg(), "boom", 1, sqlmock.AnyArg(), "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewInboxStore(db)
	err = store.Update(context.Background(), &messaging.InboxMessage{ID: "msg-1", Error: "boom", Attempts: 1})
	assert.ErrorIs(t, err, messaging.ErrAlreadyProcessed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInboxListPendingScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	received := time.Date(2024, 4, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	mock.ExpectQuery("WHERE NOT processed AND attempts < \\$1").
		WithArgs(5, 50).
		WillReturnRows(sqlmock.NewRows(inboxCols).
			AddRow("msg-1", "ext-1", "RSM-009", "BRS-001", "5790001330583", "5790000000005", []byte(`{}`),
				false, nil, "", 2, nil, received).
			AddRow("msg-2", "ext-2", nil, nil, "", "", []byte(`x`),
				false, nil, "", 0, nil, received.Add(time.Minute)))

	store := NewInboxStore(db)
	pending, err := store.ListPending(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, cim.DocumentResponse, pending[0].DocumentType)
	assert.Equal(t, cim.ProcessSupplierSwitch, pending[0].BusinessProcess)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, time.UTC, pending[0].ReceivedAt.Location())
	assert.Empty(t, pending[1].BusinessProcess)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInboxGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM inbox_messages WHERE id = \\$1").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(inboxCols))

	_, err = NewInboxStore(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, messaging.ErrNotFound)
}

func TestOutboxUpdateWritesDeliveryState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	msg := &messaging.OutboxMessage{ID: "out-1", ScheduledFor: at}
	msg.MarkFailed("503 service unavailable", at, 10)

	mock.ExpectExec("UPDATE outbox_messages").
		WithArgs(false, nil, 1, "503 service unavailable", at.Add(30*time.Second), false, "out-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewOutboxStore(db).Update(context.Background(), msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxListDueFiltersSentAndDead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("WHERE NOT sent AND NOT dead AND scheduled_for <= \\$1").
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_type", "business_process", "sender_id", "receiver_id",
			"payload", "process_id", "transaction_id", "sent", "sent_at", "attempts", "last_error", "scheduled_for", "dead", "created_at"}).
			AddRow("out-1", "RSM-001", "BRS-001", "5790000000005", "5790001330583", []byte(`{}`), "proc-1", "tx-1",
				false, nil, 0, "", now, false, now))

	due, err := NewOutboxStore(db).ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, cim.DocumentRequestChangeOfSupplier, due[0].DocumentType)
	assert.Equal(t, "proc-1", due[0].ProcessID)
	assert.Equal(t, "tx-1", due[0].TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}
