package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(0))
	assert.Equal(t, 30*time.Second, Backoff(1))
	assert.Equal(t, time.Minute, Backoff(2))
	assert.Equal(t, 4*time.Minute, Backoff(4))
	assert.Equal(t, time.Hour, Backoff(12))
}

func TestOutboxMarkFailedSchedulesAndGoesDead(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	msg := &OutboxMessage{ScheduledFor: now}
	require.True(t, msg.Due(now))

	msg.MarkFailed("hub unavailable", now, 3)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, now.Add(30*time.Second), msg.ScheduledFor)
	assert.False(t, msg.Due(now))
	assert.True(t, msg.Due(now.Add(30*time.Second)))

	msg.MarkFailed("hub unavailable", now, 3)
	msg.MarkFailed("hub unavailable", now, 3)
	assert.True(t, msg.Dead)
	assert.False(t, msg.Due(now.Add(24*time.Hour)))

	require.NoError(t, msg.ResetForRetry(now))
	assert.Zero(t, msg.Attempts)
	assert.Empty(t, msg.LastError)
	assert.False(t, msg.Dead)
	assert.True(t, msg.Due(now))
}

func TestOutboxRejectedIsDeadAndSentCannotReset(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	msg := &OutboxMessage{}
	msg.MarkRejected("E10 unknown metering point")
	assert.True(t, msg.Dead)
	assert.Equal(t, "E10 unknown metering point", msg.LastError)

	sent := &OutboxMessage{}
	require.NoError(t, sent.MarkSent(now))
	assert.ErrorIs(t, sent.MarkSent(now), ErrAlreadySent)
	assert.ErrorIs(t, sent.ResetForRetry(now), ErrAlreadySent)
}

func TestInboxStateAndImmutability(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	msg := &InboxMessage{}
	assert.Equal(t, InboxPending, msg.State(3))

	require.NoError(t, msg.Park(errors.New("unclassified"), 3))
	assert.Equal(t, InboxParked, msg.State(3))
	require.NoError(t, msg.Requeue())
	assert.Equal(t, InboxPending, msg.State(3))

	require.NoError(t, msg.MarkProcessed("proc-1", now))
	assert.Equal(t, InboxProcessed, msg.State(3))
	assert.ErrorIs(t, msg.MarkFailed(errors.New("late")), ErrAlreadyProcessed)
	assert.ErrorIs(t, msg.Requeue(), ErrAlreadyProcessed)
	assert.ErrorIs(t, msg.MarkProcessed("proc-2", now), ErrAlreadyProcessed)
	assert.Equal(t, "proc-1", msg.ProcessID)
}

func TestPermanentWrapsCause(t *testing.T) {
	cause := errors.New("bad gsrn")
	err := Permanent(cause)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, Permanent(nil))
}
