package messaging

import (
	"time"

	"supplier-core/internal/cim"
)

// InboxMessage is one inbound document received from the market hub.
// ExternalID is globally unique.
type InboxMessage struct {
	ID              string
	ExternalID      string
	DocumentType    cim.DocumentType
	BusinessProcess cim.BusinessProcess
	SenderID        string
	ReceiverID      string
	Payload         []byte
	Processed       bool
	ProcessedAt     time.Time
	Error           string
	Attempts        int
	ProcessID       string
	ReceivedAt      time.Time
}

// InboxState is the operator view of an inbox message.
type InboxState string

const (
	InboxPending   InboxState = "pending"
	InboxParked    InboxState = "parked"
	InboxProcessed InboxState = "processed"
)

// State derives the inbox state for the given attempt limit.
func (m *InboxMessage) State(maxAttempts int) InboxState {
	switch {
	case m.Processed:
		return InboxProcessed
	case m.Attempts >= maxAttempts:
		return InboxParked
	default:
		return InboxPending
	}
}

// MarkProcessed records successful handling.
func (m *InboxMessage) MarkProcessed(processID string, at time.Time) error {
	if m.Processed {
		return ErrAlreadyProcessed
	}
	m.Processed = true
	m.ProcessedAt = at.UTC()
	m.ProcessID = processID
	m.Error = ""
	m.Attempts++
	return nil
}

// MarkFailed records a retryable failure.
func (m *InboxMessage) MarkFailed(err error) error {
	if m.Processed {
		return ErrAlreadyProcessed
	}
	m.Attempts++
	m.Error = err.Error()
	return nil
}

// Park takes the message out of automatic processing.
func (m *InboxMessage) Park(err error, maxAttempts int) error {
	if m.Processed {
		return ErrAlreadyProcessed
	}
	if m.Attempts < maxAttempts {
		m.Attempts = maxAttempts
	}
	m.Error = err.Error()
	return nil
}

// Requeue returns a parked or failed message to the pending queue.
func (m *InboxMessage) Requeue() error {
	if m.Processed {
		return ErrAlreadyProcessed
	}
	m.Attempts = 0
	m.Error = ""
	return nil
}

// OutboxMessage is one outbound document waiting for delivery.
type OutboxMessage struct {
	ID              string
	DocumentType    cim.DocumentType
	BusinessProcess cim.BusinessProcess
	SenderID        string
	ReceiverID      string
	Payload         []byte
	ProcessID       string
	TransactionID   string
	Sent            bool
	SentAt          time.Time
	Attempts        int
	LastError       string
	ScheduledFor    time.Time
	Dead            bool
	CreatedAt       time.Time
}

const (
	baseBackoff = 30 * time.Second
	maxBackoff  = time.Hour
)

// Due reports whether the message should be attempted at now.
func (m *OutboxMessage) Due(now time.Time) bool {
	return !m.Sent && !m.Dead && !m.ScheduledFor.After(now)
}

// MarkSent records an accepted delivery.
func (m *OutboxMessage) MarkSent(at time.Time) error {
	if m.Sent {
		return ErrAlreadySent
	}
	m.Sent = true
	m.SentAt = at.UTC()
	m.Attempts++
	m.LastError = ""
	return nil
}

// MarkFailed records a transient failure and schedules the next attempt with
// exponential backoff. The message goes dead once maxAttempts is reached.
func (m *OutboxMessage) MarkFailed(reason string, at time.Time, maxAttempts int) {
	m.Attempts++
	m.LastError = reason
	if maxAttempts > 0 && m.Attempts >= maxAttempts {
		m.Dead = true
		return
	}
	m.ScheduledFor = at.UTC().Add(Backoff(m.Attempts))
}

// MarkRejected records a permanent rejection. Rejected messages are never
// retried automatically.
func (m *OutboxMessage) MarkRejected(reason string) {
	m.Attempts++
	m.LastError = reason
	m.Dead = true
}

// ResetForRetry clears attempts and error so the message re-enters delivery.
func (m *OutboxMessage) ResetForRetry(at time.Time) error {
	if m.Sent {
		return ErrAlreadySent
	}
	m.Attempts = 0
	m.LastError = ""
	m.Dead = false
	m.ScheduledFor = at.UTC()
	return nil
}

// Backoff returns the delay after the given number of failed attempts.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	delay := baseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
