package brs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/messaging"
	procapp "supplier-core/internal/processes/application"
	processes "supplier-core/internal/processes/domain"
)

// Delivery moves initiator processes along as their outbound requests are
// accepted or rejected by the datahub.
type Delivery struct {
	processes *procapp.Service
	logger    *zap.Logger
	now       func() time.Time
}

var _ messaging.DeliveryCallbacks = (*Delivery)(nil)

// NewDelivery constructs the delivery callbacks.
func NewDelivery(processes *procapp.Service, logger *zap.Logger) (*Delivery, error) {
	if processes == nil {
		return nil, errors.New("delivery: nil process service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delivery{processes: processes, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Accepted records the transaction id and marks the process Submitted.
func (d *Delivery) Accepted(ctx context.Context, msg *messaging.OutboxMessage) error {
	if msg.ProcessID == "" {
		return nil
	}
	_, err := d.processes.Mutate(ctx, msg.ProcessID, func(p *processes.BrsProcess) error {
		if p.State() != processes.StateCreated {
			return nil
		}
		if err := p.AssignTransactionID(msg.TransactionID); err != nil {
			return err
		}
		return p.TransitionTo(processes.StateSubmitted, "accepted by datahub", d.now())
	})
	return err
}

// Rejected marks the process Rejected. A request rejected on delivery was
// still submitted, so both steps are logged.
func (d *Delivery) Rejected(ctx context.Context, msg *messaging.OutboxMessage, reason string) error {
	if msg.ProcessID == "" {
		return nil
	}
	_, err := d.processes.Mutate(ctx, msg.ProcessID, func(p *processes.BrsProcess) error {
		if p.IsTerminal() {
			return nil
		}
		p.RecordError(reason)
		if p.State() == processes.StateCreated {
			if err := p.AssignTransactionID(msg.TransactionID); err != nil {
				return err
			}
			if err := p.TransitionTo(processes.StateSubmitted, "sent to datahub", d.now()); err != nil {
				return err
			}
		}
		return p.TransitionTo(processes.StateRejected, reason, d.now())
	})
	if err == nil {
		d.logger.Warn("outbound request rejected",
			zap.String("process_id", msg.ProcessID),
			zap.String("document_type", string(msg.DocumentType)),
			zap.String("reason", reason),
		)
	}
	return err
}
