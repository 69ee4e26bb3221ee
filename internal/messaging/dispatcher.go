package messaging

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/cim"
	"supplier-core/internal/datahub"
	"supplier-core/internal/observability/metrics"
)

const defaultOutboxMaxAttempts = 10

// Sender delivers one document to the hub.
type Sender interface {
	Send(ctx context.Context, documentType cim.DocumentType, payload []byte) datahub.SendResult
}

// DeliveryCallbacks are notified about final delivery outcomes before the
// outcome is stored. A failing callback keeps the message in delivery, so
// callbacks must be safe to repeat.
type DeliveryCallbacks interface {
	Accepted(ctx context.Context, msg *OutboxMessage) error
	Rejected(ctx context.Context, msg *OutboxMessage, reason string) error
}

// OutboxDispatcher sends due outbox messages.
type OutboxDispatcher struct {
	outbox      OutboxStore
	sender      Sender
	callbacks   DeliveryCallbacks
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*OutboxDispatcher)

// WithDispatcherClock overrides the time source.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithOutboxMaxAttempts sets the transient attempt limit.
func WithOutboxMaxAttempts(n int) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDeliveryCallbacks registers outcome callbacks.
func WithDeliveryCallbacks(callbacks DeliveryCallbacks) DispatcherOption {
	return func(d *OutboxDispatcher) {
		d.callbacks = callbacks
	}
}

// NewOutboxDispatcher constructs a dispatcher.
func NewOutboxDispatcher(outbox OutboxStore, sender Sender, logger *zap.Logger, opts ...DispatcherOption) (*OutboxDispatcher, error) {
	if outbox == nil {
		return nil, errors.New("outbox dispatcher: nil outbox store")
	}
	if sender == nil {
		return nil, errors.New("outbox dispatcher: nil sender")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &OutboxDispatcher{
		outbox:      outbox,
		sender:      sender,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultOutboxMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DispatchStats summarizes one dispatch pass.
type DispatchStats struct {
	Accepted  int
	Rejected  int
	Transient int
}

// Dispatch sends up to limit due messages.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, limit int) (DispatchStats, error) {
	var stats DispatchStats
	if limit <= 0 {
		limit = 50
	}
	due, err := d.outbox.ListDue(ctx, d.now(), limit)
	if err != nil {
		return stats, err
	}
	for _, msg := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := d.deliver(ctx, msg)
		if err != nil {
			return stats, err
		}
		switch outcome {
		case datahub.OutcomeAccepted:
			stats.Accepted++
		case datahub.OutcomeRejected:
			stats.Rejected++
		default:
			stats.Transient++
		}
	}
	return stats, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, msg *OutboxMessage) (datahub.Outcome, error) {
	logger := d.logger.With(
		zap.String("outbox_id", msg.ID),
		zap.String("document_type", string(msg.DocumentType)),
		zap.String("process_id", msg.ProcessID),
	)
	result := d.sender.Send(ctx, msg.DocumentType, msg.Payload)
	if result.Outcome == datahub.OutcomeTransient && ctx.Err() != nil {
		// Cancelled mid-send: leave the message untouched for the next pass.
		return result.Outcome, nil
	}
	metrics.IncOutboxDelivery(string(msg.DocumentType), string(result.Outcome))

	switch result.Outcome {
	case datahub.OutcomeAccepted:
		if d.callbacks != nil {
			if err := d.callbacks.Accepted(ctx, msg); err != nil {
				return d.callbackFailed(ctx, logger, msg, "accepted", err)
			}
		}
		if err := msg.MarkSent(d.now()); err != nil {
			return result.Outcome, err
		}
		if err := d.outbox.Update(ctx, msg); err != nil {
			return result.Outcome, err
		}
		logger.Info("outbox message accepted", zap.Int("status", result.StatusCode))
	case datahub.OutcomeRejected:
		if d.callbacks != nil {
			if err := d.callbacks.Rejected(ctx, msg, result.Message); err != nil {
				return d.callbackFailed(ctx, logger, msg, "rejected", err)
			}
		}
		msg.MarkRejected(result.Message)
		if err := d.outbox.Update(ctx, msg); err != nil {
			return result.Outcome, err
		}
		logger.Warn("outbox message rejected",
			zap.Int("status", result.StatusCode),
			zap.String("reason", result.Message),
		)
	default:
		msg.MarkFailed(result.Message, d.now(), d.maxAttempts)
		if err := d.outbox.Update(ctx, msg); err != nil {
			return result.Outcome, err
		}
		logger.Warn("outbox delivery failed",
			zap.Int("status", result.StatusCode),
			zap.Int("attempts", msg.Attempts),
			zap.Bool("dead", msg.Dead),
			zap.String("reason", result.Message),
		)
	}
	return result.Outcome, nil
}

// callbackFailed keeps a message whose outcome could not be applied to its
// process in delivery, so the next pass sends it and runs the callback again.
func (d *OutboxDispatcher) callbackFailed(ctx context.Context, logger *zap.Logger, msg *OutboxMessage, outcome string, cause error) (datahub.Outcome, error) {
	msg.MarkFailed(outcome+" callback: "+cause.Error(), d.now(), d.maxAttempts)
	if err := d.outbox.Update(ctx, msg); err != nil {
		return datahub.OutcomeTransient, err
	}
	logger.Error("delivery callback failed",
		zap.String("outcome", outcome),
		zap.Int("attempts", msg.Attempts),
		zap.Bool("dead", msg.Dead),
		zap.Error(cause),
	)
	return datahub.OutcomeTransient, nil
}

// Retry resets a failed or dead message so the next pass delivers it.
func (d *OutboxDispatcher) Retry(ctx context.Context, id string) (*OutboxMessage, error) {
	msg, err := d.outbox.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := msg.ResetForRetry(d.now()); err != nil {
		return nil, err
	}
	if err := d.outbox.Update(ctx, msg); err != nil {
		return nil, err
	}
	d.logger.Info("outbox message reset for retry", zap.String("outbox_id", id))
	return msg, nil
}
