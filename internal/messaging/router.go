package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/cim"
	"supplier-core/internal/observability/metrics"
	processes "supplier-core/internal/processes/domain"
)

const defaultInboxMaxAttempts = 5

// Result is the routing outcome of one inbox message.
type Result string

const (
	ResultProcessed Result = "processed"
	ResultRetry     Result = "retry"
	ResultParked    Result = "parked"
	ResultSkipped   Result = "skipped"
)

// Router classifies inbox messages and dispatches them to handlers.
//
// Messages are never marked processed unless a handler succeeded. Messages
// that cannot be classified, have no handler, or fail with a permanent error
// are parked for manual requeue; other handler errors are retried until the
// attempt limit, after which the message is parked too.
type Router struct {
	inbox       InboxStore
	registry    *HandlerRegistry
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithRouterClock overrides the time source.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithInboxMaxAttempts sets the attempt limit before parking.
func WithInboxMaxAttempts(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// NewRouter constructs a router.
func NewRouter(inbox InboxStore, registry *HandlerRegistry, logger *zap.Logger, opts ...RouterOption) (*Router, error) {
	if inbox == nil {
		return nil, errors.New("router: nil inbox store")
	}
	if registry == nil {
		return nil, errors.New("router: nil handler registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		inbox:       inbox,
		registry:    registry,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultInboxMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MaxAttempts returns the attempt limit.
func (r *Router) MaxAttempts() int {
	return r.maxAttempts
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Processed int
	Retried   int
	Parked    int
}

// Drain routes pending inbox messages, oldest first.
func (r *Router) Drain(ctx context.Context, limit int) (DrainStats, error) {
	var stats DrainStats
	pending, err := r.inbox.ListPending(ctx, r.maxAttempts, limit)
	if err != nil {
		return stats, err
	}
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		result, err := r.Process(ctx, msg)
		if err != nil {
			return stats, err
		}
		switch result {
		case ResultProcessed:
			stats.Processed++
		case ResultRetry:
			stats.Retried++
		case ResultParked:
			stats.Parked++
		}
	}
	return stats, nil
}

// Process routes one message and persists its outcome. The returned error
// is a storage failure; handler failures are recorded on the message.
func (r *Router) Process(ctx context.Context, msg *InboxMessage) (Result, error) {
	if msg.Processed {
		return ResultSkipped, nil
	}
	start := time.Now()
	logger := r.logger.With(zap.String("message_id", msg.ID), zap.String("external_id", msg.ExternalID))

	result, processID, handleErr := r.route(WithInboxMessage(ctx, msg), msg)
	switch result {
	case ResultProcessed:
		if err := msg.MarkProcessed(processID, r.now()); err != nil {
			return ResultSkipped, err
		}
		logger.Info("inbox message processed",
			zap.String("business_process", string(msg.BusinessProcess)),
			zap.String("process_id", processID),
		)
	case ResultParked:
		if err := msg.Park(handleErr, r.maxAttempts); err != nil {
			return ResultSkipped, err
		}
		logger.Warn("inbox message parked",
			zap.String("business_process", string(msg.BusinessProcess)),
			zap.Error(handleErr),
		)
	default:
		if err := msg.MarkFailed(handleErr); err != nil {
			return ResultSkipped, err
		}
		if msg.Attempts >= r.maxAttempts {
			result = ResultParked
			logger.Warn("inbox message parked after retries",
				zap.Int("attempts", msg.Attempts),
				zap.Error(handleErr),
			)
		} else {
			logger.Warn("inbox message failed, will retry",
				zap.Int("attempts", msg.Attempts),
				zap.Error(handleErr),
			)
		}
	}
	if err := r.inbox.Update(ctx, msg); err != nil {
		return result, fmt.Errorf("router: update inbox message: %w", err)
	}
	metrics.ObserveInbox(string(msg.BusinessProcess), string(result), time.Since(start))
	return result, nil
}

func (r *Router) route(ctx context.Context, msg *InboxMessage) (Result, string, error) {
	doc, err := cim.Parse(msg.Payload)
	if err != nil {
		return ResultParked, "", err
	}
	cls := cim.ClassifyDocument(doc)
	if !cls.Classified() {
		return ResultParked, "", fmt.Errorf("%w: root %q", cim.ErrNotClassified, cls.Root)
	}
	msg.BusinessProcess = cls.BusinessProcess
	msg.DocumentType = cls.DocumentType
	if msg.SenderID == "" {
		msg.SenderID = cls.SenderID
	}
	if msg.ReceiverID == "" {
		msg.ReceiverID = cls.ReceiverID
	}

	flat, err := cim.Flatten(doc, cls.BusinessProcess, cls.DocumentType)
	if err != nil {
		return ResultParked, "", err
	}
	processID, err := r.registry.Dispatch(ctx, cls.BusinessProcess, Inbound{
		Message:        msg,
		Classification: cls,
		Document:       doc,
		Fields:         flat,
	})
	if err != nil {
		if permanent(err) {
			return ResultParked, "", err
		}
		return ResultRetry, "", err
	}
	return ResultProcessed, processID, nil
}

func permanent(err error) bool {
	return errors.Is(err, ErrPermanent) ||
		errors.Is(err, ErrNoHandler) ||
		errors.Is(err, processes.ErrInvalidTransition) ||
		cim.IsValidation(err)
}

// Parked lists messages waiting for manual review.
func (r *Router) Parked(ctx context.Context, limit int) ([]*InboxMessage, error) {
	return r.inbox.ListParked(ctx, r.maxAttempts, limit)
}

// Requeue returns a parked or failing message to the pending queue.
func (r *Router) Requeue(ctx context.Context, id string) (*InboxMessage, error) {
	msg, err := r.inbox.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := msg.Requeue(); err != nil {
		return nil, err
	}
	if err := r.inbox.Update(ctx, msg); err != nil {
		return nil, err
	}
	r.logger.Info("inbox message requeued", zap.String("message_id", id), zap.String("external_id", msg.ExternalID))
	return msg, nil
}
