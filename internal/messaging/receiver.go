package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"supplier-core/internal/cim"
)

// Receiver stores inbound documents in the inbox, deduplicated by external id.
type Receiver struct {
	inbox  InboxStore
	logger *zap.Logger
	now    func() time.Time
}

// NewReceiver constructs a receiver.
func NewReceiver(inbox InboxStore, logger *zap.Logger) (*Receiver, error) {
	if inbox == nil {
		return nil, errors.New("receiver: nil inbox store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{inbox: inbox, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Receive stores payload under externalID. A repeated external id returns
// the stored message with created=false.
func (r *Receiver) Receive(ctx context.Context, externalID string, payload []byte) (*InboxMessage, bool, error) {
	if externalID == "" {
		return nil, false, errors.New("receiver: empty external id")
	}
	cls := cim.Classify(payload)
	msg := &InboxMessage{
		ID:              uuid.NewString(),
		ExternalID:      externalID,
		DocumentType:    cls.DocumentType,
		BusinessProcess: cls.BusinessProcess,
		SenderID:        cls.SenderID,
		ReceiverID:      cls.ReceiverID,
		Payload:         payload,
		ReceivedAt:      r.now(),
	}
	err := r.inbox.Insert(ctx, msg)
	if errors.Is(err, ErrDuplicateMessage) {
		existing, getErr := r.inbox.GetByExternalID(ctx, externalID)
		if getErr != nil {
			return nil, false, getErr
		}
		r.logger.Debug("duplicate inbox message ignored", zap.String("external_id", externalID))
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r.logger.Info("inbox message received",
		zap.String("external_id", externalID),
		zap.String("business_process", string(cls.BusinessProcess)),
		zap.String("document_type", string(cls.DocumentType)),
	)
	return msg, true, nil
}
