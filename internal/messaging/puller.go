package messaging

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"supplier-core/internal/datahub"
)

// RemoteQueue is the hub side of the poll-based exchange.
type RemoteQueue interface {
	Peek(ctx context.Context) (*datahub.Message, error)
	Dequeue(ctx context.Context, id string) error
}

// Puller moves remote messages into the inbox. A message is dequeued only
// after it is stored, so a crash in between redelivers it and the inbox
// dedupes it.
type Puller struct {
	remote   RemoteQueue
	receiver *Receiver
	logger   *zap.Logger
}

// NewPuller constructs a puller.
func NewPuller(remote RemoteQueue, receiver *Receiver, logger *zap.Logger) (*Puller, error) {
	if remote == nil {
		return nil, errors.New("puller: nil remote queue")
	}
	if receiver == nil {
		return nil, errors.New("puller: nil receiver")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Puller{remote: remote, receiver: receiver, logger: logger}, nil
}

// Pull fetches up to limit messages and returns how many were stored.
func (p *Puller) Pull(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	received := 0
	for i := 0; i < limit; i++ {
		msg, err := p.remote.Peek(ctx)
		if err != nil {
			return received, err
		}
		if msg == nil {
			return received, nil
		}
		_, created, err := p.receiver.Receive(ctx, msg.ID, msg.Payload)
		if err != nil {
			return received, err
		}
		if created {
			received++
		}
		if err := p.remote.Dequeue(ctx, msg.ID); err != nil {
			return received, err
		}
	}
	return received, nil
}
