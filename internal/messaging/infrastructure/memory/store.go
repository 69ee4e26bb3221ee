package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"supplier-core/internal/messaging"
)

// InboxStore is an in-memory inbox.
type InboxStore struct {
	mu         sync.RWMutex
	items      map[string]messaging.InboxMessage
	byExternal map[string]string
}

// NewInboxStore constructs the store.
func NewInboxStore() *InboxStore {
	return &InboxStore{
		items:      make(map[string]messaging.InboxMessage),
		byExternal: make(map[string]string),
	}
}

// Insert stores msg unless its external id exists.
func (s *InboxStore) Insert(_ context.Context, msg *messaging.InboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byExternal[msg.ExternalID]; exists {
		return messaging.ErrDuplicateMessage
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	s.items[msg.ID] = cloneInbox(msg)
	s.byExternal[msg.ExternalID] = msg.ID
	return nil
}

// Get returns a message by id.
func (s *InboxStore) Get(_ context.Context, id string) (*messaging.InboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.items[id]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	out := cloneInbox(&msg)
	return &out, nil
}

// GetByExternalID returns a message by external id.
func (s *InboxStore) GetByExternalID(ctx context.Context, externalID string) (*messaging.InboxMessage, error) {
	s.mu.RLock()
	id, ok := s.byExternal[externalID]
	s.mu.RUnlock()
	if !ok {
		return nil, messaging.ErrNotFound
	}
	return s.Get(ctx, id)
}

// ListPending returns unprocessed messages below maxAttempts.
func (s *InboxStore) ListPending(ctx context.Context, maxAttempts, limit int) ([]*messaging.InboxMessage, error) {
	return s.list(ctx, limit, func(m messaging.InboxMessage) bool {
		return !m.Processed && m.Attempts < maxAttempts
	})
}

// ListParked returns unprocessed messages at or above maxAttempts.
func (s *InboxStore) ListParked(ctx context.Context, maxAttempts, limit int) ([]*messaging.InboxMessage, error) {
	return s.list(ctx, limit, func(m messaging.InboxMessage) bool {
		return !m.Processed && m.Attempts >= maxAttempts
	})
}

func (s *InboxStore) list(_ context.Context, limit int, keep func(messaging.InboxMessage) bool) ([]*messaging.InboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*messaging.InboxMessage
	for _, m := range s.items {
		if keep(m) {
			c := cloneInbox(&m)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update writes msg. Processed messages are immutable.
func (s *InboxStore) Update(_ context.Context, msg *messaging.InboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[msg.ID]
	if !ok {
		return messaging.ErrNotFound
	}
	if existing.Processed {
		return messaging.ErrAlreadyProcessed
	}
	s.items[msg.ID] = cloneInbox(msg)
	return nil
}

func cloneInbox(m *messaging.InboxMessage) messaging.InboxMessage {
	out := *m
	out.Payload = append([]byte(nil), m.Payload...)
	return out
}

// OutboxStore is an in-memory outbox.
type OutboxStore struct {
	mu    sync.RWMutex
	items map[string]messaging.OutboxMessage
}

// NewOutboxStore constructs the store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{items: make(map[string]messaging.OutboxMessage)}
}

// Enqueue stores a new message.
func (s *OutboxStore) Enqueue(_ context.Context, msg *messaging.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ScheduledFor.IsZero() {
		msg.ScheduledFor = msg.CreatedAt
	}
	s.items[msg.ID] = cloneOutbox(msg)
	return nil
}

// Get returns a message by id.
func (s *OutboxStore) Get(_ context.Context, id string) (*messaging.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.items[id]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	out := cloneOutbox(&msg)
	return &out, nil
}

// ListDue returns messages due at now, oldest schedule first.
func (s *OutboxStore) ListDue(_ context.Context, now time.Time, limit int) ([]*messaging.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*messaging.OutboxMessage
	for _, m := range s.items {
		if m.Due(now) {
			c := cloneOutbox(&m)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update writes msg.
func (s *OutboxStore) Update(_ context.Context, msg *messaging.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[msg.ID]; !ok {
		return messaging.ErrNotFound
	}
	s.items[msg.ID] = cloneOutbox(msg)
	return nil
}

// All returns every message, oldest first.
func (s *OutboxStore) All() []*messaging.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*messaging.OutboxMessage
	for _, m := range s.items {
		c := cloneOutbox(&m)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneOutbox(m *messaging.OutboxMessage) messaging.OutboxMessage {
	out := *m
	out.Payload = append([]byte(nil), m.Payload...)
	return out
}
