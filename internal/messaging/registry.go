package messaging

import (
	"context"
	"fmt"
	"sync"

	"supplier-core/internal/cim"
)

// Inbound is a classified and flattened inbound message.
type Inbound struct {
	Message        *InboxMessage
	Classification cim.Classification
	Document       *cim.Document
	Fields         *cim.Flattened
}

// Handler applies one business process to an inbound message and returns the
// id of the process it touched, if any. Handlers must be idempotent.
type Handler interface {
	Handle(ctx context.Context, in Inbound) (processID string, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in Inbound) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, in Inbound) (string, error) {
	return f(ctx, in)
}

// HandlerRegistry maps business processes to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[cim.BusinessProcess]Handler
}

// NewHandlerRegistry constructs an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[cim.BusinessProcess]Handler)}
}

// Register binds handler to bp.
func (r *HandlerRegistry) Register(bp cim.BusinessProcess, handler Handler) error {
	if !bp.Valid() {
		return fmt.Errorf("messaging: register unknown business process %q", bp)
	}
	if handler == nil {
		return fmt.Errorf("messaging: nil handler for %s", bp)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[bp]; exists {
		return fmt.Errorf("messaging: handler for %s already registered", bp)
	}
	r.handlers[bp] = handler
	return nil
}

// Lookup returns the handler for bp.
func (r *HandlerRegistry) Lookup(bp cim.BusinessProcess) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[bp]
	return h, ok
}

// Registered lists the business processes with a handler.
func (r *HandlerRegistry) Registered() []cim.BusinessProcess {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []cim.BusinessProcess
	for _, bp := range cim.BusinessProcesses() {
		if _, ok := r.handlers[bp]; ok {
			out = append(out, bp)
		}
	}
	return out
}

// Dispatch runs the handler for bp.
func (r *HandlerRegistry) Dispatch(ctx context.Context, bp cim.BusinessProcess, in Inbound) (string, error) {
	return r.dispatch(ctx, bp, in)
}

// Forward hands a payload from one handler to the handler of another
// business process. A chain that would run the same business process twice
// fails with ErrHandlerReentry.
func (r *HandlerRegistry) Forward(ctx context.Context, to cim.BusinessProcess, in Inbound) (string, error) {
	return r.dispatch(ctx, to, in)
}

func (r *HandlerRegistry) dispatch(ctx context.Context, bp cim.BusinessProcess, in Inbound) (string, error) {
	handler, ok := r.Lookup(bp)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoHandler, bp)
	}
	next, ok := withChain(ctx, bp)
	if !ok {
		return "", Permanent(fmt.Errorf("%w: %s", ErrHandlerReentry, bp))
	}
	return handler.Handle(next, in)
}
