package messaging

import (
	"context"

	"supplier-core/internal/cim"
)

type contextKey string

const (
	contextKeyInbox contextKey = "messaging.inbox_message"
	contextKeyChain contextKey = "messaging.handler_chain"
)

// WithInboxMessage attaches the message being routed to ctx.
func WithInboxMessage(ctx context.Context, msg *InboxMessage) context.Context {
	return context.WithValue(ctx, contextKeyInbox, msg)
}

// InboxMessageFromContext returns the message being routed, if any.
func InboxMessageFromContext(ctx context.Context) (*InboxMessage, bool) {
	msg, ok := ctx.Value(contextKeyInbox).(*InboxMessage)
	return msg, ok && msg != nil
}

func chainFromContext(ctx context.Context) []cim.BusinessProcess {
	chain, _ := ctx.Value(contextKeyChain).([]cim.BusinessProcess)
	return chain
}

func withChain(ctx context.Context, bp cim.BusinessProcess) (context.Context, bool) {
	chain := chainFromContext(ctx)
	for _, seen := range chain {
		if seen == bp {
			return ctx, false
		}
	}
	next := make([]cim.BusinessProcess, len(chain), len(chain)+1)
	copy(next, chain)
	next = append(next, bp)
	return context.WithValue(ctx, contextKeyChain, next), true
}
