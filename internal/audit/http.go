package audit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// ActorHeader names the operator performing a request.
const ActorHeader = "X-Operator"

// ClientIP extracts client ip from common headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// FromRequest builds an entry for an operator action taken through r.
func FromRequest(r *http.Request, action, resourceType, resourceID string, meta map[string]any) Entry {
	var payload json.RawMessage
	if len(meta) > 0 {
		payload, _ = json.Marshal(meta)
	}
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		actor = "anonymous"
	}
	return Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     payload,
		IP:           ClientIP(r),
		UserAgent:    r.UserAgent(),
	}
}
