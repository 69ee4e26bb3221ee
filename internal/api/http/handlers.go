package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/audit"
	"supplier-core/internal/brs"
	"supplier-core/internal/cim"
	"supplier-core/internal/messaging"
	processes "supplier-core/internal/processes/domain"
)

const timeLayout = time.RFC3339

// Initiator starts processes towards the datahub.
type Initiator interface {
	Initiate(ctx context.Context, req brs.InitiateRequest) (*processes.BrsProcess, *messaging.OutboxMessage, error)
}

// ProcessService reads and cancels processes.
type ProcessService interface {
	Get(ctx context.Context, id string) (*processes.BrsProcess, error)
	Cancel(ctx context.Context, id, reason string) (*processes.BrsProcess, error)
}

// ProcessHandler serves /api/v1/processes.
type ProcessHandler struct {
	initiator   Initiator
	service     ProcessService
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewProcessHandler constructs a ProcessHandler.
func NewProcessHandler(initiator Initiator, service ProcessService, auditLogger audit.Logger, logger *zap.Logger) (*ProcessHandler, error) {
	if initiator == nil || service == nil {
		return nil, errors.New("process handler: nil dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessHandler{initiator: initiator, service: service, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles POST /api/v1/processes, GET /api/v1/processes/{id} and
// POST /api/v1/processes/{id}/cancel.
func (h *ProcessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "/api/v1/processes" && r.Method == http.MethodPost {
		h.handleInitiate(w, r)
		return
	}
	rest, ok := strings.CutPrefix(path, "/api/v1/processes/")
	if !ok || rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		h.handleCancel(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ProcessHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type          string `json:"type"`
		MeteringPoint string `json:"gsrn"`
		EffectiveDate string `json:"effectiveDate"`
		PeriodEnd     string `json:"periodEnd"`
		CustomerID    string `json:"customerId"`
		CustomerName  string `json:"customerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	pt, ok := processes.ParseProcessType(req.Type)
	if !ok {
		http.Error(w, "unknown process type", http.StatusBadRequest)
		return
	}
	effective, err := parseTime("effectiveDate", req.EffectiveDate, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	periodEnd, err := parseTime("periodEnd", req.PeriodEnd, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, msg, err := h.initiator.Initiate(r.Context(), brs.InitiateRequest{
		Type:          pt,
		MeteringPoint: req.MeteringPoint,
		EffectiveDate: effective,
		PeriodEnd:     periodEnd,
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := struct {
		Process  processView `json:"process"`
		OutboxID string      `json:"outboxId"`
	}{Process: toProcessView(p), OutboxID: msg.ID}
	writeJSON(w, http.StatusCreated, resp)
	logAudit(r, h.auditLogger, h.logger, "process.initiate", "process", p.ID(), map[string]any{
		"type": string(p.Type()),
		"gsrn": p.MeteringPoint(),
	})
}

func (h *ProcessHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessView(p))
}

func (h *ProcessHandler) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}
	p, err := h.service.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessView(p))
	logAudit(r, h.auditLogger, h.logger, "process.cancel", "process", p.ID(), map[string]any{"reason": req.Reason})
}

func (h *ProcessHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, processes.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, processes.ErrInvalidTransition), errors.Is(err, brs.ErrAlreadyActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, brs.ErrMissingField), errors.Is(err, brs.ErrUnsupported), cim.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("process request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type transitionView struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

type processView struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Role          string           `json:"role"`
	Status        string           `json:"status"`
	State         string           `json:"state"`
	MeteringPoint string           `json:"gsrn"`
	TransactionID string           `json:"transactionId,omitempty"`
	EffectiveDate string           `json:"effectiveDate,omitempty"`
	Counterpart   string           `json:"counterpart,omitempty"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	CreatedAt     string           `json:"createdAt"`
	UpdatedAt     string           `json:"updatedAt"`
	Transitions   []transitionView `json:"transitions"`
}

func toProcessView(p *processes.BrsProcess) processView {
	v := processView{
		ID:            p.ID(),
		Type:          string(p.Type()),
		Role:          string(p.Role()),
		Status:        string(p.Status()),
		State:         string(p.State()),
		MeteringPoint: p.MeteringPoint(),
		TransactionID: p.TransactionID(),
		EffectiveDate: formatTime(p.EffectiveDate()),
		Counterpart:   p.Counterpart(),
		ErrorMessage:  p.ErrorMessage(),
		CreatedAt:     formatTime(p.CreatedAt()),
		UpdatedAt:     formatTime(p.UpdatedAt()),
		Transitions:   []transitionView{},
	}
	for _, t := range p.Transitions() {
		v.Transitions = append(v.Transitions, transitionView{From: string(t.From), To: string(t.To), Reason: t.Reason, At: t.At})
	}
	return v
}

// MessageOperator exposes manual inbox and outbox recovery.
type MessageOperator interface {
	Parked(ctx context.Context, limit int) ([]*messaging.InboxMessage, error)
	Requeue(ctx context.Context, id string) (*messaging.InboxMessage, error)
}

// OutboxRetrier resets outbox messages for delivery.
type OutboxRetrier interface {
	Retry(ctx context.Context, id string) (*messaging.OutboxMessage, error)
}

// MessageHandler serves /api/v1/inbox and /api/v1/outbox.
type MessageHandler struct {
	inbox       MessageOperator
	outbox      OutboxRetrier
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(inbox MessageOperator, outbox OutboxRetrier, auditLogger audit.Logger, logger *zap.Logger) (*MessageHandler, error) {
	if inbox == nil || outbox == nil {
		return nil, errors.New("message handler: nil dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{inbox: inbox, outbox: outbox, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/inbox?state=parked, POST
// /api/v1/inbox/{id}/requeue and POST /api/v1/outbox/{id}/retry.
func (h *MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "/api/v1/inbox" && r.Method == http.MethodGet {
		h.handleParked(w, r)
		return
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/inbox/"); ok && r.Method == http.MethodPost {
		if id, ok := strings.CutSuffix(rest, "/requeue"); ok && id != "" && !strings.Contains(id, "/") {
			h.handleRequeue(w, r, id)
			return
		}
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/outbox/"); ok && r.Method == http.MethodPost {
		if id, ok := strings.CutSuffix(rest, "/retry"); ok && id != "" && !strings.Contains(id, "/") {
			h.handleRetry(w, r, id)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *MessageHandler) handleParked(w http.ResponseWriter, r *http.Request) {
	if state := r.URL.Query().Get("state"); state != "" && state != string(messaging.InboxParked) {
		http.Error(w, "state must be parked", http.StatusBadRequest)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.inbox.Parked(r.Context(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]inboxView, 0, len(list))
	for _, m := range list {
		out = append(out, toInboxView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MessageHandler) handleRequeue(w http.ResponseWriter, r *http.Request, id string) {
	msg, err := h.inbox.Requeue(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInboxView(msg))
	logAudit(r, h.auditLogger, h.logger, "inbox.requeue", "inbox_message", id, map[string]any{"externalId": msg.ExternalID})
}

func (h *MessageHandler) handleRetry(w http.ResponseWriter, r *http.Request, id string) {
	msg, err := h.outbox.Retry(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           msg.ID,
		"documentType": string(msg.DocumentType),
		"attempts":     msg.Attempts,
		"scheduledFor": formatTime(msg.ScheduledFor),
	})
	logAudit(r, h.auditLogger, h.logger, "outbox.retry", "outbox_message", id, map[string]any{"documentType": string(msg.DocumentType)})
}

func (h *MessageHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, messaging.ErrAlreadyProcessed), errors.Is(err, messaging.ErrAlreadySent):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("message request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type inboxView struct {
	ID              string `json:"id"`
	ExternalID      string `json:"externalId"`
	DocumentType    string `json:"documentType,omitempty"`
	BusinessProcess string `json:"businessProcess,omitempty"`
	SenderID        string `json:"senderId,omitempty"`
	Attempts        int    `json:"attempts"`
	Error           string `json:"error,omitempty"`
	ReceivedAt      string `json:"receivedAt"`
}

func toInboxView(m *messaging.InboxMessage) inboxView {
	return inboxView{
		ID:              m.ID,
		ExternalID:      m.ExternalID,
		DocumentType:    string(m.DocumentType),
		BusinessProcess: string(m.BusinessProcess),
		SenderID:        m.SenderID,
		Attempts:        m.Attempts,
		Error:           m.Error,
		ReceivedAt:      formatTime(m.ReceivedAt),
	}
}

func logAudit(r *http.Request, logger audit.Logger, zl *zap.Logger, action, resourceType, id string, meta map[string]any) {
	if logger == nil {
		return
	}
	if err := logger.Log(r.Context(), audit.FromRequest(r, action, resourceType, id, meta)); err != nil {
		zl.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseTime(key, value string, required bool) (time.Time, error) {
	if value == "" {
		if required {
			return time.Time{}, errors.New(key + " is required")
		}
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
