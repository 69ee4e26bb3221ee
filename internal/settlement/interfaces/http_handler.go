package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/audit"
	"supplier-core/internal/observability/metrics"
	"supplier-core/internal/settlement/application"
	settlement "supplier-core/internal/settlement/domain"
)

const basePath = "/api/v1/settlement-documents"

// DocumentHandler serves settlement documents to the invoicing side.
type DocumentHandler struct {
	service     *application.DocumentService
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewDocumentHandler constructs a handler.
func NewDocumentHandler(service *application.DocumentService, auditLogger audit.Logger, logger *zap.Logger) (*DocumentHandler, error) {
	if service == nil {
		return nil, errors.New("settlement handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles routes under /api/v1/settlement-documents.
func (h *DocumentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == basePath && r.Method == http.MethodGet {
		h.handleList(w, r)
		return
	}
	if strings.HasPrefix(path, basePath+"/") {
		h.handleByID(w, r, strings.TrimPrefix(path, basePath+"/"))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *DocumentHandler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 && r.Method == http.MethodGet {
		h.handleGet(w, r, id)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "confirm":
			if r.Method == http.MethodPost {
				h.handleConfirm(w, r, id)
				return
			}
		case "export":
			if r.Method == http.MethodGet {
				h.handleExport(w, r, id)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *DocumentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	view, err := application.ParseView(r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, "status must be one of ready, all, corrections", http.StatusBadRequest)
		return
	}
	list, err := h.service.List(r.Context(), view, r.URL.Query().Get("gsrn"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]documentView, 0, len(list))
	for _, s := range list {
		out = append(out, toView(s, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DocumentHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(s, true))
}

func (h *DocumentHandler) handleConfirm(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		InvoiceReference string `json:"invoiceReference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s, err := h.service.Confirm(r.Context(), id, strings.TrimSpace(req.InvoiceReference))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(s, false))
	h.logAudit(r, s.ID(), "settlement.confirm", map[string]any{
		"documentNumber":   s.DocumentNumber(),
		"invoiceReference": s.InvoiceReference(),
	})
}

func (h *DocumentHandler) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}
	if format != "pdf" && format != "xlsx" {
		http.Error(w, "format must be pdf or xlsx", http.StatusBadRequest)
		return
	}
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	s, err := h.service.Get(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		h.respondError(w, err)
		return
	}
	var (
		data        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = BuildSettlementXLSX(s)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		data, err = BuildSettlementPDF(s)
		contentType = "application/pdf"
	}
	if err != nil {
		result = metrics.ResultError
		h.logger.Error("settlement export failed", zap.String("settlement_id", id), zap.String("format", format), zap.Error(err))
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *DocumentHandler) logAudit(r *http.Request, settlementID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	if err := h.auditLogger.Log(r.Context(), audit.FromRequest(r, action, "settlement", settlementID, meta)); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func (h *DocumentHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, settlement.ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, settlement.ErrEmptyInvoiceReference):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("settlement request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type documentView struct {
	ID                string     `json:"id"`
	DocumentNumber    int64      `json:"documentNumber"`
	MeteringPoint     string     `json:"gsrn"`
	SupplyID          string     `json:"supplyId"`
	TimeSeriesID      string     `json:"timeSeriesId"`
	TimeSeriesVersion int        `json:"timeSeriesVersion"`
	PeriodStart       time.Time  `json:"periodStart"`
	PeriodEnd         time.Time  `json:"periodEnd"`
	Status            string     `json:"status"`
	IsCorrection      bool       `json:"isCorrection"`
	CorrectionMode    string     `json:"correctionMode,omitempty"`
	PreviousID        string     `json:"previousSettlementId,omitempty"`
	InvoiceReference  string     `json:"invoiceReference,omitempty"`
	InvoicedAt        *time.Time `json:"invoicedAt,omitempty"`
	VoidReason        string     `json:"voidReason,omitempty"`
	TotalEnergy       string     `json:"totalEnergyKwh"`
	TotalAmount       string     `json:"totalAmount"`
	CreatedAt         time.Time  `json:"createdAt"`
	Lines             []lineView `json:"lines,omitempty"`
}

type lineView struct {
	PriceID     string `json:"priceId"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Amount      string `json:"amount"`
}

func toView(s *settlement.Settlement, withLines bool) documentView {
	v := documentView{
		ID:                s.ID(),
		DocumentNumber:    s.DocumentNumber(),
		MeteringPoint:     s.MeteringPoint(),
		SupplyID:          s.SupplyID(),
		TimeSeriesID:      s.TimeSeriesID(),
		TimeSeriesVersion: s.TimeSeriesVersion(),
		PeriodStart:       s.PeriodStart(),
		PeriodEnd:         s.PeriodEnd(),
		Status:            string(s.Status()),
		IsCorrection:      s.IsCorrection(),
		CorrectionMode:    string(s.CorrectionMode()),
		PreviousID:        s.PreviousID(),
		InvoiceReference:  s.InvoiceReference(),
		VoidReason:        s.VoidReason(),
		TotalEnergy:       s.TotalEnergy().StringFixed(3),
		TotalAmount:       s.TotalAmount().StringFixed(2),
		CreatedAt:         s.CreatedAt(),
	}
	if at := s.InvoicedAt(); !at.IsZero() {
		v.InvoicedAt = &at
	}
	if withLines {
		for _, l := range s.Lines() {
			v.Lines = append(v.Lines, lineView{
				PriceID:     l.PriceID,
				Kind:        string(l.Kind),
				Description: l.Description,
				Quantity:    l.Quantity.StringFixed(3),
				UnitPrice:   l.UnitPrice.StringFixed(6),
				Amount:      l.Amount.StringFixed(2),
			})
		}
	}
	return v
}
