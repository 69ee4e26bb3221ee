package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplier-core/internal/audit"
	"supplier-core/internal/settlement/application"
	settlement "supplier-core/internal/settlement/domain"
	"supplier-core/internal/settlement/infrastructure/memory"
)

var periodStart = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	handler *DocumentHandler
	audit   *audit.MemoryLog
	repo    *memory.SettlementRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.NewSettlementRepository()
	svc, err := application.NewDocumentService(repo, nil)
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return periodStart.AddDate(0, 1, 3) })
	log := &audit.MemoryLog{}
	h, err := NewDocumentHandler(svc, log, nil)
	require.NoError(t, err)
	return fixture{handler: h, audit: log, repo: repo}
}

func (f fixture) seed(t *testing.T, id, series string) *settlement.Settlement {
	t.Helper()
	s, err := settlement.New(settlement.Draft{
		ID:                id,
		MeteringPoint:     "571313180400000028",
		SupplyID:          "supply-1",
		TimeSeriesID:      series,
		TimeSeriesVersion: 1,
		PeriodStart:       periodStart,
		PeriodEnd:         periodStart.AddDate(0, 1, 0),
		CreatedAt:         periodStart,
	})
	require.NoError(t, err)
	s.AddLine(settlement.Line{PriceID: "p-1", Kind: settlement.LineTariff, Description: "Nettarif", Detail: []settlement.Detail{
		settlement.NewDetail(periodStart, decimal.RequireFromString("150.5"), decimal.RequireFromString("0.3456")),
	}})
	require.NoError(t, f.repo.Save(context.Background(), settlement.Commit{Created: s}))
	return s
}

func (f fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set(audit.ActorHeader, "invoicing")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestListReadyDocuments(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s-1", "ts-1")

	rec := f.do(http.MethodGet, "/api/v1/settlement-documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "s-1", out[0]["id"])
	assert.Equal(t, "52.01", out[0]["totalAmount"])
	assert.Equal(t, float64(1), out[0]["documentNumber"])

	rec = f.do(http.MethodGet, "/api/v1/settlement-documents?status=corrections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/v1/settlement-documents?status=paid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDocumentIncludesLines(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s-1", "ts-1")

	rec := f.do(http.MethodGet, "/api/v1/settlement-documents/s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out documentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Lines, 1)
	assert.Equal(t, "52.01", out.Lines[0].Amount)
	assert.Equal(t, "150.500", out.TotalEnergy)

	rec = f.do(http.MethodGet, "/api/v1/settlement-documents/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmDocument(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s-1", "ts-1")

	rec := f.do(http.MethodPost, "/api/v1/settlement-documents/s-1/confirm", `{"invoiceReference":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/settlement-documents/s-1/confirm", `{"invoiceReference":"INV-100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out documentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Invoiced", out.Status)
	assert.Equal(t, "INV-100", out.InvoiceReference)
	require.NotNil(t, out.InvoicedAt)

	rec = f.do(http.MethodPost, "/api/v1/settlement-documents/s-1/confirm", `{"invoiceReference":"INV-101"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Cannot mark as invoiced — status is Invoiced, expected Calculated", strings.TrimSpace(rec.Body.String()))

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "settlement.confirm", entries[0].Action)
	assert.Equal(t, "s-1", entries[0].ResourceID)
	assert.Equal(t, "invoicing", entries[0].Actor)

	rec = f.do(http.MethodPost, "/api/v1/settlement-documents/missing/confirm", `{"invoiceReference":"INV-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/settlement-documents/s-1/confirm", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportDocument(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "s-1", "ts-1")

	rec := f.do(http.MethodGet, "/api/v1/settlement-documents/s-1/export?format=pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = f.do(http.MethodGet, "/api/v1/settlement-documents/s-1/export?format=xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"))

	rec = f.do(http.MethodGet, "/api/v1/settlement-documents/s-1/export?format=csv", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoutes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/settlement-documents/s-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/settlement-documents/s-1/void", "").Code)
}
