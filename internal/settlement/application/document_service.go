package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	settlement "supplier-core/internal/settlement/domain"
)

// ErrUnknownView is returned for an unsupported listing view.
var ErrUnknownView = errors.New("settlement documents: unknown view")

const defaultListLimit = 500

// DocumentService exposes settlements to the invoicing side.
type DocumentService struct {
	repo   settlement.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewDocumentService constructs a service.
func NewDocumentService(repo settlement.Repository, logger *zap.Logger) (*DocumentService, error) {
	if repo == nil {
		return nil, errors.New("settlement documents: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the time source.
func (s *DocumentService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ParseView maps the status query value to a view. Empty means ready.
func ParseView(v string) (settlement.View, error) {
	switch settlement.View(v) {
	case "", settlement.ViewReady:
		return settlement.ViewReady, nil
	case settlement.ViewAll:
		return settlement.ViewAll, nil
	case settlement.ViewCorrections:
		return settlement.ViewCorrections, nil
	}
	return "", ErrUnknownView
}

// List returns the settlements of a view.
func (s *DocumentService) List(ctx context.Context, view settlement.View, gsrn string) ([]*settlement.Settlement, error) {
	return s.repo.List(ctx, settlement.Filter{View: view, MeteringPoint: gsrn, Limit: defaultListLimit})
}

// Get returns one settlement.
func (s *DocumentService) Get(ctx context.Context, id string) (*settlement.Settlement, error) {
	return s.repo.Get(ctx, id)
}

// Confirm records the external invoice of a Calculated settlement.
func (s *DocumentService) Confirm(ctx context.Context, id, invoiceReference string) (*settlement.Settlement, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := doc.MarkInvoiced(invoiceReference, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, doc, settlement.StatusCalculated); err != nil {
		return nil, err
	}
	s.logger.Info("settlement invoiced",
		zap.String("settlement_id", doc.ID()),
		zap.Int64("document_number", doc.DocumentNumber()),
		zap.String("invoice_reference", invoiceReference),
	)
	return doc, nil
}
