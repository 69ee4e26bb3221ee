package brs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"supplier-core/internal/cim"
	masterdata "supplier-core/internal/masterdata/domain"
	"supplier-core/internal/messaging"
	processes "supplier-core/internal/processes/domain"
)

// BRS-001: responses to our change-of-supplier requests, and notifications
// that another supplier takes over one of our metering points.
func (h *Handlers) handleSupplierSwitch(ctx context.Context, in messaging.Inbound) (string, error) {
	if in.Fields.DocumentType == cim.DocumentNotifyEndOfSupply {
		return h.handleLostSupply(ctx, in)
	}
	return h.applyResponse(ctx, in, processes.TypeSupplierSwitch, h.startSupply)
}

// BRS-002
func (h *Handlers) handleEndOfSupply(ctx context.Context, in messaging.Inbound) (string, error) {
	return h.applyResponse(ctx, in, processes.TypeEndOfSupply, h.endSupply)
}

// BRS-009
func (h *Handlers) handleMoveIn(ctx context.Context, in messaging.Inbound) (string, error) {
	return h.applyResponse(ctx, in, processes.TypeMoveIn, h.startSupply)
}

// BRS-010
func (h *Handlers) handleMoveOut(ctx context.Context, in messaging.Inbound) (string, error) {
	return h.applyResponse(ctx, in, processes.TypeMoveOut, h.endSupply)
}

// findInitiated locates the initiator process a response refers to: by the
// original transaction id when present, else the active process for the
// metering point.
func (h *Handlers) findInitiated(ctx context.Context, pt processes.ProcessType, gsrn string, fields cim.Fields) (*processes.BrsProcess, error) {
	if txID, ok := fields.Get(cim.FieldOriginalTransactionID); ok {
		p, err := h.processes.FindByTransactionID(ctx, pt, processes.RoleInitiator, txID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, processes.ErrNotFound) {
			return nil, err
		}
	}
	p, err := h.processes.FindActive(ctx, processes.ActiveKey{MeteringPoint: gsrn, Type: pt, Role: processes.RoleInitiator})
	if errors.Is(err, processes.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrNoProcess, pt, gsrn)
	}
	return p, err
}

// catchUp moves a process still in Created to Submitted. A response can
// arrive before the accepted delivery of our request was recorded.
func (h *Handlers) catchUp(p *processes.BrsProcess, fields cim.Fields) error {
	if p.State() != processes.StateCreated {
		return nil
	}
	if txID, ok := fields.Get(cim.FieldOriginalTransactionID); ok {
		if err := p.AssignTransactionID(txID); err != nil {
			return err
		}
	}
	return p.TransitionTo(processes.StateSubmitted, "response received before delivery was recorded", h.now())
}

// applyResponse confirms or rejects an initiator process. onConfirm runs on
// every accepted delivery, including replays, and must be idempotent.
func (h *Handlers) applyResponse(ctx context.Context, in messaging.Inbound, pt processes.ProcessType, onConfirm func(context.Context, *processes.BrsProcess) error) (string, error) {
	fields := in.Fields.Fields
	gsrn, err := requireGSRN(fields)
	if err != nil {
		return "", err
	}
	found, err := h.findInitiated(ctx, pt, gsrn, fields)
	if err != nil {
		return "", err
	}

	if !fields.Accepted() {
		reason := rejectReason(fields)
		p, err := h.processes.Mutate(ctx, found.ID(), func(p *processes.BrsProcess) error {
			if p.State() == processes.StateRejected {
				return nil
			}
			if err := h.catchUp(p, fields); err != nil {
				return err
			}
			p.RecordError(reason)
			return p.TransitionTo(processes.StateRejected, reason, h.now())
		})
		if err != nil {
			return "", err
		}
		h.logger.Warn("process rejected by datahub",
			zap.String("process_id", p.ID()),
			zap.String("gsrn", gsrn),
			zap.String("reason", reason),
		)
		return p.ID(), nil
	}

	effective, _, err := fields.Time(cim.FieldEffectiveDate)
	if err != nil {
		return "", err
	}
	p, err := h.processes.Mutate(ctx, found.ID(), func(p *processes.BrsProcess) error {
		if p.State() == processes.StateConfirmed || p.State() == processes.StateCompleted {
			return nil
		}
		if err := h.catchUp(p, fields); err != nil {
			return err
		}
		p.SetEffectiveDate(effective)
		return p.TransitionTo(processes.StateConfirmed, "confirmed by datahub", h.now())
	})
	if err != nil {
		return "", err
	}
	if onConfirm != nil {
		if err := onConfirm(ctx, p); err != nil {
			return p.ID(), err
		}
	}
	return p.ID(), nil
}

// startSupply creates our supply from the process effective date. The
// process counterpart is the customer.
func (h *Handlers) startSupply(ctx context.Context, p *processes.BrsProcess) error {
	start := p.EffectiveDate()
	if start.IsZero() {
		return messaging.Permanent(fmt.Errorf("%w: effective date", ErrMissingField))
	}
	existing, err := h.stores.Supplies.FindStarting(ctx, p.MeteringPoint(), start)
	if err == nil {
		h.logger.Debug("supply already created", zap.String("supply_id", existing.ID))
		return nil
	}
	if !errors.Is(err, masterdata.ErrNotFound) {
		return err
	}
	now := h.now()
	supply := &masterdata.Supply{
		ID:            uuid.NewString(),
		MeteringPoint: p.MeteringPoint(),
		CustomerID:    p.Counterpart(),
		ProductID:     h.defaultProduct,
		Start:         start,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.stores.Supplies.Create(ctx, supply); err != nil {
		return err
	}
	h.logger.Info("supply started",
		zap.String("supply_id", supply.ID),
		zap.String("gsrn", supply.MeteringPoint),
		zap.Time("start", start),
	)
	return nil
}

func (h *Handlers) endSupply(ctx context.Context, p *processes.BrsProcess) error {
	return h.endSupplyAt(ctx, p.MeteringPoint(), p.EffectiveDate())
}

// endSupplyAt ends the supply covering at. A supply that already ended at or
// before at is left alone.
func (h *Handlers) endSupplyAt(ctx context.Context, gsrn string, at time.Time) error {
	if at.IsZero() {
		return messaging.Permanent(fmt.Errorf("%w: effective date", ErrMissingField))
	}
	supply, err := h.stores.Supplies.FindCovering(ctx, gsrn, at)
	if errors.Is(err, masterdata.ErrNotFound) {
		h.logger.Debug("no supply to end", zap.String("gsrn", gsrn), zap.Time("at", at))
		return nil
	}
	if err != nil {
		return err
	}
	if err := supply.EndAt(at); err != nil {
		return messaging.Permanent(err)
	}
	supply.UpdatedAt = h.now()
	if err := h.stores.Supplies.Update(ctx, supply); err != nil {
		return err
	}
	h.logger.Info("supply ended",
		zap.String("supply_id", supply.ID),
		zap.String("gsrn", gsrn),
		zap.Time("end", at),
	)
	return nil
}

// handleLostSupply records a recipient supplier-switch process, ends our
// supply at the effective date and completes the process.
func (h *Handlers) handleLostSupply(ctx context.Context, in messaging.Inbound) (string, error) {
	fields := in.Fields.Fields
	gsrn, err := requireGSRN(fields)
	if err != nil {
		return "", err
	}
	txID, ok := fields.Get(cim.FieldTransactionID)
	if !ok {
		return "", messaging.Permanent(fmt.Errorf("%w: transaction id", ErrMissingField))
	}
	effective, ok, err := fields.Time(cim.FieldEffectiveDate)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", messaging.Permanent(fmt.Errorf("%w: effective date", ErrMissingField))
	}

	p, err := h.processes.FindByTransactionID(ctx, processes.TypeSupplierSwitch, processes.RoleRecipient, txID)
	switch {
	case err == nil:
		if p.IsTerminal() {
			return p.ID(), nil
		}
	case errors.Is(err, processes.ErrNotFound):
		p, err = h.processes.Start(ctx, processes.NewProcessParams{
			Type:          processes.TypeSupplierSwitch,
			Role:          processes.RoleRecipient,
			MeteringPoint: gsrn,
			Counterpart:   fields.String(cim.FieldBalanceSupplier),
			EffectiveDate: effective,
			TransactionID: txID,
		})
		if err != nil {
			return "", err
		}
	default:
		return "", err
	}

	if err := h.endSupplyAt(ctx, gsrn, effective); err != nil {
		return p.ID(), err
	}
	p, err = h.processes.Transition(ctx, p.ID(), processes.StateCompleted, "supply handed over to new supplier")
	if err != nil {
		return "", err
	}
	return p.ID(), nil
}
