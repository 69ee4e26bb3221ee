package brs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"supplier-core/internal/cim"
	masterdata "supplier-core/internal/masterdata/domain"
	"supplier-core/internal/messaging"
	processes "supplier-core/internal/processes/domain"
)

// BRS-006: accounting point master data. Fields absent from the document
// keep their stored value.
func (h *Handlers) handleMasterData(ctx context.Context, in messaging.Inbound) (string, error) {
	fields := in.Fields.Fields
	gsrn, err := requireGSRN(fields)
	if err != nil {
		return "", err
	}
	mp, err := h.stores.MeteringPoints.Get(ctx, gsrn)
	if errors.Is(err, masterdata.ErrNotFound) {
		mp = &masterdata.MeteringPoint{GSRN: gsrn}
	} else if err != nil {
		return "", err
	}
	mp.Merge(masterdata.MeteringPoint{
		Type:             fields.String(cim.FieldMeteringPointType),
		SettlementMethod: fields.String(cim.FieldSettlementMethod),
		GridArea:         fields.String(cim.FieldGridArea),
		PriceArea:        fields.String(cim.FieldPriceArea),
		Address: masterdata.Address{
			Street:         fields.String(cim.FieldStreet),
			BuildingNumber: fields.String(cim.FieldBuildingNumber),
			PostCode:       fields.String(cim.FieldPostCode),
			City:           fields.String(cim.FieldCity),
		},
		UpdatedAt: h.now(),
	})
	if err := mp.Validate(); err != nil {
		return "", messaging.Permanent(err)
	}
	if err := h.stores.MeteringPoints.Upsert(ctx, mp); err != nil {
		return "", err
	}
	h.logger.Info("metering point master data updated",
		zap.String("gsrn", gsrn),
		zap.String("price_area", mp.PriceArea),
	)
	return "", nil
}

// BRS-021: metered data becomes a new time series version.
func (h *Handlers) handleMeteredData(ctx context.Context, in messaging.Inbound) (string, error) {
	flat := in.Fields
	gsrn, err := requireGSRN(flat.Fields)
	if err != nil {
		return "", err
	}
	if len(flat.Observations) == 0 {
		return "", messaging.Permanent(masterdata.ErrEmptyObservations)
	}
	end := flat.PeriodEnd
	if end.IsZero() {
		last := flat.Observations[len(flat.Observations)-1].Timestamp
		end = flat.Resolution.At(last, 2)
	}
	ts := &masterdata.TimeSeries{
		ID:            uuid.NewString(),
		MeteringPoint: gsrn,
		PeriodStart:   flat.PeriodStart,
		PeriodEnd:     end,
		Resolution:    string(flat.Resolution),
		TransactionID: flat.Fields.String(cim.FieldTransactionID),
		ReceivedAt:    h.now(),
		Observations:  make([]masterdata.Observation, 0, len(flat.Observations)),
	}
	for _, o := range flat.Observations {
		ts.Observations = append(ts.Observations, masterdata.Observation{
			Timestamp: o.Timestamp,
			Quantity:  o.Quantity,
			Quality:   o.Quality,
		})
	}
	if err := ts.Validate(); err != nil {
		return "", messaging.Permanent(err)
	}
	appended, err := h.stores.TimeSeries.Append(ctx, ts)
	if err != nil {
		return "", err
	}
	if !appended {
		h.logger.Debug("time series unchanged", zap.String("gsrn", gsrn), zap.String("time_series_id", ts.ID))
		return "", nil
	}
	h.logger.Info("time series stored",
		zap.String("gsrn", gsrn),
		zap.String("time_series_id", ts.ID),
		zap.Int("version", ts.Version),
		zap.Int("observations", len(ts.Observations)),
	)
	return "", nil
}

// BRS-024: responses to our historical data requests. Delivered data
// completes the request and is stored through BRS-021.
func (h *Handlers) handleMeteredDataRequest(ctx context.Context, in messaging.Inbound) (string, error) {
	fields := in.Fields.Fields
	gsrn, err := requireGSRN(fields)
	if err != nil {
		return "", err
	}
	found, err := h.findInitiated(ctx, processes.TypeMeteredDataRequest, gsrn, fields)
	if err != nil && !errors.Is(err, ErrNoProcess) {
		return "", err
	}

	if !fields.Accepted() {
		if found == nil {
			return "", err
		}
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
		return p.ID(), nil
	}

	processID := ""
	if found != nil {
		p, err := h.processes.Mutate(ctx, found.ID(), func(p *processes.BrsProcess) error {
			if p.State() == processes.StateCompleted {
				return nil
			}
			if err := h.catchUp(p, fields); err != nil {
				return err
			}
			return p.TransitionTo(processes.StateCompleted, "historical data received", h.now())
		})
		if err != nil {
			return "", err
		}
		processID = p.ID()
	} else {
		h.logger.Info("historical data without open request", zap.String("gsrn", gsrn))
	}
	if !in.Fields.HasPoints() {
		return processID, nil
	}
	if _, err := h.registry.Forward(ctx, cim.ProcessMeteredData, in); err != nil {
		return processID, fmt.Errorf("forward historical data: %w", err)
	}
	return processID, nil
}
