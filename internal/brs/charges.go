package brs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"supplier-core/internal/cim"
	masterdata "supplier-core/internal/masterdata/domain"
	"supplier-core/internal/messaging"
)

type chargeKey struct {
	id        string
	owner     string
	priceType masterdata.PriceType
}

func requireCharge(fields cim.Fields) (chargeKey, error) {
	id, ok := fields.Get(cim.FieldChargeID)
	if !ok {
		return chargeKey{}, messaging.Permanent(fmt.Errorf("%w: charge id", ErrMissingField))
	}
	owner, ok := fields.Get(cim.FieldChargeOwner)
	if !ok {
		return chargeKey{}, messaging.Permanent(fmt.Errorf("%w: charge owner", ErrMissingField))
	}
	pt, err := masterdata.PriceTypeFromCode(fields.String(cim.FieldChargeType))
	if err != nil {
		return chargeKey{}, messaging.Permanent(err)
	}
	return chargeKey{id: id, owner: owner, priceType: pt}, nil
}

// BRS-031: price list updates. A single point is a flat rate; several
// points form a time-varying price.
func (h *Handlers) handlePriceList(ctx context.Context, in messaging.Inbound) (string, error) {
	flat := in.Fields
	key, err := requireCharge(flat.Fields)
	if err != nil {
		return "", err
	}
	validFrom, ok, err := flat.Fields.Time(cim.FieldEffectiveDate)
	if err != nil {
		return "", err
	}
	if !ok {
		validFrom = flat.PeriodStart
	}
	if validFrom.IsZero() {
		return "", messaging.Permanent(fmt.Errorf("%w: valid from", ErrMissingField))
	}
	validTo, _, err := flat.Fields.Time(cim.FieldStopDate)
	if err != nil {
		return "", err
	}

	price := &masterdata.Price{
		ChargeID:    key.id,
		OwnerGLN:    key.owner,
		Type:        key.priceType,
		Description: flat.Fields.String(cim.FieldChargeName),
		ValidFrom:   validFrom,
		ValidTo:     validTo,
		Resolution:  string(flat.Resolution),
		UpdatedAt:   h.now(),
	}
	if price.Description == "" {
		price.Description = key.id
	}
	switch len(flat.PricePoints) {
	case 0:
	case 1:
		price.Rate = flat.PricePoints[0].Price
	default:
		for _, pp := range flat.PricePoints {
			price.Points = append(price.Points, masterdata.PricePoint{Timestamp: pp.Timestamp, Price: pp.Price})
		}
	}
	if err := h.stores.Prices.Upsert(ctx, price); err != nil {
		return "", err
	}
	h.logger.Info("price list updated",
		zap.String("charge_id", key.id),
		zap.String("owner", key.owner),
		zap.String("type", string(key.priceType)),
		zap.Int("points", len(price.Points)),
	)
	return "", nil
}

// BRS-037: charge links bind a received price to a metering point. A link
// to a price not yet received fails so the message is retried.
func (h *Handlers) handleChargeLinks(ctx context.Context, in messaging.Inbound) (string, error) {
	fields := in.Fields.Fields
	gsrn, err := requireGSRN(fields)
	if err != nil {
		return "", err
	}
	key, err := requireCharge(fields)
	if err != nil {
		return "", err
	}
	validFrom, ok, err := fields.Time(cim.FieldEffectiveDate)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", messaging.Permanent(fmt.Errorf("%w: valid from", ErrMissingField))
	}
	validTo, _, err := fields.Time(cim.FieldStopDate)
	if err != nil {
		return "", err
	}

	price, err := h.stores.Prices.FindByCharge(ctx, key.id, key.owner, key.priceType)
	if errors.Is(err, masterdata.ErrNotFound) {
		return "", fmt.Errorf("charge link %s/%s: price not received yet", key.owner, key.id)
	}
	if err != nil {
		return "", err
	}
	link := &masterdata.PriceLink{
		MeteringPoint: gsrn,
		PriceID:       price.ID,
		ValidFrom:     validFrom,
		ValidTo:       validTo,
	}
	if _, err := masterdata.NewPeriod(validFrom, validTo); err != nil {
		return "", messaging.Permanent(err)
	}
	if err := h.stores.PriceLinks.Upsert(ctx, link); err != nil {
		return "", err
	}
	h.logger.Info("charge linked",
		zap.String("gsrn", gsrn),
		zap.String("charge_id", key.id),
		zap.String("price_id", price.ID),
	)
	return "", nil
}
