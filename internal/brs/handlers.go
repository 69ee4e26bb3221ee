package brs

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/cim"
	masterdata "supplier-core/internal/masterdata/domain"
	"supplier-core/internal/messaging"
	procapp "supplier-core/internal/processes/application"
)

var (
	ErrMissingField  = errors.New("brs: missing field")
	ErrNoProcess     = errors.New("brs: no matching process")
	ErrAlreadyActive = errors.New("brs: process already active for metering point")
	ErrUnsupported   = errors.New("brs: unsupported process type")
)

// Stores groups the master data repositories the handlers mutate.
type Stores struct {
	MeteringPoints masterdata.MeteringPointRepository
	Customers      masterdata.CustomerRepository
	Supplies       masterdata.SupplyRepository
	Prices         masterdata.PriceRepository
	PriceLinks     masterdata.PriceLinkRepository
	TimeSeries     masterdata.TimeSeriesRepository
}

func (s Stores) validate() error {
	switch {
	case s.MeteringPoints == nil:
		return errors.New("brs: nil metering point repository")
	case s.Customers == nil:
		return errors.New("brs: nil customer repository")
	case s.Supplies == nil:
		return errors.New("brs: nil supply repository")
	case s.Prices == nil:
		return errors.New("brs: nil price repository")
	case s.PriceLinks == nil:
		return errors.New("brs: nil price link repository")
	case s.TimeSeries == nil:
		return errors.New("brs: nil time series repository")
	}
	return nil
}

// Handlers applies inbound business process documents to processes and
// master data. Every handler is safe to replay.
type Handlers struct {
	processes      *procapp.Service
	stores         Stores
	registry       *messaging.HandlerRegistry
	logger         *zap.Logger
	now            func() time.Time
	defaultProduct string
}

// Option configures Handlers.
type Option func(*Handlers)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithDefaultProduct sets the product attached to supplies created on
// confirmation.
func WithDefaultProduct(productID string) Option {
	return func(h *Handlers) {
		h.defaultProduct = productID
	}
}

// NewHandlers constructs the handler set.
func NewHandlers(processes *procapp.Service, stores Stores, logger *zap.Logger, opts ...Option) (*Handlers, error) {
	if processes == nil {
		return nil, errors.New("brs: nil process service")
	}
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		processes: processes,
		stores:    stores,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register binds every business process handler into registry.
func (h *Handlers) Register(registry *messaging.HandlerRegistry) error {
	if registry == nil {
		return errors.New("brs: nil registry")
	}
	h.registry = registry
	bindings := map[cim.BusinessProcess]messaging.HandlerFunc{
		cim.ProcessSupplierSwitch:     h.handleSupplierSwitch,
		cim.ProcessEndOfSupply:        h.handleEndOfSupply,
		cim.ProcessMasterData:         h.handleMasterData,
		cim.ProcessMoveIn:             h.handleMoveIn,
		cim.ProcessMoveOut:            h.handleMoveOut,
		cim.ProcessMeteredData:        h.handleMeteredData,
		cim.ProcessMeteredDataRequest: h.handleMeteredDataRequest,
		cim.ProcessPriceList:          h.handlePriceList,
		cim.ProcessChargeLinks:        h.handleChargeLinks,
	}
	for _, bp := range cim.BusinessProcesses() {
		handler, ok := bindings[bp]
		if !ok {
			continue
		}
		if err := registry.Register(bp, handler); err != nil {
			return err
		}
	}
	return nil
}

func requireGSRN(fields cim.Fields) (string, error) {
	gsrn, ok := fields.Get(cim.FieldGSRN)
	if !ok {
		return "", messaging.Permanent(ErrMissingField)
	}
	if err := cim.ValidateGSRN(gsrn); err != nil {
		return "", err
	}
	return gsrn, nil
}

func rejectReason(fields cim.Fields) string {
	code := fields.String(cim.FieldReasonCode)
	text := fields.String(cim.FieldReasonText)
	switch {
	case code != "" && text != "":
		return code + " " + text
	case code != "":
		return code
	case text != "":
		return text
	}
	return "rejected by datahub"
}
