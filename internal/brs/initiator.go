package brs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/cim"
	masterdata "supplier-core/internal/masterdata/domain"
	"supplier-core/internal/messaging"
	procapp "supplier-core/internal/processes/application"
	processes "supplier-core/internal/processes/domain"
)

// InitiateRequest describes a process we start towards the datahub.
type InitiateRequest struct {
	Type          processes.ProcessType
	MeteringPoint string
	EffectiveDate time.Time
	// PeriodEnd bounds a metered data request.
	PeriodEnd    time.Time
	CustomerID   string
	CustomerName string
}

type outboundRequest struct {
	kind            cim.DocumentKind
	processTypeCode string
	businessProcess cim.BusinessProcess
}

var outboundRequests = map[processes.ProcessType]outboundRequest{
	processes.TypeSupplierSwitch:     {cim.RequestChangeOfSupplier, cim.ProcessTypeChangeOfSupplier, cim.ProcessSupplierSwitch},
	processes.TypeMoveIn:             {cim.RequestChangeOfSupplier, cim.ProcessTypeMoveIn, cim.ProcessMoveIn},
	processes.TypeEndOfSupply:        {cim.RequestEndOfSupply, cim.ProcessTypeEndOfSupply, cim.ProcessEndOfSupply},
	processes.TypeMoveOut:            {cim.RequestEndOfSupply, cim.ProcessTypeMoveOut, cim.ProcessMoveOut},
	processes.TypeMeteredDataRequest: {cim.RequestValidatedMeasureData, cim.ProcessTypeHistoricalData, cim.ProcessMeteredDataRequest},
}

// Initiator starts initiator processes and queues their request documents.
type Initiator struct {
	processes   *procapp.Service
	customers   masterdata.CustomerRepository
	outbox      messaging.OutboxStore
	builder     *cim.Builder
	supplierGLN string
	datahubGLN  string
	logger      *zap.Logger
}

// NewInitiator constructs an Initiator sending as supplierGLN to datahubGLN.
func NewInitiator(
	processes *procapp.Service,
	customers masterdata.CustomerRepository,
	outbox messaging.OutboxStore,
	supplierGLN, datahubGLN string,
	logger *zap.Logger,
	builder *cim.Builder,
) (*Initiator, error) {
	if processes == nil {
		return nil, errors.New("initiator: nil process service")
	}
	if customers == nil {
		return nil, errors.New("initiator: nil customer repository")
	}
	if outbox == nil {
		return nil, errors.New("initiator: nil outbox")
	}
	if err := cim.ValidateGLN(supplierGLN); err != nil {
		return nil, fmt.Errorf("initiator: supplier gln: %w", err)
	}
	if err := cim.ValidateGLN(datahubGLN); err != nil {
		return nil, fmt.Errorf("initiator: datahub gln: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if builder == nil {
		builder = cim.NewBuilder()
	}
	return &Initiator{
		processes:   processes,
		customers:   customers,
		outbox:      outbox,
		builder:     builder,
		supplierGLN: supplierGLN,
		datahubGLN:  datahubGLN,
		logger:      logger,
	}, nil
}

// Initiate starts the process and queues its request. When the request
// cannot be queued the process is cancelled.
func (i *Initiator) Initiate(ctx context.Context, req InitiateRequest) (*processes.BrsProcess, *messaging.OutboxMessage, error) {
	out, ok := outboundRequests[req.Type]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupported, req.Type)
	}
	if err := cim.ValidateGSRN(req.MeteringPoint); err != nil {
		return nil, nil, err
	}
	if req.EffectiveDate.IsZero() {
		return nil, nil, fmt.Errorf("%w: effective date", ErrMissingField)
	}
	startsSupply := req.Type == processes.TypeSupplierSwitch || req.Type == processes.TypeMoveIn
	if startsSupply && req.CustomerID == "" {
		return nil, nil, fmt.Errorf("%w: customer id", ErrMissingField)
	}
	if req.Type == processes.TypeMeteredDataRequest && !req.PeriodEnd.After(req.EffectiveDate) {
		return nil, nil, fmt.Errorf("%w: period end", ErrMissingField)
	}

	key := processes.ActiveKey{MeteringPoint: req.MeteringPoint, Type: req.Type, Role: processes.RoleInitiator}
	if active, err := i.processes.FindActive(ctx, key); err == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyActive, active.ID())
	} else if !errors.Is(err, processes.ErrNotFound) {
		return nil, nil, err
	}

	if startsSupply {
		if _, _, err := i.customers.FindOrCreate(ctx, masterdata.Customer{ID: req.CustomerID, Name: req.CustomerName}); err != nil {
			return nil, nil, err
		}
	}

	p, err := i.processes.Start(ctx, processes.NewProcessParams{
		Type:          req.Type,
		Role:          processes.RoleInitiator,
		MeteringPoint: req.MeteringPoint,
		Counterpart:   req.CustomerID,
		EffectiveDate: req.EffectiveDate,
	})
	if err != nil {
		return nil, nil, err
	}

	msg, err := i.enqueue(ctx, p, out, req)
	if err != nil {
		if _, cancelErr := i.processes.Cancel(ctx, p.ID(), "outbox enqueue failed"); cancelErr != nil {
			i.logger.Error("cancel process after enqueue failure",
				zap.String("process_id", p.ID()),
				zap.Error(cancelErr),
			)
		}
		return nil, nil, err
	}
	i.logger.Info("process initiated",
		zap.String("process_id", p.ID()),
		zap.String("type", string(p.Type())),
		zap.String("gsrn", p.MeteringPoint()),
		zap.String("outbox_id", msg.ID),
	)
	return p, msg, nil
}

func (i *Initiator) enqueue(ctx context.Context, p *processes.BrsProcess, out outboundRequest, req InitiateRequest) (*messaging.OutboxMessage, error) {
	tx := cim.Transaction{
		"marketEvaluationPoint.mRID":             cim.GSRN(req.MeteringPoint),
		"start_DateAndOrTime.dateTime":           cim.FormatTime(req.EffectiveDate),
		"balanceSupplier_MarketParticipant.mRID": cim.GLN(i.supplierGLN),
	}
	if req.CustomerID != "" {
		tx["customer_MarketParticipant.mRID"] = cim.Text(req.CustomerID)
	}
	if req.CustomerName != "" {
		tx["customer_MarketParticipant.name"] = req.CustomerName
	}
	if !req.PeriodEnd.IsZero() {
		tx["end_DateAndOrTime.dateTime"] = cim.FormatTime(req.PeriodEnd)
	}

	env, err := i.builder.Build(out.kind, out.processTypeCode,
		cim.Party{GLN: i.supplierGLN, Role: cim.RoleBalanceSupplier},
		cim.Party{GLN: i.datahubGLN, Role: cim.RoleMeteringPointOperator},
		[]cim.Transaction{tx},
	)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", out.kind, err)
	}
	msg := &messaging.OutboxMessage{
		DocumentType:    out.kind.Document,
		BusinessProcess: out.businessProcess,
		SenderID:        i.supplierGLN,
		ReceiverID:      i.datahubGLN,
		Payload:         env.Payload,
		ProcessID:       p.ID(),
		TransactionID:   env.TransactionIDs[0],
		CreatedAt:       env.CreatedAt,
	}
	if err := i.outbox.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", out.kind, err)
	}
	return msg, nil
}
