package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the invoicing status of a settlement.
type Status string

const (
	StatusCalculated Status = "Calculated"
	StatusInvoiced   Status = "Invoiced"
	StatusAdjusted   Status = "Adjusted"
	StatusVoided     Status = "Voided"
)

// Action names the transition into status.
func (s Status) Action() string {
	switch s {
	case StatusInvoiced:
		return "mark as invoiced"
	case StatusAdjusted:
		return "mark as adjusted"
	case StatusVoided:
		return "void"
	}
	return "move to " + string(s)
}

// CorrectionMode selects how a correction is computed.
type CorrectionMode string

const (
	// CorrectionDelta carries only the difference to what was invoiced.
	CorrectionDelta CorrectionMode = "delta"
	// CorrectionFull carries the complete recomputed period.
	CorrectionFull CorrectionMode = "full"
)

// ParseCorrectionMode parses a configured mode. Empty means delta.
func ParseCorrectionMode(v string) (CorrectionMode, bool) {
	switch CorrectionMode(v) {
	case "", CorrectionDelta:
		return CorrectionDelta, true
	case CorrectionFull:
		return CorrectionFull, true
	}
	return "", false
}

const amountPlaces = 2

// Settlement is the line-itemized cost of one metering point and supply over
// the period of one time series version.
type Settlement struct {
	id                string
	documentNumber    int64
	meteringPoint     string
	supplyID          string
	timeSeriesID      string
	timeSeriesVersion int
	periodStart       time.Time
	periodEnd         time.Time

	status           Status
	isCorrection     bool
	correctionMode   CorrectionMode
	previousID       string
	invoiceReference string
	invoicedAt       time.Time
	voidReason       string

	lines       []Line
	totalEnergy decimal.Decimal
	totalAmount decimal.Decimal

	createdAt time.Time
	updatedAt time.Time
}

// Draft holds the identity of a settlement being created.
type Draft struct {
	ID                string
	MeteringPoint     string
	SupplyID          string
	TimeSeriesID      string
	TimeSeriesVersion int
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CreatedAt         time.Time
}

func (d Draft) validate() error {
	switch {
	case d.ID == "":
		return ErrEmptyID
	case d.MeteringPoint == "":
		return ErrEmptyMeteringPoint
	case d.SupplyID == "":
		return ErrEmptySupply
	case d.TimeSeriesID == "":
		return ErrEmptyTimeSeries
	case d.PeriodStart.IsZero() || d.PeriodEnd.IsZero() || !d.PeriodEnd.After(d.PeriodStart):
		return ErrInvalidPeriod
	}
	return nil
}

// New creates a Calculated settlement.
func New(d Draft) (*Settlement, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	created := d.CreatedAt.UTC()
	return &Settlement{
		id:                d.ID,
		meteringPoint:     d.MeteringPoint,
		supplyID:          d.SupplyID,
		timeSeriesID:      d.TimeSeriesID,
		timeSeriesVersion: d.TimeSeriesVersion,
		periodStart:       d.PeriodStart.UTC(),
		periodEnd:         d.PeriodEnd.UTC(),
		status:            StatusCalculated,
		totalEnergy:       decimal.Zero,
		totalAmount:       decimal.Zero,
		createdAt:         created,
		updatedAt:         created,
	}, nil
}

// NewCorrection creates a Calculated correction of previous.
func NewCorrection(d Draft, previous *Settlement, mode CorrectionMode) (*Settlement, error) {
	if previous == nil {
		return nil, ErrNilSettlement
	}
	s, err := New(d)
	if err != nil {
		return nil, err
	}
	s.isCorrection = true
	s.correctionMode = mode
	s.previousID = previous.id
	return s, nil
}

// AddLine appends a line, deriving its amount, and recomputes the totals.
func (s *Settlement) AddLine(l Line) {
	s.lines = append(s.lines, l.derive())
	s.recompute()
}

// recompute derives the totals from the lines. Energy counts each metered
// timestamp once, however many lines price it.
func (s *Settlement) recompute() {
	amount := decimal.Zero
	energy := decimal.Zero
	seen := make(map[int64]struct{})
	for _, l := range s.lines {
		amount = amount.Add(l.Amount)
		if !l.Kind.Metered() {
			continue
		}
		for _, d := range l.Detail {
			key := detailKey(d.Timestamp)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			energy = energy.Add(d.Quantity)
		}
	}
	s.totalAmount = amount
	s.totalEnergy = energy
}

// MarkInvoiced moves a Calculated settlement to Invoiced.
func (s *Settlement) MarkInvoiced(reference string, at time.Time) error {
	if s.status != StatusCalculated {
		return &StatusError{Action: StatusInvoiced.Action(), Current: s.status, Expected: StatusCalculated}
	}
	if reference == "" {
		return ErrEmptyInvoiceReference
	}
	s.status = StatusInvoiced
	s.invoiceReference = reference
	s.invoicedAt = at.UTC()
	s.updatedAt = at.UTC()
	return nil
}

// MarkAdjusted moves an Invoiced settlement to Adjusted. The invoice
// reference and timestamp are kept.
func (s *Settlement) MarkAdjusted(at time.Time) error {
	if s.status != StatusInvoiced {
		return &StatusError{Action: StatusAdjusted.Action(), Current: s.status, Expected: StatusInvoiced}
	}
	s.status = StatusAdjusted
	s.updatedAt = at.UTC()
	return nil
}

// Void retires a Calculated settlement that was superseded before it was
// invoiced. Its document number stays assigned.
func (s *Settlement) Void(reason string, at time.Time) error {
	if s.status != StatusCalculated {
		return &StatusError{Action: StatusVoided.Action(), Current: s.status, Expected: StatusCalculated}
	}
	s.status = StatusVoided
	s.voidReason = reason
	s.updatedAt = at.UTC()
	return nil
}

// AssignDocumentNumber sets the number drawn from the global sequence.
func (s *Settlement) AssignDocumentNumber(n int64) error {
	if s.documentNumber != 0 {
		return ErrDocumentNumberSet
	}
	s.documentNumber = n
	return nil
}

// Billed reports whether the settlement content reached an invoice.
func (s *Settlement) Billed() bool {
	return s.status == StatusInvoiced || s.status == StatusAdjusted
}

func (s *Settlement) ID() string                     { return s.id }
func (s *Settlement) DocumentNumber() int64          { return s.documentNumber }
func (s *Settlement) MeteringPoint() string          { return s.meteringPoint }
func (s *Settlement) SupplyID() string               { return s.supplyID }
func (s *Settlement) TimeSeriesID() string           { return s.timeSeriesID }
func (s *Settlement) TimeSeriesVersion() int         { return s.timeSeriesVersion }
func (s *Settlement) PeriodStart() time.Time         { return s.periodStart }
func (s *Settlement) PeriodEnd() time.Time           { return s.periodEnd }
func (s *Settlement) Status() Status                 { return s.status }
func (s *Settlement) IsCorrection() bool             { return s.isCorrection }
func (s *Settlement) CorrectionMode() CorrectionMode { return s.correctionMode }
func (s *Settlement) PreviousID() string             { return s.previousID }
func (s *Settlement) InvoiceReference() string       { return s.invoiceReference }
func (s *Settlement) InvoicedAt() time.Time          { return s.invoicedAt }
func (s *Settlement) VoidReason() string             { return s.voidReason }
func (s *Settlement) TotalEnergy() decimal.Decimal   { return s.totalEnergy }
func (s *Settlement) TotalAmount() decimal.Decimal   { return s.totalAmount }
func (s *Settlement) CreatedAt() time.Time           { return s.createdAt }
func (s *Settlement) UpdatedAt() time.Time           { return s.updatedAt }

// Lines returns a copy of the lines.
func (s *Settlement) Lines() []Line {
	out := make([]Line, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.clone()
	}
	return out
}

// Snapshot is the persisted form of a settlement.
type Snapshot struct {
	ID                string
	DocumentNumber    int64
	MeteringPoint     string
	SupplyID          string
	TimeSeriesID      string
	TimeSeriesVersion int
	PeriodStart       time.Time
	PeriodEnd         time.Time
	Status            Status
	IsCorrection      bool
	CorrectionMode    CorrectionMode
	PreviousID        string
	InvoiceReference  string
	InvoicedAt        time.Time
	VoidReason        string
	Lines             []Line
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Snapshot exports the settlement state.
func (s *Settlement) Snapshot() Snapshot {
	return Snapshot{
		ID:                s.id,
		DocumentNumber:    s.documentNumber,
		MeteringPoint:     s.meteringPoint,
		SupplyID:          s.supplyID,
		TimeSeriesID:      s.timeSeriesID,
		TimeSeriesVersion: s.timeSeriesVersion,
		PeriodStart:       s.periodStart,
		PeriodEnd:         s.periodEnd,
		Status:            s.status,
		IsCorrection:      s.isCorrection,
		CorrectionMode:    s.correctionMode,
		PreviousID:        s.previousID,
		InvoiceReference:  s.invoiceReference,
		InvoicedAt:        s.invoicedAt,
		VoidReason:        s.voidReason,
		Lines:             s.Lines(),
		CreatedAt:         s.createdAt,
		UpdatedAt:         s.updatedAt,
	}
}

// Rehydrate rebuilds a settlement from storage. Totals are derived again
// from the lines.
func Rehydrate(snap Snapshot) *Settlement {
	s := &Settlement{
		id:                snap.ID,
		documentNumber:    snap.DocumentNumber,
		meteringPoint:     snap.MeteringPoint,
		supplyID:          snap.SupplyID,
		timeSeriesID:      snap.TimeSeriesID,
		timeSeriesVersion: snap.TimeSeriesVersion,
		periodStart:       snap.PeriodStart.UTC(),
		periodEnd:         snap.PeriodEnd.UTC(),
		status:            snap.Status,
		isCorrection:      snap.IsCorrection,
		correctionMode:    snap.CorrectionMode,
		previousID:        snap.PreviousID,
		invoiceReference:  snap.InvoiceReference,
		invoicedAt:        snap.InvoicedAt,
		voidReason:        snap.VoidReason,
		createdAt:         snap.CreatedAt,
		updatedAt:         snap.UpdatedAt,
	}
	for _, l := range snap.Lines {
		s.lines = append(s.lines, l.derive())
	}
	s.recompute()
	return s
}

// Clone returns a detached copy.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	return Rehydrate(s.Snapshot())
}
