package processes

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transition is one append-only log entry.
type Transition struct {
	ProcessID string
	From      State
	To        State
	Reason    string
	At        time.Time
}

// ActiveKey is the natural key used to find the active process.
type ActiveKey struct {
	MeteringPoint string
	Type          ProcessType
	Role          Role
}

// NewProcessParams describes a process at initiation or receipt.
type NewProcessParams struct {
	ID            string
	Type          ProcessType
	Role          Role
	MeteringPoint string
	Counterpart   string
	EffectiveDate time.Time
	TransactionID string
	CreatedAt     time.Time
}

// BrsProcess is one business process instance. State only changes through
// TransitionTo.
type BrsProcess struct {
	id            string
	processType   ProcessType
	role          Role
	table         *TransitionTable
	status        Status
	state         State
	transactionID string
	effectiveDate time.Time
	counterpart   string
	meteringPoint string
	errorMessage  string
	createdAt     time.Time
	updatedAt     time.Time

	transitions []Transition
	persisted   int
	version     int64
}

// New creates a process in the initial state of its (type, role) table.
func New(params NewProcessParams) (*BrsProcess, error) {
	table, err := LookupTable(params.Type, params.Role)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.MeteringPoint) == "" {
		return nil, ErrEmptyMeteringPoint
	}
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := params.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &BrsProcess{
		id:            id,
		processType:   params.Type,
		role:          params.Role,
		table:         table,
		status:        table.StatusOf(table.Initial()),
		state:         table.Initial(),
		transactionID: params.TransactionID,
		effectiveDate: params.EffectiveDate.UTC(),
		counterpart:   params.Counterpart,
		meteringPoint: params.MeteringPoint,
		createdAt:     created.UTC(),
		updatedAt:     created.UTC(),
	}, nil
}

// Snapshot is the persisted row shape of a process.
type Snapshot struct {
	ID            string
	Type          ProcessType
	Role          Role
	Status        Status
	State         State
	TransactionID string
	EffectiveDate time.Time
	Counterpart   string
	MeteringPoint string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// Rehydrate rebuilds a process from storage and checks the log invariant.
func Rehydrate(s Snapshot, transitions []Transition) (*BrsProcess, error) {
	if s.ID == "" {
		return nil, ErrEmptyProcessID
	}
	table, err := LookupTable(s.Type, s.Role)
	if err != nil {
		return nil, err
	}
	expected := table.Initial()
	if n := len(transitions); n > 0 {
		expected = transitions[n-1].To
	}
	if s.State != expected {
		return nil, ErrCorruptLog
	}
	log := make([]Transition, len(transitions))
	copy(log, transitions)
	return &BrsProcess{
		id:            s.ID,
		processType:   s.Type,
		role:          s.Role,
		table:         table,
		status:        table.StatusOf(s.State),
		state:         s.State,
		transactionID: s.TransactionID,
		effectiveDate: s.EffectiveDate,
		counterpart:   s.Counterpart,
		meteringPoint: s.MeteringPoint,
		errorMessage:  s.ErrorMessage,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
		transitions:   log,
		persisted:     len(log),
		version:       s.Version,
	}, nil
}

// Snapshot returns the row shape of the process.
func (p *BrsProcess) Snapshot() Snapshot {
	return Snapshot{
		ID:            p.id,
		Type:          p.processType,
		Role:          p.role,
		Status:        p.status,
		State:         p.state,
		TransactionID: p.transactionID,
		EffectiveDate: p.effectiveDate,
		Counterpart:   p.counterpart,
		MeteringPoint: p.meteringPoint,
		ErrorMessage:  p.errorMessage,
		CreatedAt:     p.createdAt,
		UpdatedAt:     p.updatedAt,
		Version:       p.version,
	}
}

// TransitionTo moves the process to state to. The log entry and the state
// change are applied together or not at all.
func (p *BrsProcess) TransitionTo(to State, reason string, at time.Time) error {
	if !p.table.CanTransition(p.state, to) {
		return &InvalidTransitionError{ProcessType: p.processType, Role: p.role, From: p.state, To: to}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry := Transition{ProcessID: p.id, From: p.state, To: to, Reason: reason, At: at.UTC()}
	p.transitions = append(p.transitions, entry)
	p.state = to
	p.status = p.table.StatusOf(to)
	p.updatedAt = entry.At
	return nil
}

// CanTransitionTo reports whether to is legal from the current state.
func (p *BrsProcess) CanTransitionTo(to State) bool {
	return p.table.CanTransition(p.state, to)
}

// AssignTransactionID records the external correlation id once.
func (p *BrsProcess) AssignTransactionID(id string) error {
	if p.transactionID != "" && p.transactionID != id {
		return ErrTransactionIDSet
	}
	p.transactionID = id
	return nil
}

// RecordError stores the latest business error reported for the process.
func (p *BrsProcess) RecordError(message string) {
	p.errorMessage = message
}

// SetEffectiveDate updates the effective date, e.g. from a confirmation.
func (p *BrsProcess) SetEffectiveDate(at time.Time) {
	if !at.IsZero() {
		p.effectiveDate = at.UTC()
	}
}

// PendingTransitions returns log entries not yet persisted.
func (p *BrsProcess) PendingTransitions() []Transition {
	out := make([]Transition, len(p.transitions)-p.persisted)
	copy(out, p.transitions[p.persisted:])
	return out
}

// MarkPersisted records a successful save at the new version.
func (p *BrsProcess) MarkPersisted(version int64) {
	p.persisted = len(p.transitions)
	p.version = version
}

// Clone returns a detached copy.
func (p *BrsProcess) Clone() *BrsProcess {
	if p == nil {
		return nil
	}
	copy := *p
	copy.transitions = append([]Transition(nil), p.transitions...)
	return &copy
}

func (p *BrsProcess) ID() string               { return p.id }
func (p *BrsProcess) Type() ProcessType        { return p.processType }
func (p *BrsProcess) Role() Role               { return p.role }
func (p *BrsProcess) Status() Status           { return p.status }
func (p *BrsProcess) State() State             { return p.state }
func (p *BrsProcess) TransactionID() string    { return p.transactionID }
func (p *BrsProcess) EffectiveDate() time.Time { return p.effectiveDate }
func (p *BrsProcess) Counterpart() string      { return p.counterpart }
func (p *BrsProcess) MeteringPoint() string    { return p.meteringPoint }
func (p *BrsProcess) ErrorMessage() string     { return p.errorMessage }
func (p *BrsProcess) CreatedAt() time.Time     { return p.createdAt }
func (p *BrsProcess) UpdatedAt() time.Time     { return p.updatedAt }
func (p *BrsProcess) Version() int64           { return p.version }

// IsTerminal reports whether the process reached a terminal state.
func (p *BrsProcess) IsTerminal() bool { return p.table.IsTerminal(p.state) }

// Transitions returns a copy of the full log.
func (p *BrsProcess) Transitions() []Transition {
	return append([]Transition(nil), p.transitions...)
}

// Key returns the natural key of the process.
func (p *BrsProcess) Key() ActiveKey {
	return ActiveKey{MeteringPoint: p.meteringPoint, Type: p.processType, Role: p.role}
}
