package processes

import "sort"

// ProcessType is the closed set of process kinds driven by a state machine.
type ProcessType string

const (
	TypeSupplierSwitch     ProcessType = "supplier-switch"
	TypeEndOfSupply        ProcessType = "end-of-supply"
	TypeMoveIn             ProcessType = "move-in"
	TypeMoveOut            ProcessType = "move-out"
	TypeMeteredDataRequest ProcessType = "metered-data-request"
)

// Role is our side of a process.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleRecipient Role = "recipient"
)

// State is a process state identifier, validated against a TransitionTable.
type State string

const (
	StateCreated   State = "Created"
	StateSubmitted State = "Submitted"
	StateConfirmed State = "Confirmed"
	StateReceived  State = "Received"
	StateCompleted State = "Completed"
	StateRejected  State = "Rejected"
	StateCancelled State = "Cancelled"
)

// Status is the coarse lifecycle derived from the state.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
)

// TransitionTable holds the legal edges for one (process type, role) pair.
type TransitionTable struct {
	processType ProcessType
	role        Role
	initial     State
	edges       map[State][]State
	terminal    map[State]bool
}

func newTable(pt ProcessType, role Role, initial State, edges map[State][]State, terminal ...State) *TransitionTable {
	t := &TransitionTable{
		processType: pt,
		role:        role,
		initial:     initial,
		edges:       edges,
		terminal:    make(map[State]bool, len(terminal)),
	}
	for _, s := range terminal {
		t.terminal[s] = true
	}
	return t
}

// ProcessType returns the table's process type.
func (t *TransitionTable) ProcessType() ProcessType { return t.processType }

// Role returns the table's role.
func (t *TransitionTable) Role() Role { return t.role }

// Initial returns the state a new process starts in.
func (t *TransitionTable) Initial() State { return t.initial }

// States returns every state named by the table, sorted.
func (t *TransitionTable) States() []State {
	seen := map[State]bool{t.initial: true}
	for from, targets := range t.edges {
		seen[from] = true
		for _, to := range targets {
			seen[to] = true
		}
	}
	for s := range t.terminal {
		seen[s] = true
	}
	out := make([]State, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanTransition reports whether from -> to is a legal edge.
func (t *TransitionTable) CanTransition(from, to State) bool {
	if t.terminal[from] {
		return false
	}
	for _, candidate := range t.edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (t *TransitionTable) IsTerminal(s State) bool {
	return t.terminal[s]
}

// GetValidTransitions returns the states reachable from s in one step.
func (t *TransitionTable) GetValidTransitions(s State) []State {
	if t.terminal[s] {
		return []State{}
	}
	out := make([]State, len(t.edges[s]))
	copy(out, t.edges[s])
	return out
}

// StatusOf maps a state to its coarse lifecycle status.
func (t *TransitionTable) StatusOf(s State) Status {
	switch {
	case s == StateCompleted:
		return StatusCompleted
	case s == StateRejected:
		return StatusRejected
	case s == StateCancelled:
		return StatusCancelled
	case s == t.initial:
		return StatusPending
	}
	return StatusActive
}

type tableKey struct {
	processType ProcessType
	role        Role
}

var tables = map[tableKey]*TransitionTable{}

func register(t *TransitionTable) {
	tables[tableKey{t.processType, t.role}] = t
}

func requestEdges() map[State][]State {
	return map[State][]State{
		StateCreated:   {StateSubmitted, StateCancelled},
		StateSubmitted: {StateConfirmed, StateRejected},
		StateConfirmed: {StateCompleted, StateCancelled},
	}
}

func init() {
	for _, pt := range []ProcessType{TypeSupplierSwitch, TypeEndOfSupply, TypeMoveIn, TypeMoveOut} {
		register(newTable(pt, RoleInitiator, StateCreated, requestEdges(), StateCompleted, StateRejected, StateCancelled))
	}
	register(newTable(TypeSupplierSwitch, RoleRecipient, StateReceived, map[State][]State{
		StateReceived: {StateCompleted, StateCancelled},
	}, StateCompleted, StateCancelled))
	register(newTable(TypeMeteredDataRequest, RoleInitiator, StateCreated, map[State][]State{
		StateCreated:   {StateSubmitted, StateCancelled},
		StateSubmitted: {StateCompleted, StateRejected},
	}, StateCompleted, StateRejected, StateCancelled))
}

// LookupTable returns the transition table for a process type and role.
func LookupTable(pt ProcessType, role Role) (*TransitionTable, error) {
	t, ok := tables[tableKey{pt, role}]
	if !ok {
		return nil, ErrNoTransitionTable
	}
	return t, nil
}

// Tables returns every registered table.
func Tables() []*TransitionTable {
	out := make([]*TransitionTable, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].processType != out[j].processType {
			return out[i].processType < out[j].processType
		}
		return out[i].role < out[j].role
	})
	return out
}

// ParseProcessType validates a process type tag.
func ParseProcessType(value string) (ProcessType, bool) {
	pt := ProcessType(value)
	for key := range tables {
		if key.processType == pt {
			return pt, true
		}
	}
	return "", false
}
