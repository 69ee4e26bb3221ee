package processes

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("processes: not found")
	ErrConcurrentUpdate   = errors.New("processes: concurrent update")
	ErrNoTransitionTable  = errors.New("processes: no transition table")
	ErrInvalidTransition  = errors.New("processes: invalid transition")
	ErrEmptyProcessID     = errors.New("processes: empty process id")
	ErrEmptyMeteringPoint = errors.New("processes: empty metering point")
	ErrTransactionIDSet   = errors.New("processes: transaction id already set")
	ErrCorruptLog         = errors.New("processes: transition log does not match current state")
)

// InvalidTransitionError names both the current and the attempted state.
type InvalidTransitionError struct {
	ProcessType ProcessType
	Role        Role
	From        State
	To          State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("processes: %s/%s cannot transition from %s to %s", e.ProcessType, e.Role, e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
