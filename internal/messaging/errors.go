package messaging

import "errors"

var (
	ErrDuplicateMessage = errors.New("messaging: duplicate external message id")
	ErrNotFound         = errors.New("messaging: message not found")
	ErrAlreadyProcessed = errors.New("messaging: message already processed")
	ErrAlreadySent      = errors.New("messaging: message already sent")
	ErrNoHandler        = errors.New("messaging: no handler for business process")
	ErrHandlerReentry   = errors.New("messaging: handler chain re-enters a business process")
	ErrPermanent        = errors.New("messaging: permanent handler failure")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent marks err as not worth retrying; the router parks the message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
