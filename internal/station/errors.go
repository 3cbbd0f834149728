package station

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrUnknownRole     = errors.New("unknown role")
	ErrWrongKind       = errors.New("device has wrong kind for operation")
	ErrBitOutOfRange   = errors.New("bit index out of range")
	ErrInvalidPosition = errors.New("invalid switch position")
	ErrInvalidSpeed    = errors.New("invalid speed")

	// ErrTransportUnavailable is matched by every *TransportError.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// TransportError is returned once the retry budget for a register
// operation is exhausted.
type TransportError struct {
	Op       string
	Address  uint16
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s register %d: transport unavailable after %d attempt(s): %v",
		e.Op, e.Address, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportUnavailable
}
