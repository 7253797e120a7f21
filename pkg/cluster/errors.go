package cluster

import (
	"errors"
	"fmt"
)

// ErrTransport matches every *TransportError via errors.Is
var ErrTransport = errors.New("cluster transport error")

// TransportError reports that an operation could not be completed against
// the control plane. It never stands for "resource not found".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) hold for any TransportError
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError wraps err as a TransportError for op. Errors that already
// carry a TransportError are returned unchanged.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
