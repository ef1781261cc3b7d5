package acquisition

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("tobii: device already connected")
	ErrNotConnected     = errors.New("tobii: no device connected")
	ErrAlreadyStreaming = errors.New("tobii: streaming already active")
	ErrNotStreaming     = errors.New("tobii: streaming not active")
)

// ProtocolError wraps a failed device protocol call with the operation that
// issued it.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tobii: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProtocolError{Op: op, Err: err}
}
