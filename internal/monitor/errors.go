package monitor

import "errors"

var (
	ErrConnectionFailure = errors.New("monitor: connection failure")
	ErrTransientReceive  = errors.New("monitor: transient receive error")
	ErrDecodeFailure     = errors.New("monitor: decode failure")
	ErrPrecondition      = errors.New("monitor: precondition violation")
	ErrShutdownTimeout   = errors.New("monitor: reader shutdown timeout")
	ErrInvalidConfig     = errors.New("monitor: invalid config")
)
