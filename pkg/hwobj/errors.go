package hwobj

import "errors"

var (
	ErrNotConnected   = errors.New("hardware object is not connected")
	ErrNotImplemented = errors.New("operation not implemented")
)
