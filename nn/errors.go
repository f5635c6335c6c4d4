package nn

import "errors"

var (
	ErrInvalidConfig   = errors.New("invalid layer config")
	ErrUnknownExecutor = errors.New("unknown executor")
	ErrInvalidShape    = errors.New("invalid shape")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrInputShapeUnset = errors.New("input shape not set")
	ErrInputShapeFixed = errors.New("input shape already set")
	ErrNoForwardPass   = errors.New("backward called without a forward pass")
	ErrForeignPass     = errors.New("forward pass belongs to another layer")
)
