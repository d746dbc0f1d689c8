package btcontrol

import "github.com/pkg/errors"

// Errors returned across the stack. Callers compare with errors.Cause.
var (
	ErrInProgress       = errors.New("operation in progress")
	ErrInvalid          = errors.New("invalid argument")
	ErrTimeout          = errors.New("timed out")
	ErrUnavailable      = errors.New("channel unavailable")
	ErrAlreadyConnected = errors.New("already connected")
	ErrAlreadyReleased  = errors.New("already released")
	ErrNotFound         = errors.New("not found")
	ErrClosed           = errors.New("closed")
)

// Is reports whether err was caused by target.
func Is(err, target error) bool {
	return err != nil && errors.Cause(err) == target
}
