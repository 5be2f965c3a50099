package share

import (
	"errors"
	"fmt"
)

// Sentinel errors let HTTP handlers and the CLI map failures to responses
// with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrPayloadTooLarge    = fmt.Errorf("%w: payload too large", ErrInvalidInput)
	ErrNotFound           = errors.New("invalid token or share expired")
	ErrContentUnavailable = errors.New("content unavailable")
	ErrContentGone        = fmt.Errorf("%w: content gone", ErrContentUnavailable)
	ErrUpstream           = errors.New("upstream storage failure")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}
