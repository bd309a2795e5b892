package stack

import "errors"

var (
	// ErrMissingAccount is returned when no account identifier was supplied
	ErrMissingAccount = errors.New("missing account id")

	// ErrInvalidConfig is returned for malformed names, enums, or limits
	ErrInvalidConfig = errors.New("invalid stack config")
)
