package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAccessDenied      = errors.New("access to this entity is not allowed")
	ErrRemoteUnavailable = errors.New("remote platform unavailable")
	ErrRemoteAuth        = errors.New("remote platform rejected the api token")
	ErrMalformedInput    = errors.New("malformed input")
	ErrNoData            = errors.New("no data")
	ErrUnauthorized      = errors.New("unauthorized")
)

// MalformedInput wraps ErrMalformedInput with a client-facing reason.
func MalformedInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}
