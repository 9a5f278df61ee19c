package generation

import (
	"errors"
	"fmt"
)

// ErrProviderUnavailable is reported when a request asks for the remote
// provider but none is configured.
var ErrProviderUnavailable = errors.New("remote provider not configured")

// ValidationError reports a request field that is missing or cannot be
// coerced. It is detected before any generation starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("invalid field %q", e.Field)
	}
	return e.Message
}

// RemoteTransportError wraps a failure of the remote provider. Text emitted
// before the failure stays valid.
type RemoteTransportError struct {
	Err error
}

func (e *RemoteTransportError) Error() string {
	return fmt.Sprintf("remote provider error: %v", e.Err)
}

func (e *RemoteTransportError) Unwrap() error {
	return e.Err
}
