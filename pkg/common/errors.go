package common

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the registration and lifecycle layers.
var (
	// ErrAlreadySent is returned when a reply is written to after Send.
	ErrAlreadySent = errors.New("reply already sent")

	// ErrLateRegistration is returned when routes, hooks, decorators, or
	// plugins are registered after boot has completed.
	ErrLateRegistration = errors.New("registration after boot completion")

	// ErrNoSerializer is returned by Send when a payload needs serialization
	// and neither the reply nor its scope configured a serializer.
	ErrNoSerializer = errors.New("no serializer configured")
)

// RegistrationError reports an invalid registration. These are fatal at
// startup and returned synchronously to the caller.
type RegistrationError struct {
	Op     string // "route", "hook", "decorator", "plugin"
	Detail string
	Err    error // optional underlying sentinel, e.g. ErrLateRegistration
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s registration failed: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s registration failed: %s", e.Op, e.Detail)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// HTTPError represents an HTTP error with a status code and message.
// When returned from a hook or handler, the lifecycle uses the status code
// and message to build the error response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// NewHTTPError creates a new HTTPError with the specified status code and message.
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message}
}
