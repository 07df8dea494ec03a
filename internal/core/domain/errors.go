package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors of the lifecycle engine. Adapters wrap protocol failures so
// that errors.Is works against these values.
var (
	// ErrPermissionDenied means the homeserver rejected the bot identity in
	// the target room (M_FORBIDDEN).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound means an identifier or event could not be resolved.
	ErrNotFound = errors.New("not found")

	// ErrMissingImageContent is a client input error for IMAGE requests
	// without image bytes.
	ErrMissingImageContent = errors.New("Type is set to image. Please pass at least the 'content' property (base64 image)")

	// ErrUnknownOperation means the request named an operation type that
	// does not exist.
	ErrUnknownOperation = errors.New("unknown operation type")

	// ErrInvalidImage means the image payload could not be decoded.
	ErrInvalidImage = errors.New("invalid image content")

	// ErrMissingMessage means a MESSAGE, EDIT or REACTION request carried no
	// message text.
	ErrMissingMessage = errors.New("message is required")
)

// ErrorType is the category of a lifecycle failure.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypePermission     ErrorType = "permission"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeServer         ErrorType = "server"
)

// Error carries a categorized failure with its cause.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error to the webhook status contract: client input
// errors are 400, everything else is reported as 404.
func (e *Error) HTTPStatusCode() int {
	if e.Type == ErrorTypeInvalidRequest {
		return http.StatusBadRequest
	}
	return http.StatusNotFound
}

// NewError creates a categorized error.
func NewError(errType ErrorType, message string, cause error) *Error {
	return &Error{Type: errType, Message: message, Err: cause}
}

// Classify returns the category of err, looking through wrapping. Only image
// input problems are invalid_request; other bad input (unknown operation,
// missing text) belongs to the not_found class.
func Classify(err error) ErrorType {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	switch {
	case errors.Is(err, ErrMissingImageContent), errors.Is(err, ErrInvalidImage):
		return ErrorTypeInvalidRequest
	case errors.Is(err, ErrPermissionDenied):
		return ErrorTypePermission
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrMissingMessage):
		return ErrorTypeNotFound
	default:
		return ErrorTypeServer
	}
}
