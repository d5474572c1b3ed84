package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidSession    = errors.New("invalid session")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrTransientStore    = errors.New("transient store error")
	ErrProtocolViolation = errors.New("protocol violation")
)

// Error is the structured failure sent to the originating connection.
type Error struct {
	Message    string `json:"message"`
	Part       string `json:"part"`
	Tag        string `json:"tag"`
	StatusCode int    `json:"statusCode"`

	err error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s (%s)", e.Part, e.Message, e.Tag) }

func (e *Error) Unwrap() error { return e.err }

// Deny, Missing and Invalid build tagged errors in the common categories.

func Deny(tag, msg string) error {
	return &Error{Message: msg, Tag: tag, StatusCode: http.StatusForbidden, err: ErrPermissionDenied}
}

func Missing(tag, msg string) error {
	return &Error{Message: msg, Tag: tag, StatusCode: http.StatusNotFound, err: ErrNotFound}
}

func Invalid(tag, msg string) error {
	return &Error{Message: msg, Tag: tag, StatusCode: http.StatusBadRequest, err: ErrProtocolViolation}
}

// AsError converts any error into the outbound error payload for part.
func AsError(err error, part string) *Error {
	var de *Error
	if errors.As(err, &de) {
		out := *de
		if out.Part == "" {
			out.Part = part
		}
		return &out
	}
	out := &Error{Message: err.Error(), Part: part, err: err}
	switch {
	case errors.Is(err, ErrInvalidSession):
		out.Tag, out.StatusCode = "SESSION_INVALID", http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		out.Tag, out.StatusCode = "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, ErrPermissionDenied):
		out.Tag, out.StatusCode = "PERMISSION_DENIED", http.StatusForbidden
	case errors.Is(err, ErrProtocolViolation):
		out.Tag, out.StatusCode = "DATA_INVALID", http.StatusBadRequest
	case errors.Is(err, ErrTransientStore):
		out.Tag, out.StatusCode = "STORE_UNAVAILABLE", http.StatusServiceUnavailable
	default:
		out.Tag, out.StatusCode = "EXCEPTION_ERROR", http.StatusInternalServerError
	}
	return out
}
