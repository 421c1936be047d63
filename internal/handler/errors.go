package handler

import (
	"fmt"
	"net/http"
)

// RequestError is a terminal failure that maps onto an HTTP response.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func methodNotAllowed() *RequestError {
	return &RequestError{Status: http.StatusMethodNotAllowed, Message: "You must POST to this API"}
}

func unauthorized() *RequestError {
	return &RequestError{Status: http.StatusUnauthorized, Message: "You must use Basic authentication with this API"}
}

func invalidInput(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func upstreamUnavailable(err error, format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

// AmbiguityError reports that the window did not hold exactly one Uber
// transaction. No matches and several matches are reported the same way.
type AmbiguityError struct {
	Count int
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("Cannot match uber transactions (found %d)", e.Count)
}

// AttachmentError wraps a failed attachment registration.
type AttachmentError struct {
	TransactionID string
	Err           error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("Cannot register attachment: %v", e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}
