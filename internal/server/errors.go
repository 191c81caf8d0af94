package server

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a handler error carrying the HTTP status to reply with.
type StatusError struct {
	Code int
	Err  error
}

func (se StatusError) Error() string {
	return se.Err.Error()
}

// Status returns the HTTP status code.
func (se StatusError) Status() int {
	return se.Code
}

func (se StatusError) Unwrap() error {
	return se.Err
}

func badRequest(format string, args ...interface{}) StatusError {
	return StatusError{Code: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

func makeBadRequestError(err error) StatusError {
	return StatusError{Code: http.StatusBadRequest, Err: err}
}

// statusOf maps a handler error to an HTTP status. Errors without a status
// are internal.
func statusOf(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}
