// Package httperr attaches HTTP status codes to errors, so handlers can return
// plain errors and have one place decide what the client sees.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bcspragu/blobsas/db"
	"github.com/bcspragu/blobsas/sas"
)

// Extract returns the status and client-facing message for err. Errors that
// don't carry a status are treated as internal, and their details aren't
// exposed.
func Extract(err error) (int, string) {
	var httpErr *Error
	if !errors.As(err, &httpErr) {
		httpErr = classify(err)
	}
	if httpErr == nil {
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}

	msg := httpErr.msg
	if msg == "" {
		msg = http.StatusText(httpErr.statusCode)
	}

	return httpErr.statusCode, msg
}

// classify maps domain errors onto statuses. Policy problems are the caller's
// fault, credential problems are ours.
func classify(err error) *Error {
	var ipe *sas.InvalidPolicyError
	switch {
	case errors.As(err, &ipe):
		return BadRequest("%w", err).WithMessage(ipe.Error())
	case db.IsNotExists(err):
		return NotFound("%w", err).WithMessage(err.Error())
	default:
		return nil
	}
}

// Write sends err to the client as a JSON body.
func Write(w http.ResponseWriter, err error) {
	code, msg := Extract(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{msg})
}

type Error struct {
	err        error
	statusCode int
	msg        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %v", e.statusCode, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) StatusCode() int {
	return e.statusCode
}

func (e *Error) WithMessage(msg string) *Error {
	e.msg = msg
	return e
}

func BadRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, format, args...)
}

func Internal(format string, args ...any) *Error {
	return newError(http.StatusInternalServerError, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(http.StatusNotFound, format, args...)
}

func newError(statusCode int, format string, args ...any) *Error {
	return &Error{
		statusCode: statusCode,
		err:        fmt.Errorf(format, args...),
	}
}
