package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// ErrorCode identifies the class of an application error. The string value is
// what handlers report verbatim in the {"error": code} response body.
type ErrorCode string

const (
	CodeIncompleteProfile ErrorCode = "incomplete_profile"
	CodeConflict          ErrorCode = "conflict"
	CodeAlreadyConnected  ErrorCode = "already_connected"
	CodeNotFound          ErrorCode = "not_found"
	CodeTransient         ErrorCode = "transient"
	CodeInvalid           ErrorCode = "invalid"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeInternal          ErrorCode = "internal_error"
)

// AppError is the error type every core operation surfaces. All errors are
// resolved inside the transaction boundary before one of these escapes.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors

func errIncompleteProfile() error {
	return &AppError{Code: CodeIncompleteProfile, Message: "profile must be completed first"}
}

func errConflict(msg string) error {
	return &AppError{Code: CodeConflict, Message: msg}
}

func errAlreadyConnected() error {
	return &AppError{Code: CodeAlreadyConnected, Message: "connection already accepted"}
}

func errNotFound(msg string) error {
	return &AppError{Code: CodeNotFound, Message: msg}
}

func errInvalid(msg string) error {
	return &AppError{Code: CodeInvalid, Message: msg}
}

func errTransient(cause error) error {
	return &AppError{Code: CodeTransient, Message: "storage contention, retry", Cause: cause}
}

func errInternal(cause error) error {
	return &AppError{Code: CodeInternal, Message: "internal error", Cause: cause}
}

// Postgres SQLSTATEs that mean the transaction lost a lock race and is safe
// to retry from scratch.
const (
	sqlstateLockNotAvailable     = "55P03"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateSerializationFailure = "40001"
)

// classifyDBError wraps a storage error into the taxonomy: lock contention
// becomes Transient, everything else Internal. nil passes through.
func classifyDBError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case sqlstateLockNotAvailable, sqlstateDeadlockDetected, sqlstateSerializationFailure:
			return errTransient(err)
		}
	}
	return errInternal(err)
}

func httpStatusFor(code ErrorCode) int {
	switch code {
	case CodeIncompleteProfile:
		return http.StatusForbidden
	case CodeConflict, CodeAlreadyConnected:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransient:
		return http.StatusServiceUnavailable
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError reports err to the client. Taxonomy codes are reported
// verbatim; anything else is masked as internal_error.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		writeError(w, httpStatusFor(appErr.Code), string(appErr.Code))
		return
	}
	writeError(w, http.StatusInternalServerError, string(CodeInternal))
}
