// Package apperr defines the stable error taxonomy shared across the core.
//
// Handlers (outside this module's scope) translate an error into the
// {data, metadata, error} envelope from spec.md section 6 by unwrapping down
// to a *Error with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the stable string codes from spec.md section 6.
type Code string

// The closed set of error codes the core ever returns.
const (
	InvalidQuery       Code = "INVALID_QUERY"
	InvalidISBN        Code = "INVALID_ISBN"
	MissingParameter   Code = "MISSING_PARAMETER"
	RateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	NotFound           Code = "NOT_FOUND"
	ProviderError      Code = "PROVIDER_ERROR"
	InternalError      Code = "INTERNAL_ERROR"
	FileTooLarge       Code = "FILE_TOO_LARGE"
	EmptyBatch         Code = "E_EMPTY_BATCH"
	CSVProcessingError Code = "E_CSV_PROCESSING_FAILED"
	InvalidTransition  Code = "INVALID_TRANSITION"
	VersionConflict    Code = "VERSION_CONFLICT"
)

// httpStatus maps each code to the HTTP status an external handler should
// use. Kept here, rather than in a handler package, so the core can return
// one self-describing error type.
var httpStatus = map[Code]int{
	InvalidQuery:       http.StatusBadRequest,
	InvalidISBN:        http.StatusBadRequest,
	MissingParameter:   http.StatusBadRequest,
	RateLimitExceeded:  http.StatusTooManyRequests,
	NotFound:           http.StatusNotFound,
	ProviderError:      http.StatusInternalServerError,
	InternalError:      http.StatusInternalServerError,
	FileTooLarge:       http.StatusBadRequest,
	EmptyBatch:         http.StatusBadRequest,
	CSVProcessingError: http.StatusUnprocessableEntity,
	InvalidTransition:  http.StatusConflict,
	VersionConflict:    http.StatusConflict,
}

// Error is the concrete error type every core-surfaced error wraps.
//
// Retryable mirrors the "retryable" classification from spec.md section 4.8:
// model rate-limits, provider 5xx, and network timeouts are retryable;
// validation and corruption errors are not.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Details   map[string]any
	cause     error
}

// New constructs an *Error. No sensitive values (API keys, tokens) should
// ever be passed as message or details, per spec.md section 7.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code to an existing error, preserving it as the cause.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: cause.Error(), cause: cause}
}

// WithRetryable returns a copy of e marked retryable/non-retryable.
func (e *Error) WithRetryable(r bool) *Error {
	cp := *e
	cp.Retryable = r
	return &cp
}

// WithDetails returns a copy of e with the given details attached.
func (e *Error) WithDetails(d map[string]any) *Error {
	cp := *e
	cp.Details = d
	return &cp
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code an external handler should use.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Is lets errors.Is(err, apperr.New(apperr.NotFound, "")) match any *Error
// with the same code, comparing codes only.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// CodeOf extracts the Code from err, defaulting to InternalError.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// IsRetryable reports whether err, or anything it wraps, is a retryable
// *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
