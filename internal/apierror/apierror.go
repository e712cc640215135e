// Package apierror defines the error taxonomy shared by every pipeline
// entry point and its mapping onto HTTP responses.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure surfaced to API callers.
type Code string

const (
	// CodeValidation indicates malformed input, e.g. chunk_overlap >= chunk_size.
	CodeValidation Code = "validation_error"

	// CodeUnauthorized indicates a missing or invalid API key.
	CodeUnauthorized Code = "unauthorized"

	// CodeForbidden indicates the caller's team does not own the referenced file.
	CodeForbidden Code = "forbidden"

	// CodeNotFound indicates the file is missing or soft-deleted.
	CodeNotFound Code = "not_found"

	// CodeInvalidType indicates an operation unsupported for the file's type,
	// e.g. overwriting a PDF.
	CodeInvalidType Code = "invalid_file_type"

	// CodeRateLimited indicates the sliding-window request limit was hit.
	CodeRateLimited Code = "rate_limited"

	// CodeQuotaExceeded indicates the monthly call quota was exhausted.
	CodeQuotaExceeded Code = "quota_exceeded"

	// CodeStorage indicates a blob, vector, or relational store failure.
	CodeStorage Code = "storage_error"

	// CodeUpstream indicates an embedding or generative model failure.
	CodeUpstream Code = "upstream_error"
)

// Error is a typed API error carrying a taxonomy code and, for quota and
// rate failures, the numeric limit/usage pair so clients can back off.
type Error struct {
	Code    Code
	Message string

	// Limit and Usage are set only for quota/rate errors.
	Limit int
	Usage int

	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error code to an HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidType:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited, CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeStorage, CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Validation returns a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized returns a CodeUnauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Forbidden returns a CodeForbidden error.
func Forbidden(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// InvalidType returns a CodeInvalidType error.
func InvalidType(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidType, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// RateLimited returns a CodeRateLimited error with the window limit.
func RateLimited(limit int) *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limit exceeded", Limit: limit}
}

// QuotaExceeded returns a CodeQuotaExceeded error carrying limit and usage.
func QuotaExceeded(limit, usage int) *Error {
	return &Error{Code: CodeQuotaExceeded, Message: "monthly API quota exceeded", Limit: limit, Usage: usage}
}

// Storage wraps a store failure.
func Storage(msg string, err error) *Error {
	return &Error{Code: CodeStorage, Message: msg, Err: err}
}

// Upstream wraps an embedding or model service failure.
func Upstream(msg string, err error) *Error {
	return &Error{Code: CodeUpstream, Message: msg, Err: err}
}

// From extracts an *Error from err, or wraps it as an internal storage error.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Code: CodeStorage, Message: "internal error", Err: err}
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
