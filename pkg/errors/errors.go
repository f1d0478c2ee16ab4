package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

// The portal itself turned the credential away.
const (
	CodeUnauthorized Code = "unauthorized"
)

// Everything that is not the caller's fault: transport failures, timeouts,
// unexpected status codes, unparseable payloads.
const (
	CodeUnavailable Code = "portal_unavailable"
	CodeUnknown     Code = "unknown"
)

var ErrMissingResolver = errors.New("portalauth: resolver is required")

// Error is the classified failure for every portal interaction. StatusCode is
// the HTTP status observed at the failing hop (0 for transport-level
// failures). FromCache marks failures replayed from the negative outcome tier
// instead of a fresh portal round-trip.
type Error struct {
	Code       Code
	StatusCode int
	Message    string
	FromCache  bool
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Unauthorized classifies a 401/403 portal response for the given operation.
// The credential is masked before it reaches the message.
func Unauthorized(statusCode int, operation string, credential string) *Error {
	return &Error{
		Code:       CodeUnauthorized,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("%s: credential %s rejected with status %d", operation, Mask(credential), statusCode),
	}
}

// Unavailable classifies a non-success, non-rejection portal response.
func Unavailable(statusCode int, operation string) *Error {
	return &Error{
		Code:       CodeUnavailable,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("%s: portal responded with status %d", operation, statusCode),
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Cached re-tags a previously observed rejection replayed from the negative
// outcome tier.
func Cached(statusCode int, credential string) *Error {
	return &Error{
		Code:       CodeUnauthorized,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("credential %s already cached with status %d", Mask(credential), statusCode),
		FromCache:  true,
	}
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

func IsUnauthorized(err error) bool {
	return IsCode(err, CodeUnauthorized)
}

func IsUnavailable(err error) bool {
	return IsCode(err, CodeUnavailable)
}

// IsFromCache reports whether err is a failure replayed from the negative
// outcome tier rather than a fresh portal rejection.
func IsFromCache(err error) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.FromCache
}

// StatusCode extracts the HTTP status carried by a classified error, or 0.
func StatusCode(err error) int {
	var typed *Error
	if !errors.As(err, &typed) {
		return 0
	}
	return typed.StatusCode
}

// IsRejectionStatus reports whether an HTTP status means the portal rejected
// the presented credential, as opposed to failing to answer.
func IsRejectionStatus(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

const (
	maskMarker      = "***"
	maskPlaceholder = "****"
	maskSuffixLen   = 4
)

// Mask reduces a secret to a marker plus its last four characters so log lines
// and error messages can correlate attempts without disclosing the credential.
// Secrets too short to mask safely collapse to a fixed placeholder.
func Mask(secret string) string {
	if len(secret) <= maskSuffixLen {
		return maskPlaceholder
	}
	return maskMarker + secret[len(secret)-maskSuffixLen:]
}
