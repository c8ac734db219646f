package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for the billing engine. Callers mark concrete errors with
// these through the builder and match them with the Is* predicates.
var (
	ErrInvalidSpec      = new(ErrCodeInvalidSpec, "invalid subscription spec")
	ErrInvalidState     = new(ErrCodeInvalidState, "operation not permitted in current status")
	ErrNotDue           = new(ErrCodeNotDue, "renewal not due")
	ErrGatewayFailure   = new(ErrCodeGatewayFailure, "payment gateway failure")
	ErrLeaseUnavailable = new(ErrCodeLeaseUnavailable, "lease unavailable")
	ErrStoreFailure     = new(ErrCodeStoreFailure, "store failure")
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrVersionConflict  = new(ErrCodeVersionConflict, "version conflict")

	// checked in order; the first match wins
	statusCodes = []struct {
		err    error
		status int
	}{
		{ErrInvalidSpec, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrInvalidState, http.StatusConflict},
		{ErrNotDue, http.StatusConflict},
		{ErrLeaseUnavailable, http.StatusConflict},
		{ErrVersionConflict, http.StatusConflict},
		{ErrGatewayFailure, http.StatusBadGateway},
		{ErrStoreFailure, http.StatusServiceUnavailable},
	}
)

const (
	ErrCodeInvalidSpec      = "invalid_spec"
	ErrCodeInvalidState     = "invalid_state"
	ErrCodeNotDue           = "not_due"
	ErrCodeGatewayFailure   = "gateway_failure"
	ErrCodeLeaseUnavailable = "lease_unavailable"
	ErrCodeStoreFailure     = "store_failure"
	ErrCodeNotFound         = "not_found"
	ErrCodeVersionConflict  = "version_conflict"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func IsInvalidSpec(err error) bool {
	return errors.Is(err, ErrInvalidSpec)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsNotDue(err error) bool {
	return errors.Is(err, ErrNotDue)
}

func IsGatewayFailure(err error) bool {
	return errors.Is(err, ErrGatewayFailure)
}

func IsLeaseUnavailable(err error) bool {
	return errors.Is(err, ErrLeaseUnavailable)
}

func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreFailure)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Code returns the machine code of the first sentinel err is marked with,
// or an empty string.
func Code(err error) string {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.err.(*InternalError).Code
		}
	}
	return ""
}

func HTTPStatusFromErr(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}
