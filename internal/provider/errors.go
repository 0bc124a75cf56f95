package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass splits provider failures into the two categories the retry
// policy cares about. Anything we cannot classify stays ClassUnknown and is
// retried with a lower ceiling than a known-transient error.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassTransient
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure. Err never carries response bodies
// or credentials; it is safe to persist.
type Error struct {
	Provider string
	Op       string
	Class    ErrorClass
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s error: %v", e.Provider, e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks an error as retryable (network, timeout, rate limit, 5xx).
func Transient(providerName, op string, err error) *Error {
	return &Error{Provider: providerName, Op: op, Class: ClassTransient, Err: err}
}

// Permanent marks an error as not retryable (auth, validation, unsupported input).
func Permanent(providerName, op string, err error) *Error {
	return &Error{Provider: providerName, Op: op, Class: ClassPermanent, Err: err}
}

// FromStatus classifies an HTTP status code from an external service.
func FromStatus(providerName, op string, code int) *Error {
	err := fmt.Errorf("HTTP %d", code)
	return &Error{Provider: providerName, Op: op, Class: classifyStatus(code), Err: err}
}

func classifyStatus(code int) ErrorClass {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusRequestTimeout:
		return ClassTransient
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType,
		http.StatusUnprocessableEntity:
		return ClassPermanent
	default:
		return ClassUnknown
	}
}

// ClassOf extracts the class of any error in the chain, ClassUnknown otherwise.
func ClassOf(err error) ErrorClass {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassUnknown
}
