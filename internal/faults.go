package internal

import (
	"errors"
	"fmt"
	"net/http"
)

// FaultKind classifies an error for the request boundary.
type FaultKind string

const (
	// KindBadRequest marks payloads that could not be parsed into any
	// recognized event shape. The caller must fix the payload.
	KindBadRequest FaultKind = "bad_request"
	// KindNotFound marks events for which no job matched.
	KindNotFound FaultKind = "not_found"
	// KindConfiguration marks violated invariants of the job topology
	// (name collision, unsupported SCM, missing remote URL). An
	// administrator has to fix the job setup; never swallowed.
	KindConfiguration FaultKind = "configuration"
	// KindUnexpected is everything else.
	KindUnexpected FaultKind = "unexpected"
)

// Fault is a classified error surfaced at the webhook boundary.
type Fault struct {
	Kind    FaultKind
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// BadRequestf builds a bad-request fault.
func BadRequestf(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found fault.
func NotFoundf(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Configurationf builds a configuration fault.
func Configurationf(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Unexpectedf wraps an arbitrary failure.
func Unexpectedf(cause error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindUnexpected, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the fault kind of err, defaulting to KindUnexpected.
func KindOf(err error) FaultKind {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps a fault kind to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
