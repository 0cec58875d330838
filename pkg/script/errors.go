package script

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTimeout is returned when a script does not settle before the deadline.
var ErrTimeout = errors.New("handler execution timed out")

// ErrUnsettled is returned when a script awaits a promise that nothing can
// ever resolve.
var ErrUnsettled = errors.New("handler awaited a promise that can never settle")

// Kind identifies a classified handler error.
type Kind string

// Handler error kinds.
const (
	KindBadRequest           Kind = "bad_request"
	KindUnauthorized         Kind = "unauthorized"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindMethodNotAllowed     Kind = "method_not_allowed"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindUnsupportedMediaType Kind = "unsupported_media_type"
	KindUnprocessableEntity  Kind = "unprocessable_entity"
	KindTooManyRequests      Kind = "too_many_requests"
	KindInternal             Kind = "internal_error"
	KindNotImplemented       Kind = "not_implemented"
	KindServiceUnavailable   Kind = "service_unavailable"
	KindGatewayTimeout       Kind = "gateway_timeout"

	// KindCustom is a HandlerError thrown with a status outside the table.
	KindCustom Kind = "custom"
)

// errorClass ties a script-visible class name to its kind and status.
type errorClass struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Status int    `json:"status"`
}

var errorClasses = []errorClass{
	{"BadRequestError", KindBadRequest, http.StatusBadRequest},
	{"UnauthorizedError", KindUnauthorized, http.StatusUnauthorized},
	{"ForbiddenError", KindForbidden, http.StatusForbidden},
	{"NotFoundError", KindNotFound, http.StatusNotFound},
	{"MethodNotAllowedError", KindMethodNotAllowed, http.StatusMethodNotAllowed},
	{"PayloadTooLargeError", KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
	{"UnsupportedMediaTypeError", KindUnsupportedMediaType, http.StatusUnsupportedMediaType},
	{"UnprocessableEntityError", KindUnprocessableEntity, http.StatusUnprocessableEntity},
	{"TooManyRequestsError", KindTooManyRequests, http.StatusTooManyRequests},
	{"InternalServerError", KindInternal, http.StatusInternalServerError},
	{"NotImplementedError", KindNotImplemented, http.StatusNotImplemented},
	{"ServiceUnavailableError", KindServiceUnavailable, http.StatusServiceUnavailable},
	{"GatewayTimeoutError", KindGatewayTimeout, http.StatusGatewayTimeout},
}

// KindForStatus returns the kind registered for status, or KindCustom.
func KindForStatus(status int) Kind {
	for _, c := range errorClasses {
		if c.Status == status {
			return c.Kind
		}
	}
	return KindCustom
}

// HandlerError is a classified error thrown intentionally by a script. The
// listener stops the handler chain and responds with Status and Message.
type HandlerError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *HandlerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// AbortError asks the listener to drop the connection without responding.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string {
	if e.Message == "" {
		return "connection aborted by handler"
	}
	return "connection aborted by handler: " + e.Message
}

// ThrownError is any other exception escaping a script, including syntax
// errors.
type ThrownError struct {
	Message string
}

func (e *ThrownError) Error() string { return e.Message }

// Class is the outcome category of a failed run.
type Class int

// Outcome classes.
const (
	ClassNone Class = iota
	ClassHandler
	ClassAbort
	ClassTimeout
	ClassUnclassified
)

// Classify maps an error returned by Run onto the handler error taxonomy.
// Timeouts are reported as a GatewayTimeout HandlerError so listeners can
// treat them like any other classified failure.
func Classify(err error) (Class, *HandlerError) {
	if err == nil {
		return ClassNone, nil
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return ClassHandler, he
	}
	var ae *AbortError
	if errors.As(err, &ae) {
		return ClassAbort, nil
	}
	if errors.Is(err, ErrTimeout) {
		return ClassTimeout, &HandlerError{
			Kind:    KindGatewayTimeout,
			Status:  http.StatusGatewayTimeout,
			Message: ErrTimeout.Error(),
		}
	}
	return ClassUnclassified, &HandlerError{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
	}
}
