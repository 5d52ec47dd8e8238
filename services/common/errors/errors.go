package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an application error. Two errors with the same Kind match
// under errors.Is regardless of message.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindInvalidStatus      Kind = "invalid_status"
	KindInvalidTransition  Kind = "invalid_transition"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindImmutableState     Kind = "immutable_state"
	KindConflict           Kind = "conflict"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindIndeterminate      Kind = "indeterminate"
	KindInternal           Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindInvalidStatus:      http.StatusBadRequest,
	KindInvalidTransition:  http.StatusUnprocessableEntity,
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindImmutableState:     http.StatusConflict,
	KindConflict:           http.StatusConflict,
	KindGatewayUnavailable: http.StatusServiceUnavailable,
	KindIndeterminate:      http.StatusAccepted,
	KindInternal:           http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error of the given kind.
func New(kind Kind, message string, err error) *Error {
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Newf is New with a formatted message and no cause.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// Sentinels for errors.Is checks.
var (
	ErrValidation         = New(KindValidation, "Validation error", nil)
	ErrInvalidStatus      = New(KindInvalidStatus, "Invalid status", nil)
	ErrInvalidTransition  = New(KindInvalidTransition, "Invalid status transition", nil)
	ErrUnauthorized       = New(KindUnauthorized, "Unauthorized", nil)
	ErrForbidden          = New(KindForbidden, "Forbidden", nil)
	ErrNotFound           = New(KindNotFound, "Not found", nil)
	ErrImmutableState     = New(KindImmutableState, "Request can no longer be modified", nil)
	ErrConflict           = New(KindConflict, "Concurrent update, reload and retry", nil)
	ErrGatewayUnavailable = New(KindGatewayUnavailable, "Payment provider unavailable", nil)
	ErrIndeterminate      = New(KindIndeterminate, "Payment status could not be determined yet", nil)
	ErrInternalServer     = New(KindInternal, "Internal server error", nil)
)

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// From returns err as an *Error. Unknown errors become an internal error that
// keeps the cause but hides its message from clients.
func From(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return New(KindInternal, ErrInternalServer.Message, err)
}

// Respond writes err as a JSON error body with the status derived from its kind.
func Respond(c *gin.Context, err error) {
	appErr := From(err)
	c.JSON(appErr.Code, gin.H{"error": appErr.Message, "kind": appErr.Kind})
}

// ErrorMiddleware renders the last error attached with c.Error if the handler
// did not write a response itself.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Respond(c, c.Errors.Last().Err)
		c.Abort()
	}
}
