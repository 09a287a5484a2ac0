// Package autherr defines the user-facing error type of the auth core.
//
// Every failure a client is expected to act on is an *Error carrying a machine-readable Code.
// Clients branch on the code; the message is for humans. Anything else reaching the transport
// is an internal error.
package autherr

import "errors"

// Code is the machine-readable error discriminant exposed in extensions.code.
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeBadUserInput    Code = "BAD_USER_INPUT"
	CodeInternal        Code = "INTERNAL_SERVER_ERROR"
)

// Error is a user-facing error. Cause is never shown to clients.
type Error struct {
	Code    Code
	Message string
	Ext     map[string]any
	Cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Extensions satisfies the GraphQL executor's extension hook.
func (e *Error) Extensions() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Ext)+1)
	for k, v := range e.Ext {
		out[k] = v
	}
	out["code"] = string(e.Code)
	return out
}

// Unauthenticated builds an UNAUTHENTICATED error. cause may be nil.
func Unauthenticated(msg string, cause error) *Error {
	return &Error{Code: CodeUnauthenticated, Message: msg, Cause: cause}
}

// Forbidden builds a FORBIDDEN error with optional extensions.
func Forbidden(msg string, ext map[string]any) *Error {
	return &Error{Code: CodeForbidden, Message: msg, Ext: ext}
}

// BadInput builds a BAD_USER_INPUT error. field, when set, is exposed as extensions.field.
func BadInput(msg, field string, cause error) *Error {
	e := &Error{Code: CodeBadUserInput, Message: msg, Cause: cause}
	if field != "" {
		e.Ext = map[string]any{"field": field}
	}
	return e
}

// MsgInternal is the only message a client sees for unexpected failures.
const MsgInternal = "Erro interno do servidor"

// Internal hides cause behind a generic INTERNAL_SERVER_ERROR.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: MsgInternal, Cause: cause}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for anything that is not an *Error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}
