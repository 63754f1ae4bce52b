// Package errs defines the shared error taxonomy used by the forms and
// export services. Every error crossing a service boundary is classified
// with a Kind so HTTP handlers can map it to a status code without
// inspecting error strings.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindStorage           Kind = "storage"
	KindEncoding          Kind = "encoding"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func UnsupportedFormat(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnsupportedFormat, Message: fmt.Sprintf(format, args...)}
}

func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

func Encoding(format string, args ...interface{}) *Error {
	return &Error{Kind: KindEncoding, Message: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func Cancelled(format string, args ...interface{}) *Error {
	return &Error{Kind: KindCancelled, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the taxonomy kind of err, or an empty Kind for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a classified error to the status code its kind implies.
// Unclassified errors are treated as internal failures.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUnsupportedFormat:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindCancelled:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
