// Package apierror is the error taxonomy shared by the stateless API and the query correlator.
// Only *Error values cross the transport boundary; anything else is reported as Unclassified.
package apierror

import (
	"errors"
	"net/http"
)

// Code is the stable, client-visible error code.
type Code string

const (
	ResourceNotFound    Code = "ResourceNotFound"
	PathNotFound        Code = "PathNotFound"
	HandlerNotFound     Code = "HandlerNotFound"
	DomainNotFound      Code = "DomainNotFound"
	UserSessionInvalid  Code = "UserSessionInvalid"
	ResourcePermissions Code = "ResourcePermissions"
	RateLimited         Code = "RateLimited"
	InvalidRequest      Code = "InvalidRequest"
	Unclassified        Code = "Unclassified"
)

var messages = map[Code]string{
	ResourceNotFound:    "resource not found",
	PathNotFound:        "path not found",
	HandlerNotFound:     "handler not found",
	DomainNotFound:      "domain not found",
	UserSessionInvalid:  "user session invalid",
	ResourcePermissions: "insufficient permissions for resource",
	RateLimited:         "too many requests",
	InvalidRequest:      "malformed request body",
	Unclassified:        "internal error",
}

// Status maps the code to an HTTP status.
func (c Code) Status() int {
	switch c {
	case ResourceNotFound, PathNotFound, HandlerNotFound, DomainNotFound:
		return http.StatusNotFound
	case UserSessionInvalid:
		return http.StatusUnauthorized
	case ResourcePermissions:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case InvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Cause is kept for server-side logging and never serialized.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New returns an Error with the default message for code.
func New(code Code) *Error {
	return &Error{Code: code, Message: messages[code]}
}

// Wrap returns an Error for code that keeps cause for errors.Is/As and logging.
func Wrap(code Code, cause error) *Error {
	e := New(code)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code so errors.Is(err, apierror.New(code)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Payload is the wire shape of an error.
type Payload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Payload returns the client-visible part of e.
func (e *Error) Payload() *Payload {
	return &Payload{Code: e.Code, Message: e.Message}
}

// From classifies err. Unknown errors become Unclassified with a generic message; the
// original error is kept as Cause for logging only.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(Unclassified, err)
}

// IsCode reports whether err classifies as code.
func IsCode(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
