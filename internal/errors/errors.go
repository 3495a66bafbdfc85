package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code int

const (
	CodeInternal Code = iota
	CodeNotFound
	CodeAlreadyStarted
	CodeFull
	CodeStaleWrite
	CodeStoreUnavailable
	CodeInvalidClaim
	CodeForbidden
)

var code2name = map[Code]string{
	CodeInternal:         "Internal",
	CodeNotFound:         "NotFound",
	CodeAlreadyStarted:   "AlreadyStarted",
	CodeFull:             "Full",
	CodeStaleWrite:       "StaleWrite",
	CodeStoreUnavailable: "StoreUnavailable",
	CodeInvalidClaim:     "InvalidClaim",
	CodeForbidden:        "Forbidden",
}

var code2http = map[Code]int{
	CodeInternal:         http.StatusInternalServerError,
	CodeNotFound:         http.StatusNotFound,
	CodeAlreadyStarted:   http.StatusConflict,
	CodeFull:             http.StatusConflict,
	CodeStaleWrite:       http.StatusConflict,
	CodeStoreUnavailable: http.StatusServiceUnavailable,
	CodeInvalidClaim:     http.StatusBadRequest,
	CodeForbidden:        http.StatusForbidden,
}

func (c Code) String() string {
	if n, ok := code2name[c]; ok {
		return n
	}

	return fmt.Sprintf("Code(%d)", int(c))
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: code.String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %s, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsStaleWrite reports whether err is an idempotence-guard rejection,
// the expected outcome of a benign race. Callers swallow these.
func IsStaleWrite(err error) bool {
	return Is(err, CodeStaleWrite)
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
