// Package errcode defines the stable error codes surfaced by the update
// client. Every fatal failure delivered on the updater's error feed carries
// one of these codes so host applications can branch on failure kind without
// string matching.
package errcode

import (
	"context"
	"errors"
	"fmt"
)

// Stable codes. These match the wire-level codes of the original update feed
// ecosystem so hosts migrating from other clients keep their handling.
const (
	InvalidBlockMap      = "ERR_UPDATER_INVALID_BLOCKMAP"
	ChecksumMismatch     = "ERR_UPDATER_CHECKSUM_MISMATCH"
	InvalidVersion       = "ERR_UPDATER_INVALID_VERSION"
	InvalidConfiguration = "ERR_UPDATER_INVALID_CONFIGURATION"
	Network              = "ERR_UPDATER_NETWORK"
	CacheCorruption      = "ERR_UPDATER_CACHE_CORRUPTION"
	Cancelled            = "ERR_UPDATER_CANCELLED"
)

// Error is an error tagged with a stable code. It wraps an optional cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with a formatted message.
func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code carried by err, or "" if err is not coded.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}

// IsCancelled reports whether err represents a cooperative cancellation,
// either via a coded cancellation error or a context cancellation. Cancelled
// errors are never delivered to the error feed.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, Cancelled) || errors.Is(err, context.Canceled)
}
