// Package uperr classifies upload failures so callers can decide between
// "retry", "re-authenticate" and "give up" without string matching.
package uperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Category is the machine-checkable classification of an upload error.
type Category int

const (
	CategoryUnknown Category = iota

	// CategoryValidation covers bad input: unknown platform, oversized
	// file, chunk index out of range, wrong chunk length. Never retried.
	CategoryValidation

	// CategoryAuth covers missing, expired or rejected credentials.
	// Not retried here; refreshing belongs to the credential provider.
	CategoryAuth

	// CategoryTransient covers connection resets, timeouts and remote 5xx.
	// Retried up to the executor's bound.
	CategoryTransient

	// CategoryProtocol covers remote rejections unrelated to transience,
	// such as an invalid media id. Not retried.
	CategoryProtocol

	// CategoryNotFound marks an unknown or expired session id, usually a
	// lapsed TTL rather than a real failure.
	CategoryNotFound
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryAuth:
		return "auth"
	case CategoryTransient:
		return "transient"
	case CategoryProtocol:
		return "protocol"
	case CategoryNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error carries a category, a human-readable message and an optional cause.
type Error struct {
	Category Category
	Op       string
	Message  string
	Err      error

	// Exhausted marks a transient error that survived the full retry
	// budget.
	Exhausted bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Category, msg)
	}
	return fmt.Sprintf("%s: %s", e.Category, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with a formatted message.
func New(cat Category, op, format string, args ...any) *Error {
	return &Error{Category: cat, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category and operation to an existing error.
// If err is already a categorized *Error, its category wins.
func Wrap(cat Category, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		cat = ue.Category
	}
	return &Error{Category: cat, Op: op, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(CategoryValidation, op, format, args...)
}

func Auth(op, format string, args ...any) *Error {
	return New(CategoryAuth, op, format, args...)
}

func Transient(op, format string, args ...any) *Error {
	return New(CategoryTransient, op, format, args...)
}

func Protocol(op, format string, args ...any) *Error {
	return New(CategoryProtocol, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(CategoryNotFound, op, format, args...)
}

// CategoryOf extracts the category from an error chain.
// Uncategorized errors report CategoryUnknown.
func CategoryOf(err error) Category {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Category
	}
	return CategoryUnknown
}

// IsRetryable reports whether the retry executor may re-attempt after err.
// Only transient failures qualify; unknown errors are treated as transient
// so that plain transport errors from the HTTP client still get retried.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryTransient, CategoryUnknown:
		return err != nil
	default:
		return false
	}
}

// MarkExhausted tags err as having consumed the full retry budget.
func MarkExhausted(err error) error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		clone := *ue
		clone.Exhausted = true
		return &clone
	}
	return &Error{Category: CategoryTransient, Err: err, Exhausted: true}
}

// IsExhausted reports whether err was tagged by MarkExhausted.
func IsExhausted(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Exhausted
}

// FromHTTPStatus classifies a non-success remote response.
// 5xx, 408 and 429 are transient; 401/403 are auth failures; every other
// 4xx is a protocol rejection.
func FromHTTPStatus(op string, status int, body string) *Error {
	msg := fmt.Sprintf("remote returned %d", status)
	if body != "" {
		msg = fmt.Sprintf("remote returned %d: %s", status, body)
	}
	switch {
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return New(CategoryTransient, op, "%s", msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return New(CategoryAuth, op, "%s", msg)
	default:
		return New(CategoryProtocol, op, "%s", msg)
	}
}
