package admission

import (
	"errors"
	"fmt"
)

// Kind classifies why an admission check did not end in a plain allow.
type Kind string

const (
	KindNone             Kind = ""
	KindRateLimited      Kind = "rate_limited"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindInvalidPolicy    Kind = "invalid_policy"
	KindStoreUnavailable Kind = "store_unavailable"
	KindParseFailure     Kind = "parse_failure"
)

func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// Retryable reports whether waiting for the reset time is enough to be admitted again.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindStoreUnavailable:
		return true
	default:
		return false
	}
}

// Error is an admission error carrying its Kind and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrStoreUnavailable) works on wrapped causes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrRateLimited      = &Error{Kind: KindRateLimited, Message: "rate limit exceeded"}
	ErrQuotaExceeded    = &Error{Kind: KindQuotaExceeded, Message: "daily quota exceeded"}
	ErrInvalidPolicy    = &Error{Kind: KindInvalidPolicy, Message: "invalid rate limit policy"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
	ErrParseFailure     = &Error{Kind: KindParseFailure, Message: "malformed stored value"}
)

// StoreUnavailable wraps an infrastructure failure of the named store.
func StoreUnavailable(store string, err error) error {
	return &Error{
		Kind:    KindStoreUnavailable,
		Message: fmt.Sprintf("%s store unavailable", store),
		Err:     err,
	}
}

// ParseFailure wraps a decode error of a stored value.
func ParseFailure(what string, err error) error {
	return &Error{
		Kind:    KindParseFailure,
		Message: fmt.Sprintf("failed to parse %s", what),
		Err:     err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindNone
}
