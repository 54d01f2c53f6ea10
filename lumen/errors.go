package lumen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Kind enumerates the error taxonomy surfaced across the store's external
// interfaces. Every error lumen returns to a caller carries exactly one of
// these.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindCancelled
	KindTimeout
	KindBackpressure
	KindBackendUnavailable
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindBackpressure:
		return "backpressure"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindCorruption:
		return "corruption"
	default:
		return "internal"
	}
}

// Error is the single structured error type returned from every lumen
// operation that can fail. It renders directly to the {code, message,
// details} envelope used by the external interface.
type Error struct {
	Kind      Kind
	Message   string
	Details   any
	Cause     error
	Retryable bool
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Envelope is the wire shape for {code, message, details?}.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Envelope() Envelope {
	return Envelope{Code: e.Kind.String(), Message: e.Message, Details: e.Details}
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Timestamp: time.Now()}
}

func Validationf(format string, args ...any) *Error { return newError(KindValidation, format, args...) }
func NotFoundf(format string, args ...any) *Error    { return newError(KindNotFound, format, args...) }
func Conflictf(format string, args ...any) *Error    { return newError(KindConflict, format, args...) }
func Internalf(format string, args ...any) *Error    { return newError(KindInternal, format, args...) }
func Corruptionf(format string, args ...any) *Error  { return newError(KindCorruption, format, args...) }

func Cancelled(cause error) *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Cause: cause, Timestamp: time.Now()}
}

func Timeoutf(format string, args ...any) *Error {
	e := newError(KindTimeout, format, args...)
	e.Retryable = true
	return e
}

func Backpressuref(format string, args ...any) *Error {
	e := newError(KindBackpressure, format, args...)
	e.Retryable = true
	return e
}

func BackendUnavailablef(format string, args ...any) *Error {
	e := newError(KindBackendUnavailable, format, args...)
	e.Retryable = true
	return e
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// AsLumenError extracts a *Error from an error chain, if present.
func AsLumenError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsKind reports whether err's kind (anywhere in its chain) matches k.
func IsKind(err error, k Kind) bool {
	le, ok := AsLumenError(err)
	return ok && le.Kind == k
}

// Sentinel errors kept for callers that prefer errors.Is over kind checks.
var (
	ErrStoreClosed        = errors.New("store is closed")
	ErrCollectionClosed   = errors.New("collection is closed")
	ErrTooManyCollections = errors.New("maximum number of collections exceeded")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidDimension   = errors.New("invalid vector dimension")
	ErrInvalidK           = errors.New("k must be positive")
	ErrEmptyIndex         = errors.New("index is empty")
)

// RetryPolicy is the store-wide retry policy for embedding-provider and
// compute-backend calls: base 50ms, exponential, capped at 3 attempts.
var RetryPolicy = struct {
	Base       time.Duration
	MaxAttempts uint
}{Base: 50 * time.Millisecond, MaxAttempts: 3}

// Retry runs fn under the store-wide backoff policy, retrying only
// Retryable lumen errors. Any other error, or a successful call, returns
// immediately.
func Retry[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if le, ok := AsLumenError(err); ok && !le.Retryable {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = RetryPolicy.Base
			return b
		}()),
		backoff.WithMaxTries(RetryPolicy.MaxAttempts),
	)
}
