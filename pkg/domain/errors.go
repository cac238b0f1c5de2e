package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind はエラー分類です。
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindAuth            ErrorKind = "auth"
	KindRequest         ErrorKind = "request"
	KindRateLimit       ErrorKind = "rate_limit"
	KindTransport       ErrorKind = "transport"
	KindProviderFailure ErrorKind = "provider_failure"
	KindTimedOut        ErrorKind = "timed_out"
)

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrAuth            = &Error{Kind: KindAuth}
	ErrRequest         = &Error{Kind: KindRequest}
	ErrRateLimit       = &Error{Kind: KindRateLimit}
	ErrTransport       = &Error{Kind: KindTransport}
	ErrProviderFailure = &Error{Kind: KindProviderFailure}
	ErrTimedOut        = &Error{Kind: KindTimedOut}
)

// Error はノードの失敗出力に渡す構造化エラーです。
type Error struct {
	Kind    ErrorKind
	Family  Family
	Model   string
	Op      string
	Message string
	// StatusCode は HTTP ステータス (不明なら 0) です。
	StatusCode int
	// Reason はプロバイダーが報告した理由です。
	Reason  string
	Elapsed time.Duration
	Polls   int
	Cause   error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Family != "" {
		b.WriteString(string(e.Family))
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Elapsed > 0 {
		fmt.Fprintf(&b, " (after %s", e.Elapsed.Round(time.Millisecond))
		if e.Polls > 0 {
			fmt.Fprintf(&b, ", %d polls", e.Polls)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Op == ""
}

// Retryable は投入時に上位層で再試行してよい種別かどうかを返します。
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransport
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStatusCode sets the HTTP status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// WithReason sets the provider reason.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// KindOf extracts the Kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Annotate fills in family and model on err when it is an *Error without them.
func Annotate(err error, family Family, model string) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Family == "" {
			e.Family = family
		}
		if e.Model == "" {
			e.Model = model
		}
	}
	return err
}
