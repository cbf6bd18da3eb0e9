// Package errs classifies failures of the action and event layers into the
// small set of kinds the rest of the client reacts to.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the failure class of an error.
type Kind int

const (
	// KindUnknown is never produced by classification; it marks errors that
	// did not come from this package.
	KindUnknown Kind = iota
	// KindNetwork is transient and retryable.
	KindNetwork
	// KindAuthRejected is fatal for the session and needs re-authentication.
	KindAuthRejected
	// KindRateLimited is retryable after RetryAfter.
	KindRateLimited
	// KindServerRejected means the specific action was invalid.
	KindServerRejected
	// KindDecode means a payload could not be decoded.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthRejected:
		return "authRejected"
	case KindRateLimited:
		return "rateLimited"
	case KindServerRejected:
		return "serverRejected"
	case KindDecode:
		return "decodeError"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNetwork        = errors.New("network failure")
	ErrAuthRejected   = errors.New("authentication rejected")
	ErrRateLimited    = errors.New("rate limited")
	ErrServerRejected = errors.New("rejected by server")
	ErrDecode         = errors.New("malformed payload")
)

// Error is a classified failure. Callers use errors.As to get at the
// server code or the retry delay:
//
//	var apiErr *errs.Error
//	if errors.As(err, &apiErr) && apiErr.Kind == errs.KindRateLimited {
//	    time.Sleep(apiErr.RetryAfter)
//	}
type Error struct {
	Kind Kind
	// Method is the action or stream operation that failed (e.g. "chat.postMessage").
	Method string
	// Code is the server's error string, if there was one.
	Code string
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Method, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the Kind sentinel.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindAuthRejected:
		return ErrAuthRejected
	case KindRateLimited:
		return ErrRateLimited
	case KindServerRejected:
		return ErrServerRejected
	case KindDecode:
		return ErrDecode
	default:
		return nil
	}
}

// Network wraps a transport failure.
func Network(method string, err error) *Error {
	return &Error{Kind: KindNetwork, Method: method, Err: err}
}

// Decode wraps a payload that could not be parsed.
func Decode(method string, err error) *Error {
	return &Error{Kind: KindDecode, Method: method, Err: err}
}

// RateLimited builds a rate-limit failure. A non-positive delay becomes one
// second.
func RateLimited(method string, retryAfter time.Duration) *Error {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return &Error{Kind: KindRateLimited, Method: method, Code: "ratelimited", RetryAfter: retryAfter}
}

// authCodes are the server error strings that invalidate the session.
var authCodes = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
}

// FromCode classifies an `ok:false` response by its error string.
func FromCode(method, code string) *Error {
	switch {
	case authCodes[code]:
		return &Error{Kind: KindAuthRejected, Method: method, Code: code}
	case code == "ratelimited":
		return RateLimited(method, 0)
	default:
		return &Error{Kind: KindServerRejected, Method: method, Code: code}
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err requires re-authentication.
func IsFatal(err error) bool {
	return KindOf(err) == KindAuthRejected
}

// IsRetryable reports whether retrying the same call can succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}
