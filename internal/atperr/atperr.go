// Package atperr classifies errors from the network client and the
// external directory into a small tagged taxonomy, once, at the
// boundary, so downstream code switches on a Kind instead of grepping
// error strings.
package atperr

import (
	"errors"
	"net/http"
	"strings"
)

// Kind is the classification of an external-call failure.
type Kind int

const (
	// Permanent errors are not worth retrying (bad request, programming error).
	Permanent Kind = iota
	// Transient errors are worth retrying with backoff (timeouts, 5xx, connection resets).
	Transient
	// RateLimited means the call hit a documented rate limit; retry with exponential backoff.
	RateLimited
	// Conflict means the operation's target already exists; treat as success.
	Conflict
	// AuthExpired means the session token was rejected; re-authenticate.
	AuthExpired
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Conflict:
		return "conflict"
	case AuthExpired:
		return "auth_expired"
	default:
		return "permanent"
	}
}

// Error wraps an underlying error with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Classify returns the Kind of err, defaulting to Permanent when nothing
// matches. Prefer ClassifyHTTP when a status code is available — this is
// the last-resort substring path for errors that only carry a message
// (e.g. an XRPC error surfaced as plain text).
func Classify(err error) Kind {
	if err == nil {
		return Permanent
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "ratelimitexceeded"):
		return RateLimited
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "record exists"), strings.Contains(msg, "duplicate"):
		return Conflict
	case strings.Contains(msg, "expiredtoken"), strings.Contains(msg, "invalidtoken"), strings.Contains(msg, "token has expired"), strings.Contains(msg, "unauthorized"):
		return AuthExpired
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"), strings.Contains(msg, "temporarily unavailable"):
		return Transient
	default:
		return Permanent
	}
}

// ClassifyHTTP classifies a response by status code first, falling back
// to Classify(err) when the status alone isn't decisive.
func ClassifyHTTP(status int, err error) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthExpired
	case status == http.StatusConflict:
		return Conflict
	case status >= 500:
		return Transient
	case status == http.StatusNotFound:
		return Permanent
	default:
		return Classify(err)
	}
}
