package graph

import "errors"

var (
	ErrRateLimited    = errors.New("rate limited")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidPostURL = errors.New("invalid post url")
)

// Audit outcome tags for failed calls.
const (
	TagRateLimited  = "rate_limited"
	TagNotFound     = "not_found"
	TagUnauthorized = "unauthorized"
	TagError        = "error"
)

// ErrorTag maps a client error onto the tag stored in the audit trail.
func ErrorTag(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return TagRateLimited
	case errors.Is(err, ErrNotFound):
		return TagNotFound
	case errors.Is(err, ErrUnauthorized):
		return TagUnauthorized
	default:
		return TagError
	}
}
