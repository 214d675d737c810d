package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for proxy operations.
var (
	// ErrInvalidTarget indicates that an upstream URL could not be used.
	ErrInvalidTarget = errors.New("invalid upstream target")

	// ErrUpstreamTimeout indicates that the upstream request timed out.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates that the upstream could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// UpstreamError carries the route and target of a failed upstream request.
type UpstreamError struct {
	Route  string
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream error route=%s target=%s: %v", e.Route, e.Target, e.Cause)
	}
	return fmt.Sprintf("upstream error route=%s target=%s", e.Route, e.Target)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// NewUpstreamError creates an UpstreamError.
func NewUpstreamError(route, target string, cause error) *UpstreamError {
	return &UpstreamError{Route: route, Target: target, Cause: cause}
}

// IsUpstreamError checks whether err is an UpstreamError.
func IsUpstreamError(err error) bool {
	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr)
}
