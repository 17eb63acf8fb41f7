// Package proxy forwards client requests to upstream service instances.
package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for forwarding operations.
var (
	// ErrUpstreamTimeout indicates that the upstream did not answer
	// within the forward timeout.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnreachable indicates a transport level failure
	// talking to the upstream.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// ForwardError describes a failed forward attempt.
type ForwardError struct {
	Op      string // operation that failed
	Service string // service name if known
	Target  string // upstream URL if known
	Message string // human-readable message
	Cause   error  // underlying error
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	msg := fmt.Sprintf("forward error [%s]", e.Op)
	if e.Service != "" {
		msg += " service=" + e.Service
	}
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ForwardError) Unwrap() error {
	return e.Cause
}
