// File: internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrProcessStart indicates the driver subprocess could not be launched.
	ErrProcessStart = errors.New("driver process failed to start")
	// ErrProcessTerminated indicates the driver subprocess exited while calls
	// were outstanding. Every in-flight call settles with this error.
	ErrProcessTerminated = errors.New("driver process terminated")
	// ErrClientClosed indicates a call was attempted after Close.
	ErrClientClosed = errors.New("protocol client is closed")
)

// TimeoutError reports that a single call exceeded its deadline. The
// connection itself is still presumed healthy; a late response for the timed
// out id is discarded by the read loop.
type TimeoutError struct {
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %q timed out after %s", e.Method, e.After)
}

// Timeout marks the error for callers using net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }

// RPCError is a structured error object returned by the driver inside a
// response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("driver rpc error %d: %s", e.Code, e.Message)
}

// ElementNotFoundError reports that the driver could not resolve an element
// reference, typically because the page changed since the ref was issued.
// This is recoverable: the caller should take a fresh snapshot.
type ElementNotFoundError struct {
	Ref    string
	Detail string
}

func (e *ElementNotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("element %q not found: %s", e.Ref, e.Detail)
	}
	return fmt.Sprintf("element %q not found", e.Ref)
}

// isElementNotFound heuristically classifies a driver-side failure message.
// Playwright-family drivers report stale or missing elements with these
// phrasings.
func isElementNotFound(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{
		"not found",
		"no element",
		"stale",
		"does not exist",
		"unable to resolve",
		"detached",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
