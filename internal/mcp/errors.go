package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors for gateway failure classification.
var (
	// ErrConfiguration marks a misconfigured server or credential. Fatal
	// for that server/operation; surfaced, never silently retried.
	ErrConfiguration = errors.New("ConfigurationError")

	// ErrAuthorization marks a caller that is not permitted to reach a
	// server. Surfaced as an explicit rejection, never as "not found".
	ErrAuthorization = errors.New("AuthorizationError")

	// ErrUpstream marks one server's network or protocol failure.
	// Recovered locally during fan-out; surfaced only when it is the sole
	// server in scope or every branch failed.
	ErrUpstream = errors.New("UpstreamTransportError")

	// ErrServerNotFound marks a lookup that matched nothing. Distinct
	// from ErrUpstream: absence is an answer, not a failure.
	ErrServerNotFound = errors.New("ServerNotFoundError")

	// ErrToolNotFound marks a tool name no registered server exposes.
	ErrToolNotFound = errors.New("ToolNotFoundError")
)

// branchError records one fan-out branch failure without aborting siblings.
type branchError struct {
	ServerID string
	Alias    string
	Err      error
}

func (e branchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Alias, e.Err)
}

func (e branchError) Unwrap() error { return e.Err }
