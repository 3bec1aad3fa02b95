package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransportUnavailable means neither transport can reach a device.
	ErrTransportUnavailable = errors.New("no supported transport available")
	// ErrConnectionDenied means the device interface is held by another
	// process; the user must release it before reconnecting.
	ErrConnectionDenied = errors.New("device interface is held by another process, release it and reconnect")
	// ErrAuthenticationFailed means the transport handshake was rejected.
	ErrAuthenticationFailed = errors.New("device authentication failed")
	// ErrDeviceNotFound means the requested serial is not attached.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNotConnected means no session is active.
	ErrNotConnected = errors.New("no active session")
)

// ToolNotFoundError reports that no sqlite3 candidate answered the version
// probe. Attempts lists every location tried, so the fallback chain stays
// debuggable instead of failing opaquely.
type ToolNotFoundError struct {
	Package  string
	Attempts []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("sqlite3 not found for package %s (tried %s)",
		e.Package, strings.Join(e.Attempts, ", "))
}

// DatabaseNotFoundError reports that no probed location contained the file.
type DatabaseNotFoundError struct {
	Database string
	Probed   []string
}

func (e *DatabaseNotFoundError) Error() string {
	return fmt.Sprintf("database %s not found (probed %s)",
		e.Database, strings.Join(e.Probed, ", "))
}

// Reasons carried by ExecutionError.
const (
	ReasonTimeout         = "timeout"
	ReasonNoOutput        = "nonzero-with-no-output"
	ReasonMalformedOutput = "malformed-output"
)

// ExecutionError is a terminal shell execution failure.
type ExecutionError struct {
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("execution failed (%s)", e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// QueryError is a terminal query failure. The engine never retries.
type QueryError struct {
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("query failed (%s)", e.Reason)
}

func (e *QueryError) Unwrap() error { return e.Err }
