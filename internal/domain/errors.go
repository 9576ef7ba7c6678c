// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested agent or server does not exist.
var ErrNotFound = errors.New("not found")

// ErrCapacityExceeded indicates the fleet is at its configured maximum.
var ErrCapacityExceeded = errors.New("fleet capacity exceeded")

// ErrNotRunning indicates an operation that requires a running agent was
// invoked on an agent in another state.
var ErrNotRunning = errors.New("agent not running")

// ErrTimeout indicates a start or message exchange exceeded its deadline.
var ErrTimeout = errors.New("operation timed out")

// ErrStartFailure indicates the underlying runtime session could not be opened.
var ErrStartFailure = errors.New("agent start failed")

// ErrRecoveryExhausted indicates the recovery attempt budget is spent.
var ErrRecoveryExhausted = errors.New("recovery attempts exhausted")

// ErrInternal is the catch-all for adapter and transport faults.
var ErrInternal = errors.New("internal error")
