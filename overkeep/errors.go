// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for API-boundary failures. Match with errors.Is.
var (
	// ErrInvalidArgument reports a nil or ill-typed input caught before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalState reports an operation on a closed store, a stopped worker,
	// or an entity whose identity does not satisfy the operation's precondition.
	ErrIllegalState = errors.New("illegal state")

	// ErrNotFound reports a missing entity where one was required to exist.
	ErrNotFound = errors.New("entity not found")
)

// Violation is a single failed constraint check.
type Violation struct {
	Constraint string
	Message    string
}

// ValidationError reports every constraint violated by an entity, not just
// the first. It is returned before any transaction is opened, so an invalid
// entity never consumes a session.
type ValidationError struct {
	Kind       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Constraint + ": " + v.Message
	}
	return fmt.Sprintf("entity %q failed validation: %s", e.Kind, strings.Join(msgs, "; "))
}

// PersistenceError wraps an underlying datastore failure. The originating
// transaction has already been rolled back by the time it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError reports a connection factory that could not be built
// from the configuration at Path. It is fatal for that initialization attempt
// but not cached, so subsequent calls may retry.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cannot build connection factory from %q: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func illegalStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
