// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"sync"
)

// Constraint is a declarative check applied to an entity before any write.
// Check returns a non-nil error describing the violation when the entity is
// invalid.
type Constraint struct {
	Name  string
	Check func(e Entity) error
}

// ValidationGate applies the constraints declared for an entity kind before
// a transaction is opened for it. An entity that fails validation never
// touches a session.
type ValidationGate struct {
	mu          sync.RWMutex
	constraints map[string][]Constraint
}

func NewValidationGate() *ValidationGate {
	return &ValidationGate{constraints: make(map[string][]Constraint)}
}

// Require declares constraints for an entity kind. Constraints run in
// declaration order and all of them run even after one fails.
func (g *ValidationGate) Require(kind string, constraints ...Constraint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.constraints[kind] = append(g.constraints[kind], constraints...)
}

// Validate runs every applicable constraint and returns a *ValidationError
// carrying the full set of violations, or nil when the entity is valid. No
// side effects on success.
func (g *ValidationGate) Validate(e Entity) error {
	if e == nil {
		return invalidArgf("entity to be validated cannot be nil")
	}

	g.mu.RLock()
	constraints := g.constraints[e.EntityKind()]
	g.mu.RUnlock()

	var violations []Violation
	for _, c := range constraints {
		if err := c.Check(e); err != nil {
			violations = append(violations, Violation{Constraint: c.Name, Message: err.Error()})
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Kind: e.EntityKind(), Violations: violations}
}
