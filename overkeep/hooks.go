// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"fmt"
	"sync"
)

// HookPhase identifies a fixed point relative to a persistence operation.
type HookPhase string

const (
	AfterLoad    HookPhase = "after_load"
	BeforeCreate HookPhase = "before_create"
	AfterCreate  HookPhase = "after_create"
	BeforeUpdate HookPhase = "before_update"
	AfterUpdate  HookPhase = "after_update"
	BeforeRemove HookPhase = "before_remove"
	AfterRemove  HookPhase = "after_remove"
)

// HookFunc is a lifecycle callback declared for an entity kind.
type HookFunc func(ctx context.Context, e Entity) error

// HookRegistry maps (entity kind, phase) to an ordered list of callbacks.
// The table is built once at startup through explicit registration; dispatch
// invokes callbacks in registration order. Absence of callbacks is a no-op.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[string]map[HookPhase][]HookFunc
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[string]map[HookPhase][]HookFunc)}
}

// On appends callbacks for the given kind and phase.
func (r *HookRegistry) On(kind string, phase HookPhase, fns ...HookFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPhase, ok := r.hooks[kind]
	if !ok {
		byPhase = make(map[HookPhase][]HookFunc)
		r.hooks[kind] = byPhase
	}
	byPhase[phase] = append(byPhase[phase], fns...)
}

// dispatch invokes every callback declared for the entity's kind and phase,
// in registration order, stopping at the first failure. Hook failures
// propagate as errors from the enclosing operation.
func (r *HookRegistry) dispatch(ctx context.Context, e Entity, phase HookPhase) error {
	if e == nil {
		return nil
	}

	r.mu.RLock()
	fns := r.hooks[e.EntityKind()][phase]
	r.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(ctx, e); err != nil {
			return fmt.Errorf("%s hook for %q: %w", phase, e.EntityKind(), err)
		}
	}
	return nil
}
