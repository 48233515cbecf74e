// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"fmt"
	"sort"
	"sync"
)

// Entity is the base contract for all persistable types. An entity is either
// transient (EntityID returns nil) or persistent (non-nil identity); store
// operations assert the expected state before acting.
type Entity interface {
	// EntityKind returns the registered kind name (e.g. "author").
	EntityKind() string

	// EntityID returns the surrogate key, or nil for a transient entity.
	EntityID() any

	// SetEntityID assigns the surrogate key. Called with nil after a delete
	// so callers can recognize the detached-deleted state without re-querying.
	SetEntityID(id any)
}

// Merger is implemented by entity types that support hydration: merging the
// non-zero fields of a partially populated value into a managed instance
// loaded from the database. Each type decides which of its fields count as
// set and therefore win the merge.
type Merger interface {
	MergeInto(managed Entity)
}

// Mapping describes how one entity kind maps onto a table. Mappings are
// declared in code and registered at startup; there is no runtime discovery.
type Mapping struct {
	Kind     string
	Table    string
	IDColumn string

	// Columns lists the persisted non-identity columns, in a fixed order that
	// Values and Dest must both follow.
	Columns []string

	// New returns a zero value of the entity type, used when scanning rows.
	New func() Entity

	// Values returns the column values for e, in Columns order.
	Values func(e Entity) []any

	// Dest returns scan destinations for the identity column followed by
	// Columns, pointing into e.
	Dest func(e Entity) []any

	// NextID generates an identity at create time. When nil the database
	// assigns one and it is read back via RETURNING.
	NextID func() any
}

func (m *Mapping) validate() error {
	switch {
	case m.Kind == "":
		return fmt.Errorf("mapping has no kind")
	case m.Table == "":
		return fmt.Errorf("mapping %q has no table", m.Kind)
	case m.IDColumn == "":
		return fmt.Errorf("mapping %q has no id column", m.Kind)
	case len(m.Columns) == 0:
		return fmt.Errorf("mapping %q has no columns", m.Kind)
	case m.New == nil || m.Values == nil || m.Dest == nil:
		return fmt.Errorf("mapping %q must define New, Values and Dest", m.Kind)
	}
	return nil
}

// MappingSet is the registry of persistable entity kinds for one connection
// factory. Registration happens at startup; lookups are safe for concurrent
// use afterwards.
type MappingSet struct {
	mu       sync.RWMutex
	mappings map[string]*Mapping
}

func NewMappingSet() *MappingSet {
	return &MappingSet{mappings: make(map[string]*Mapping)}
}

// Register adds a mapping to the set. Registering the same kind twice or an
// incomplete mapping is an error.
func (ms *MappingSet) Register(m *Mapping) error {
	if m == nil {
		return invalidArgf("mapping cannot be nil")
	}
	if err := m.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.mappings[m.Kind]; ok {
		return invalidArgf("entity kind %q is already registered", m.Kind)
	}
	ms.mappings[m.Kind] = m
	return nil
}

// Lookup returns the mapping for kind, or an ErrInvalidArgument error when
// the kind is not a registered persistable type.
func (ms *MappingSet) Lookup(kind string) (*Mapping, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	m, ok := ms.mappings[kind]
	if !ok {
		return nil, invalidArgf("kind %q is not a registered persistable entity", kind)
	}
	return m, nil
}

// Kinds returns the registered kind names in sorted order.
func (ms *MappingSet) Kinds() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	kinds := make([]string, 0, len(ms.mappings))
	for k := range ms.mappings {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// subset returns a new set containing only the named kinds. An unknown name
// is an error so configuration typos surface at factory build time.
func (ms *MappingSet) subset(kinds []string) (*MappingSet, error) {
	sub := NewMappingSet()
	for _, kind := range kinds {
		m, err := ms.Lookup(kind)
		if err != nil {
			return nil, fmt.Errorf("configured entity kind %q is not registered", kind)
		}
		if err := sub.Register(m); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// IDs collects the identities of a slice of entities, preserving order.
func IDs(entities []Entity) []any {
	ids := make([]any, len(entities))
	for i, e := range entities {
		ids[i] = e.EntityID()
	}
	return ids
}
