// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"github.com/google/uuid"
)

// author is the bigserial-keyed test entity: the database assigns its
// identity via RETURNING.
type author struct {
	ID    *int64
	Name  string
	Email string
}

func (a *author) EntityKind() string { return "author" }

func (a *author) EntityID() any {
	if a.ID == nil {
		return nil
	}
	return *a.ID
}

func (a *author) SetEntityID(id any) {
	if id == nil {
		a.ID = nil
		return
	}
	v := id.(int64)
	a.ID = &v
}

func (a *author) MergeInto(managed Entity) {
	m := managed.(*author)
	if a.Name != "" {
		m.Name = a.Name
	}
	if a.Email != "" {
		m.Email = a.Email
	}
}

func authorMapping() *Mapping {
	return &Mapping{
		Kind:     "author",
		Table:    "keep_authors",
		IDColumn: "id",
		Columns:  []string{"name", "email"},
		New:      func() Entity { return &author{} },
		Values: func(e Entity) []any {
			a := e.(*author)
			return []any{a.Name, a.Email}
		},
		Dest: func(e Entity) []any {
			a := e.(*author)
			return []any{&a.ID, &a.Name, &a.Email}
		},
	}
}

// note is the uuid-keyed test entity: identities are generated client side.
type note struct {
	ID   *string
	Body string
}

func (n *note) EntityKind() string { return "note" }

func (n *note) EntityID() any {
	if n.ID == nil {
		return nil
	}
	return *n.ID
}

func (n *note) SetEntityID(id any) {
	if id == nil {
		n.ID = nil
		return
	}
	v := id.(string)
	n.ID = &v
}

func noteMapping() *Mapping {
	return &Mapping{
		Kind:     "note",
		Table:    "keep_notes",
		IDColumn: "id",
		Columns:  []string{"body"},
		New:      func() Entity { return &note{} },
		Values: func(e Entity) []any {
			n := e.(*note)
			return []any{n.Body}
		},
		Dest: func(e Entity) []any {
			n := e.(*note)
			return []any{&n.ID, &n.Body}
		},
		NextID: func() any { return uuid.New().String() },
	}
}
