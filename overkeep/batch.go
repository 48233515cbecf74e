// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Batch variants behave per item exactly like their single-entity
// counterparts for precondition, validation and hook dispatch - all of which
// run up front, before any write begins - but differ in session strategy.
// Below the configured batch threshold all items share the store's primary
// session and one transaction. At or above it, a dedicated fresh session is
// opened and every batchSize-th queued item triggers an intra-transaction
// flush, bounding session memory; the whole batch still commits or rolls back
// atomically at the end, and the dedicated session is closed regardless of
// outcome.

// CreateAll persists a collection of transient entities.
func (s *Store) CreateAll(ctx context.Context, entities []Entity) ([]Entity, error) {
	return s.storeAll(ctx, entities, commitCreate)
}

// UpdateAll writes a collection of persistent entities back to the database.
func (s *Store) UpdateAll(ctx context.Context, entities []Entity) ([]Entity, error) {
	return s.storeAll(ctx, entities, commitUpdate)
}

// ReplaceAll writes full rows for a collection of entities, inserting the
// ones whose identity is not present yet.
func (s *Store) ReplaceAll(ctx context.Context, entities []Entity) ([]Entity, error) {
	return s.storeAll(ctx, entities, commitReplace)
}

// CreateOrUpdateAll persists a mixed collection: transient entities follow
// the create path, persistent ones are upserted.
func (s *Store) CreateOrUpdateAll(ctx context.Context, entities []Entity) ([]Entity, error) {
	return s.storeAll(ctx, entities, commitCreateOrUpdate)
}

func (s *Store) storeAll(ctx context.Context, entities []Entity, kind commitKind) ([]Entity, error) {
	if len(entities) == 0 {
		return entities, nil
	}
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	// Per-item precondition, validation and "before" hooks all run before any
	// write touches a session.
	mappings := make([]*Mapping, len(entities))
	afters := make([]HookPhase, len(entities))
	for i, e := range entities {
		m, err := s.mappingFor(e)
		if err != nil {
			return nil, err
		}
		if err := checkIdentityPrecondition(e, kind); err != nil {
			return nil, err
		}
		if err := s.factory.gate.Validate(e); err != nil {
			return nil, err
		}
		before, after := hookPhases(e, kind)
		if err := s.factory.hooks.dispatch(ctx, e, before); err != nil {
			return nil, err
		}
		mappings[i] = m
		afters[i] = after
	}

	batchSize := s.factory.BatchSize()
	dedicated := len(entities) >= batchSize

	var sess *Session
	if dedicated {
		sess = newSession(s.factory.pool, s.logger)
		defer sess.close(ctx)
	} else {
		var err error
		if sess, err = s.session(); err != nil {
			return nil, err
		}
	}

	if err := sess.begin(ctx); err != nil {
		return nil, err
	}

	op := kind.String() + " batch"
	b := &pgx.Batch{}
	for i, e := range entities {
		s.queueWrite(b, mappings[i], e, kind)

		// Intra-transaction flush bounds the amount of queued work without
		// ending the transaction.
		if dedicated && (i+1)%batchSize == 0 {
			if err := sess.sendBatch(ctx, b); err != nil {
				sess.rollback(ctx)
				return nil, persistErr(op, err)
			}
			b = &pgx.Batch{}
		}
	}
	if b.Len() > 0 {
		if err := sess.sendBatch(ctx, b); err != nil {
			sess.rollback(ctx)
			return nil, persistErr(op, err)
		}
	}
	if err := sess.commit(ctx); err != nil {
		sess.rollback(ctx)
		return nil, err
	}

	for i, e := range entities {
		if err := s.factory.hooks.dispatch(ctx, e, afters[i]); err != nil {
			return nil, err
		}
		s.track(e)
	}
	return entities, nil
}

func (s *Store) queueWrite(b *pgx.Batch, m *Mapping, e Entity, kind commitKind) {
	switch kind {
	case commitCreate:
		s.queueInsert(b, m, e)
	case commitUpdate:
		kindName, id := e.EntityKind(), e.EntityID()
		b.Queue(m.updateSQL(), append(m.Values(e), id)...).Exec(func(tag pgconn.CommandTag) error {
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s with id %v", ErrNotFound, kindName, id)
			}
			return nil
		})
	case commitReplace:
		b.Queue(m.upsertSQL(), append([]any{e.EntityID()}, m.Values(e)...)...)
	case commitCreateOrUpdate:
		if e.EntityID() == nil {
			s.queueInsert(b, m, e)
		} else {
			b.Queue(m.upsertSQL(), append([]any{e.EntityID()}, m.Values(e)...)...)
		}
	}
}

func (s *Store) queueInsert(b *pgx.Batch, m *Mapping, e Entity) {
	if m.NextID != nil {
		e.SetEntityID(m.NextID())
		b.Queue(m.insertSQL(true), append([]any{e.EntityID()}, m.Values(e)...)...)
		return
	}
	b.Queue(m.insertSQL(false), m.Values(e)...).QueryRow(func(row pgx.Row) error {
		return row.Scan(m.Dest(e)[0])
	})
}
