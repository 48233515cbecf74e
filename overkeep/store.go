// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
)

// commitKind selects one of the four creation/merge variants, which differ in
// identity precondition and merge-vs-replace semantics.
type commitKind int

const (
	commitCreate commitKind = iota
	commitUpdate
	commitReplace
	commitCreateOrUpdate
)

func (k commitKind) String() string {
	switch k {
	case commitCreate:
		return "create"
	case commitUpdate:
		return "update"
	case commitReplace:
		return "replace"
	case commitCreateOrUpdate:
		return "create_or_update"
	}
	return "unknown"
}

// Store is the CRUD/batch engine bound to one connection factory. A store
// instance must be owned by a single goroutine; its primary and read-only
// sessions are never shared. It is very important to close the store when it
// is no longer needed.
type Store struct {
	factory *Factory
	logger  *slog.Logger

	primary  *Session
	readonly *Session

	// tracked holds entities fetched through this store, so Evict can detach
	// them. Deliberately left alone by anything but Evict, Delete and Close.
	tracked map[Entity]struct{}

	closed atomic.Bool
}

func (s *Store) checkClosed() error {
	if s.closed.Load() {
		return illegalStatef("store has already been closed")
	}
	return nil
}

// session returns the store's primary session, creating it on first use.
func (s *Store) session() (*Session, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if s.primary == nil {
		s.primary = newSession(s.factory.pool, s.logger)
	}
	return s.primary, nil
}

// Stateless returns the store's secondary read-only session, intended for
// read-optimized custom queries that must not interact with the primary
// session's transaction.
func (s *Store) Stateless() (*Session, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if s.readonly == nil {
		s.readonly = newSession(s.factory.pool, s.logger)
	}
	return s.readonly, nil
}

func (s *Store) mappingFor(e Entity) (*Mapping, error) {
	if e == nil {
		return nil, invalidArgf("entity cannot be nil")
	}
	return s.factory.mappings.Lookup(e.EntityKind())
}

func (s *Store) track(e Entity) {
	s.tracked[e] = struct{}{}
}

// Close disposes the store, releasing its primary and read-only sessions.
// Idempotent. The connection factory and its pool are process-wide and are
// deliberately left untouched.
func (s *Store) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.logger.Debug("Closing persistence store")

	ctx := context.Background()
	if s.primary != nil && s.primary.open() {
		s.primary.close(ctx)
	}
	if s.readonly != nil && s.readonly.open() {
		s.readonly.close(ctx)
	}
	s.tracked = nil
}

// Get fetches the entity of the given kind and identity. Returns (nil, nil)
// when no such row exists.
func (s *Store) Get(ctx context.Context, kind string, id any) (Entity, error) {
	m, err := s.factory.mappings.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, invalidArgf("entity ID cannot be nil")
	}
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	e := m.New()
	err = sess.QueryRow(ctx, m.selectSQL(), id).Scan(m.Dest(e)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get "+kind, err)
	}

	if err := s.factory.hooks.dispatch(ctx, e, AfterLoad); err != nil {
		return nil, err
	}
	s.track(e)
	return e, nil
}

// Load fetches the entity of the given kind and identity, failing with
// ErrNotFound when it does not exist.
func (s *Store) Load(ctx context.Context, kind string, id any) (Entity, error) {
	e, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s with id %v", ErrNotFound, kind, id)
	}
	return e, nil
}

// Refresh re-reads the entity's persisted columns from the database into the
// given value.
func (s *Store) Refresh(ctx context.Context, e Entity) error {
	m, err := s.mappingFor(e)
	if err != nil {
		return err
	}
	if e.EntityID() == nil {
		return illegalStatef("only persistent entities can be refreshed")
	}
	sess, err := s.session()
	if err != nil {
		return err
	}

	err = sess.QueryRow(ctx, m.selectSQL(), e.EntityID()).Scan(m.Dest(e)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s with id %v", ErrNotFound, e.EntityKind(), e.EntityID())
	}
	if err != nil {
		return persistErr("refresh "+e.EntityKind(), err)
	}
	return s.factory.hooks.dispatch(ctx, e, AfterLoad)
}

// Exists reports whether an entity of the given kind and identity is present.
func (s *Store) Exists(ctx context.Context, kind string, id any) (bool, error) {
	m, err := s.factory.mappings.Lookup(kind)
	if err != nil {
		return false, err
	}
	if id == nil {
		return false, invalidArgf("entity ID cannot be nil")
	}
	sess, err := s.session()
	if err != nil {
		return false, err
	}

	var one int
	err = sess.QueryRow(ctx, m.existsSQL(), id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("exists "+kind, err)
	}
	return true, nil
}

// Count returns the number of persisted entities of the given kind.
func (s *Store) Count(ctx context.Context, kind string) (int64, error) {
	m, err := s.factory.mappings.Lookup(kind)
	if err != nil {
		return 0, err
	}
	sess, err := s.session()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := sess.QueryRow(ctx, m.countSQL()).Scan(&n); err != nil {
		return 0, persistErr("count "+kind, err)
	}
	return n, nil
}

// List returns all persisted entities of the given kind. Be careful with
// large tables; prefer ListPage or Cursor when millions of rows are possible.
func (s *Store) List(ctx context.Context, kind string) ([]Entity, error) {
	m, err := s.factory.mappings.Lookup(kind)
	if err != nil {
		return nil, err
	}
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	rows, err := sess.Query(ctx, m.listSQL())
	if err != nil {
		return nil, persistErr("list "+kind, err)
	}
	return s.collect(ctx, m, rows, "list "+kind)
}

// ListPage returns one page of entities, ordered by identity. pageNum counts
// from zero; pageSize must be positive.
func (s *Store) ListPage(ctx context.Context, kind string, pageNum, pageSize int) ([]Entity, error) {
	m, err := s.factory.mappings.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if pageNum < 0 {
		return nil, invalidArgf("page number cannot be negative")
	}
	if pageSize <= 0 {
		return nil, invalidArgf("page size must be positive")
	}
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	rows, err := sess.Query(ctx, m.pageSQL(), pageSize, pageNum*pageSize)
	if err != nil {
		return nil, persistErr("list "+kind, err)
	}
	return s.collect(ctx, m, rows, "list "+kind)
}

func (s *Store) collect(ctx context.Context, m *Mapping, rows pgx.Rows, op string) ([]Entity, error) {
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e := m.New()
		if err := rows.Scan(m.Dest(e)...); err != nil {
			return nil, persistErr(op, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	for _, e := range entities {
		if err := s.factory.hooks.dispatch(ctx, e, AfterLoad); err != nil {
			return nil, err
		}
		s.track(e)
	}
	return entities, nil
}

// Create persists a transient entity. The entity must not have an identity
// yet; the assigned identity is set on it before returning.
func (s *Store) Create(ctx context.Context, e Entity) (Entity, error) {
	return s.storeOne(ctx, e, commitCreate)
}

// Update writes the state of a persistent entity back to the database. The
// entity must have an identity and must exist.
func (s *Store) Update(ctx context.Context, e Entity) (Entity, error) {
	return s.storeOne(ctx, e, commitUpdate)
}

// Replace writes the full row for a persistent entity, inserting it when the
// identity is not present yet.
func (s *Store) Replace(ctx context.Context, e Entity) (Entity, error) {
	return s.storeOne(ctx, e, commitReplace)
}

// CreateOrUpdate persists the entity regardless of its identity state:
// transient entities follow the create path, persistent ones are upserted.
func (s *Store) CreateOrUpdate(ctx context.Context, e Entity) (Entity, error) {
	return s.storeOne(ctx, e, commitCreateOrUpdate)
}

func (s *Store) storeOne(ctx context.Context, e Entity, kind commitKind) (Entity, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
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

	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := sess.begin(ctx); err != nil {
		return nil, err
	}

	if err := s.writeOne(ctx, sess, m, e, kind); err != nil {
		sess.rollback(ctx)
		return nil, persistErr(kind.String()+" "+e.EntityKind(), err)
	}
	if err := sess.commit(ctx); err != nil {
		sess.rollback(ctx)
		return nil, err
	}

	if err := s.factory.hooks.dispatch(ctx, e, after); err != nil {
		return nil, err
	}
	s.track(e)
	return e, nil
}

// writeOne issues the INSERT/UPDATE/UPSERT for a single entity on an open
// transaction. Callers own commit and rollback.
func (s *Store) writeOne(ctx context.Context, sess *Session, m *Mapping, e Entity, kind commitKind) error {
	switch kind {
	case commitCreate:
		return s.insert(ctx, sess, m, e)
	case commitUpdate:
		tag, err := sess.Exec(ctx, m.updateSQL(), append(m.Values(e), e.EntityID())...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s with id %v", ErrNotFound, e.EntityKind(), e.EntityID())
		}
		return nil
	case commitReplace:
		_, err := sess.Exec(ctx, m.upsertSQL(), append([]any{e.EntityID()}, m.Values(e)...)...)
		return err
	case commitCreateOrUpdate:
		if e.EntityID() == nil {
			return s.insert(ctx, sess, m, e)
		}
		_, err := sess.Exec(ctx, m.upsertSQL(), append([]any{e.EntityID()}, m.Values(e)...)...)
		return err
	}
	return fmt.Errorf("unsupported commit kind %d", kind)
}

func (s *Store) insert(ctx context.Context, sess *Session, m *Mapping, e Entity) error {
	if m.NextID != nil {
		e.SetEntityID(m.NextID())
		_, err := sess.Exec(ctx, m.insertSQL(true), append([]any{e.EntityID()}, m.Values(e)...)...)
		return err
	}
	// Database assigns the identity; read it back into the entity.
	return sess.QueryRow(ctx, m.insertSQL(false), m.Values(e)...).Scan(m.Dest(e)[0])
}

func checkIdentityPrecondition(e Entity, kind commitKind) error {
	switch kind {
	case commitCreate:
		if e.EntityID() != nil {
			return illegalStatef("transient entity to be created must not have an ID set")
		}
	case commitUpdate, commitReplace:
		if e.EntityID() == nil {
			return illegalStatef("persistent entity to be updated must have an ID set")
		}
	}
	return nil
}

func hookPhases(e Entity, kind commitKind) (before, after HookPhase) {
	switch kind {
	case commitCreate:
		return BeforeCreate, AfterCreate
	case commitCreateOrUpdate:
		if e.EntityID() == nil {
			return BeforeCreate, AfterCreate
		}
		return BeforeUpdate, AfterUpdate
	default:
		return BeforeUpdate, AfterUpdate
	}
}

// Delete removes a persistent entity in its own transaction. On success the
// entity's identity is cleared and the entity is detached, so callers can
// recognize the deleted state without re-querying.
func (s *Store) Delete(ctx context.Context, e Entity) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	m, err := s.mappingFor(e)
	if err != nil {
		return err
	}
	if e.EntityID() == nil {
		return illegalStatef("only persistent entities can be deleted")
	}

	if err := s.factory.hooks.dispatch(ctx, e, BeforeRemove); err != nil {
		return err
	}

	sess, err := s.session()
	if err != nil {
		return err
	}
	if err := sess.begin(ctx); err != nil {
		return err
	}
	if _, err := sess.Exec(ctx, m.deleteSQL(), e.EntityID()); err != nil {
		sess.rollback(ctx)
		return persistErr("delete "+e.EntityKind(), err)
	}
	if err := sess.commit(ctx); err != nil {
		sess.rollback(ctx)
		return err
	}

	if err := s.factory.hooks.dispatch(ctx, e, AfterRemove); err != nil {
		return err
	}

	e.SetEntityID(nil)
	s.Evict(e)
	return nil
}

// DeleteAll removes the given entities in one transaction, then clears every
// identity and detaches the entities.
func (s *Store) DeleteAll(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	if err := s.checkClosed(); err != nil {
		return err
	}

	mappings := make([]*Mapping, len(entities))
	for i, e := range entities {
		m, err := s.mappingFor(e)
		if err != nil {
			return err
		}
		if e.EntityID() == nil {
			return illegalStatef("only persistent entities can be deleted")
		}
		mappings[i] = m
	}
	for _, e := range entities {
		if err := s.factory.hooks.dispatch(ctx, e, BeforeRemove); err != nil {
			return err
		}
	}

	sess, err := s.session()
	if err != nil {
		return err
	}
	if err := sess.begin(ctx); err != nil {
		return err
	}

	b := &pgx.Batch{}
	for i, e := range entities {
		b.Queue(mappings[i].deleteSQL(), e.EntityID())
	}
	if err := sess.sendBatch(ctx, b); err != nil {
		sess.rollback(ctx)
		return persistErr("delete batch", err)
	}
	if err := sess.commit(ctx); err != nil {
		sess.rollback(ctx)
		return err
	}

	for _, e := range entities {
		if err := s.factory.hooks.dispatch(ctx, e, AfterRemove); err != nil {
			return err
		}
	}
	for _, e := range entities {
		e.SetEntityID(nil)
		s.Evict(e)
	}
	return nil
}

// DeleteByID issues a bulk delete-by-identifier for the given kind and
// reports whether any row was affected. No lifecycle hooks run because no
// entity value is involved.
func (s *Store) DeleteByID(ctx context.Context, kind string, id any) (bool, error) {
	m, err := s.factory.mappings.Lookup(kind)
	if err != nil {
		return false, err
	}
	if id == nil {
		return false, invalidArgf("entity ID cannot be nil")
	}

	sess, err := s.session()
	if err != nil {
		return false, err
	}
	if err := sess.begin(ctx); err != nil {
		return false, err
	}
	tag, err := sess.Exec(ctx, m.deleteSQL(), id)
	if err != nil {
		sess.rollback(ctx)
		return false, persistErr("delete "+kind, err)
	}
	if err := sess.commit(ctx); err != nil {
		sess.rollback(ctx)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Evict detaches an entity from the store's tracking without deleting it.
// Evicting an untracked entity is a no-op.
func (s *Store) Evict(e Entity) {
	if s.closed.Load() || e == nil {
		return
	}
	delete(s.tracked, e)
}

// Hydrate takes a partially populated entity carrying an identity, loads the
// managed instance from the database, and merges the non-zero fields of the
// partial value into it via the type's declared MergeInto. The managed entity
// is returned.
func (s *Store) Hydrate(ctx context.Context, dry Entity) (Entity, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if _, err := s.mappingFor(dry); err != nil {
		return nil, err
	}
	if dry.EntityID() == nil {
		return nil, illegalStatef("only persistent entities can be hydrated")
	}
	merger, ok := dry.(Merger)
	if !ok {
		return nil, invalidArgf("entity kind %q does not declare a field merge", dry.EntityKind())
	}

	managed, err := s.Load(ctx, dry.EntityKind(), dry.EntityID())
	if err != nil {
		return nil, err
	}
	merger.MergeInto(managed)
	return managed, nil
}
