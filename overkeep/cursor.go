// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
)

// Cursor is a lazy, forward-only, non-restartable sequence of entities. It
// owns a dedicated session for the duration of the iteration; closing the
// cursor closes that session. A cursor is bound to the context it was opened
// with and to the goroutine that opened it.
type Cursor struct {
	ctx     context.Context
	mapping *Mapping
	hooks   *HookRegistry
	sess    *Session
	rows    rowIterator
	cur     Entity
	err     error
	closed  bool
}

// rowIterator is the slice of pgx.Rows the cursor needs.
type rowIterator interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Cursor opens a read-optimized scan over all entities of the given kind.
// Every fetched entity passes through the AfterLoad hook before being
// surfaced by Next.
func (s *Store) Cursor(ctx context.Context, kind string) (*Cursor, error) {
	m, err := s.factory.mappings.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	sess := newSession(s.factory.pool, s.logger)
	rows, err := sess.Query(ctx, m.listSQL())
	if err != nil {
		sess.close(ctx)
		return nil, persistErr("cursor "+kind, err)
	}

	return &Cursor{
		ctx:     ctx,
		mapping: m,
		hooks:   s.factory.hooks,
		sess:    sess,
		rows:    rows,
	}, nil
}

// Next advances to the next entity. It returns false when the sequence is
// exhausted or a failure occurred; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = persistErr("cursor", err)
		}
		return false
	}

	e := c.mapping.New()
	if err := c.rows.Scan(c.mapping.Dest(e)...); err != nil {
		c.err = persistErr("cursor", err)
		return false
	}
	if err := c.hooks.dispatch(c.ctx, e, AfterLoad); err != nil {
		c.err = err
		return false
	}
	c.cur = e
	return true
}

// Entity returns the entity the cursor currently points at.
func (c *Cursor) Entity() Entity { return c.cur }

// Err returns the failure that terminated iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor and its underlying session. Idempotent.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.rows.Close()
	c.sess.close(c.ctx)
}
