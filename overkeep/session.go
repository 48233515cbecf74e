// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session is a short-lived unit of work bound to one pooled connection, owned
// exclusively by the code path that opened it (a single Store instance or the
// Worker's run loop). Sessions are never shared across goroutines.
type Session struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	conn   *pgxpool.Conn
	tx     pgx.Tx
}

func newSession(pool *pgxpool.Pool, logger *slog.Logger) *Session {
	return &Session{pool: pool, logger: logger}
}

// acquire lazily binds the session to a pooled connection.
func (s *Session) acquire(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return persistErr("acquire connection", err)
	}
	s.conn = conn
	return nil
}

// begin opens a transaction on the session's connection.
func (s *Session) begin(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	if s.tx != nil {
		return illegalStatef("session already has an active transaction")
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return persistErr("begin transaction", err)
	}
	s.tx = tx
	return nil
}

func (s *Session) commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit(ctx)
	s.tx = nil
	if err != nil {
		return persistErr("commit transaction", err)
	}
	return nil
}

// rollback aborts the active transaction. Rollback failures are logged and
// swallowed so they never mask the failure that triggered the rollback.
func (s *Session) rollback(ctx context.Context) {
	if s.tx == nil {
		return
	}
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Error("Cannot rollback", "error", err)
	}
	s.tx = nil
}

// InTx reports whether the session has an active transaction.
func (s *Session) InTx() bool { return s.tx != nil }

// Exec runs a statement through the active transaction when one is open,
// otherwise directly on the session's connection.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := s.acquire(ctx); err != nil {
		return pgconn.CommandTag{}, err
	}
	if s.tx != nil {
		return s.tx.Exec(ctx, sql, args...)
	}
	return s.conn.Exec(ctx, sql, args...)
}

// Query runs a query through the active transaction when one is open.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	if s.tx != nil {
		return s.tx.Query(ctx, sql, args...)
	}
	return s.conn.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query through the active transaction when one
// is open.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := s.acquire(ctx); err != nil {
		return errRow{err}
	}
	if s.tx != nil {
		return s.tx.QueryRow(ctx, sql, args...)
	}
	return s.conn.QueryRow(ctx, sql, args...)
}

// sendBatch flushes queued statements through the active transaction.
func (s *Session) sendBatch(ctx context.Context, b *pgx.Batch) error {
	if s.tx == nil {
		return illegalStatef("batch flush requires an active transaction")
	}
	return s.tx.SendBatch(ctx, b).Close()
}

// close rolls back any active transaction and releases the connection back
// to the pool. Safe to call on a never-acquired session.
func (s *Session) close(ctx context.Context) {
	s.rollback(ctx)
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
}

func (s *Session) open() bool { return s.conn != nil }

// errRow lets QueryRow surface acquisition failures at Scan time, matching
// the pgx.Row contract.
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
