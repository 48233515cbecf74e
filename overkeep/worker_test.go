// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []WorkerEvent
}

func (c *captureRecorder) ObserveWorker(_ context.Context, event WorkerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureRecorder) total(kind WorkerEventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Kind == kind {
			n += ev.Count
		}
	}
	return n
}

func noteItem(i int) *note {
	return &note{Body: strconv.Itoa(i)}
}

func collectNotes(t *testing.T, ch <-chan Entity, n int) []string {
	t.Helper()
	bodies := make([]string, 0, n)
	for len(bodies) < n {
		select {
		case e := <-ch:
			bodies = append(bodies, e.(*note).Body)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for items, got %d of %d", len(bodies), n)
		}
	}
	return bodies
}

func TestWorker_NewWorkerValidation(t *testing.T) {
	work := func(ctx context.Context, sess *Session, item Entity) error { return nil }

	_, err := NewWorker("", nil, work, &WorkerConfig{Stateless: true})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewWorker("w", nil, nil, &WorkerConfig{Stateless: true})
	require.ErrorIs(t, err, ErrInvalidArgument)

	// Session-backed mode requires a factory.
	_, err = NewWorker("w", nil, work, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewWorker("w", nil, work, &WorkerConfig{Stateless: true, Capacity: -1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWorker_LifecycleIdempotence(t *testing.T) {
	w, err := NewWorker("lifecycle", nil,
		func(ctx context.Context, sess *Session, item Entity) error { return nil },
		&WorkerConfig{Stateless: true})
	require.NoError(t, err)

	require.ErrorIs(t, w.Submit(noteItem(0)), ErrIllegalState)
	assert.False(t, w.Running())

	w.Start()
	w.Start()
	assert.True(t, w.Running())

	w.Stop()
	w.Stop()
	assert.False(t, w.Running())

	require.ErrorIs(t, w.Submit(noteItem(0)), ErrIllegalState)
}

func TestWorker_ItemsDeliveredInFIFOOrder(t *testing.T) {
	processed := make(chan Entity, 64)
	w, err := NewWorker("fifo", nil,
		func(ctx context.Context, sess *Session, item Entity) error {
			processed <- item
			return nil
		},
		&WorkerConfig{Stateless: true})
	require.NoError(t, err)

	w.Start()
	defer w.Stop()

	items := make([]Entity, 10)
	for i := range items {
		items[i] = noteItem(i)
	}
	require.NoError(t, w.SubmitAll(items))

	bodies := collectNotes(t, processed, 10)
	for i, body := range bodies {
		assert.Equal(t, strconv.Itoa(i), body)
	}
}

func TestWorker_PerItemFailureIsolation(t *testing.T) {
	rec := &captureRecorder{}
	processed := make(chan Entity, 16)
	w, err := NewWorker("isolation", nil,
		func(ctx context.Context, sess *Session, item Entity) error {
			if item.(*note).Body == "1" {
				return errors.New("domain failure")
			}
			processed <- item
			return nil
		},
		&WorkerConfig{Stateless: true, Metrics: rec})
	require.NoError(t, err)

	w.Start()
	defer w.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Submit(noteItem(i)))
	}

	bodies := collectNotes(t, processed, 2)
	assert.Equal(t, []string{"0", "2"}, bodies)
	assert.Eventually(t, func() bool { return rec.total(WorkerItemDropped) == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, w.Running())
}

func TestWorker_DrainPolicyDiscardsOldestItems(t *testing.T) {
	const capacity = 100

	rec := &captureRecorder{}
	begun := make(chan struct{}, 1)
	release := make(chan struct{})
	processed := make(chan Entity, 2*capacity)

	w, err := NewWorker("drain", nil,
		func(ctx context.Context, sess *Session, item Entity) error {
			select {
			case begun <- struct{}{}:
			default:
			}
			<-release
			processed <- item
			return nil
		},
		&WorkerConfig{Stateless: true, Capacity: capacity, Metrics: rec})
	require.NoError(t, err)

	w.Start()
	defer w.Stop()

	// Item 0 is taken by the consumer, which then blocks inside the mutation
	// function, leaving the queue entirely to the submitters.
	require.NoError(t, w.Submit(noteItem(0)))
	select {
	case <-begun:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer never picked up the first item")
	}

	// Fill the queue past 95% of capacity: items 1..96.
	for i := 1; i <= 96; i++ {
		require.NoError(t, w.Submit(noteItem(i)))
	}

	// The next submit triggers a drain of the 25 oldest items (1..25) before
	// item 97 is accepted.
	require.NoError(t, w.Submit(noteItem(97)))
	assert.Equal(t, 25, rec.total(WorkerItemsDrained))

	close(release)

	// Survivors arrive in their original relative order.
	bodies := collectNotes(t, processed, 73)
	assert.Equal(t, "0", bodies[0])
	assert.Equal(t, "26", bodies[1])
	assert.Equal(t, "97", bodies[len(bodies)-1])
	for i := 1; i < len(bodies)-1; i++ {
		assert.Equal(t, strconv.Itoa(i+25), bodies[i])
	}
}

func TestWorker_StopReleasesBlockedSubmit(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	w, err := NewWorker("blocked", nil,
		func(ctx context.Context, sess *Session, item Entity) error {
			<-release
			return nil
		},
		&WorkerConfig{Stateless: true, Capacity: 1})
	require.NoError(t, err)

	w.Start()

	// First item occupies the consumer, second fills the queue.
	require.NoError(t, w.Submit(noteItem(0)))
	require.NoError(t, w.Submit(noteItem(1)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Submit(noteItem(2))
	}()

	time.Sleep(50 * time.Millisecond)
	w.Stop()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrIllegalState)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked submit was not released by stop")
	}
}

func TestIsPersistenceFailure(t *testing.T) {
	assert.True(t, isPersistenceFailure(persistErr("create", errors.New("boom"))))
	assert.True(t, isPersistenceFailure(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isPersistenceFailure(errors.Join(errors.New("wrapped"), &pgconn.PgError{Code: "40001"})))
	assert.False(t, isPersistenceFailure(errors.New("domain problem")))
	assert.False(t, isPersistenceFailure(nil))
}
