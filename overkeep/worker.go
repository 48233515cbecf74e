// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// WorkFunc is the caller-supplied mutation applied to each dequeued item. In
// session-backed mode it receives the worker's current session; in stateless
// mode sess is nil.
type WorkFunc func(ctx context.Context, sess *Session, item Entity) error

// Queue capacity used when the worker is configured as unbounded.
const unboundedQueueCapacity = 1 << 16

// Occupancy fraction above which a bounded queue is drained, and the fraction
// of capacity discarded per drain.
const (
	drainThreshold = 0.95
	drainFraction  = 0.25
)

// WorkerConfig tunes a Worker. The zero value gives a session-backed worker
// with an unbounded queue and the factory's batch size.
type WorkerConfig struct {
	// Capacity bounds the queue. Zero means unbounded; bounded queues drop
	// their oldest items when producers outpace the consumer.
	Capacity int

	// Stateless disables session and transaction management entirely; the
	// mutation function receives a nil session. Useful for non-persistence
	// work items.
	Stateless bool

	// BatchSize overrides the factory's commit cadence. Zero uses the factory
	// value, or DefaultBatchSize for stateless workers without a factory.
	BatchSize int

	Logger  *slog.Logger
	Metrics WorkerMetricsRecorder
}

// Worker drains a queue of entities on exactly one background goroutine,
// grouping consecutive items into one session/transaction scope with a
// commit cycle every batch-size items. Per-item failures are logged and the
// item dropped; the worker keeps running.
type Worker struct {
	name      string
	factory   *Factory
	work      WorkFunc
	capacity  int
	stateless bool
	batchSize int
	logger    *slog.Logger
	metrics   WorkerMetricsRecorder

	mu      sync.Mutex
	running bool
	queue   chan Entity
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker builds a worker bound to factory. Stateless workers may pass a
// nil factory.
func NewWorker(name string, factory *Factory, work WorkFunc, cfg *WorkerConfig) (*Worker, error) {
	if name == "" {
		return nil, invalidArgf("worker name cannot be empty")
	}
	if work == nil {
		return nil, invalidArgf("worker mutation function cannot be nil")
	}
	if cfg == nil {
		cfg = &WorkerConfig{}
	}
	if !cfg.Stateless && factory == nil {
		return nil, invalidArgf("session-backed worker requires a connection factory")
	}
	if cfg.Capacity < 0 {
		return nil, invalidArgf("worker queue capacity cannot be negative")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		if factory != nil {
			batchSize = factory.BatchSize()
		} else {
			batchSize = DefaultBatchSize
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		name:      name,
		factory:   factory,
		work:      work,
		capacity:  cfg.Capacity,
		stateless: cfg.Stateless,
		batchSize: batchSize,
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Running reports whether the consumer goroutine is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start spawns the single consumer goroutine. Idempotent if already running.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	capacity := w.capacity
	if capacity <= 0 {
		capacity = unboundedQueueCapacity
	}
	w.queue = make(chan Entity, capacity)
	w.runCtx, w.cancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})
	w.running = true

	go w.run(w.runCtx, w.queue, w.done)

	w.logger.Debug("Worker started", "worker", w.name)
}

// Stop signals the consumer to exit its loop after the current item. It does
// not forcibly interrupt in-flight work. Idempotent if already stopped.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	w.cancel()

	w.logger.Info("Worker has been stopped", "worker", w.name)
}

// Submit transfers ownership of item to the worker queue. It fails with
// ErrIllegalState when the worker is not running.
//
// When the queue is bounded and above 95% of capacity, the oldest ~25% of
// queued items are discarded first - a deliberate lossy backpressure policy
// trading durability for bounded memory. The data loss is logged and reported
// through the metrics recorder. After any draining, Submit blocks until space
// is available or the worker stops.
func (w *Worker) Submit(item Entity) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return illegalStatef("worker %q is not running", w.name)
	}
	queue, runCtx := w.queue, w.runCtx
	w.mu.Unlock()

	if w.capacity > 0 {
		if size := len(queue); float64(size) > float64(w.capacity)*drainThreshold {
			w.drain(runCtx, queue, size)
		}
	}

	select {
	case queue <- item:
		return nil
	case <-runCtx.Done():
		return illegalStatef("worker %q stopped while submit was blocked", w.name)
	}
}

// SubmitAll submits entities one by one, stopping at the first failure.
func (w *Worker) SubmitAll(items []Entity) error {
	for _, item := range items {
		if err := w.Submit(item); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) drain(ctx context.Context, queue chan Entity, size int) {
	target := int(float64(w.capacity) * drainFraction)

	w.logger.Error("Worker capacity problem detected, draining oldest items",
		"worker", w.name, "size", size, "capacity", w.capacity, "drain", target)

	drained := 0
	for i := 0; i < target; i++ {
		select {
		case <-queue:
			drained++
		default:
			i = target // queue emptied early
		}
	}
	w.observe(ctx, WorkerItemsDrained, drained, len(queue))
}

func (w *Worker) observe(ctx context.Context, kind WorkerEventKind, count, queueLen int) {
	if w.metrics == nil || count == 0 {
		return
	}
	w.metrics.ObserveWorker(ctx, WorkerEvent{
		Worker:   w.name,
		Kind:     kind,
		Count:    count,
		QueueLen: queueLen,
	})
}

// run is the single consumer loop. Items are processed strictly in FIFO
// enqueue order, except for items discarded by the drain policy.
func (w *Worker) run(ctx context.Context, queue chan Entity, done chan struct{}) {
	defer close(done)

	var sess *Session
	count := 0

	// Session teardown on exit and on queue drain uses a background context:
	// the run context is already canceled when the loop exits.
	closeSession := func() {
		if sess != nil {
			sess.close(context.Background())
			sess = nil
		}
		count = 0
	}
	commitAndClose := func() {
		if sess == nil {
			return
		}
		if err := sess.commit(context.Background()); err != nil {
			w.logger.Error("Cannot commit worker session", "worker", w.name, "error", err)
			w.observe(ctx, WorkerTxRolledBack, 1, len(queue))
		} else if count > 0 {
			w.observe(ctx, WorkerTxCommitted, 1, len(queue))
		}
		closeSession()
	}
	defer commitAndClose()

	for {
		// When the queue drains to empty, release the idle session instead of
		// holding a connection while blocked on take.
		if !w.stateless && sess != nil && len(queue) == 0 {
			commitAndClose()
			w.logger.Debug("All awaiting items have been worked out", "worker", w.name)
		}

		var item Entity
		select {
		case <-ctx.Done():
			return
		case item = <-queue:
		}

		if !w.stateless && sess == nil {
			sess = newSession(w.factory.pool, w.logger)
			if err := sess.begin(ctx); err != nil {
				w.logger.Error("Cannot open worker session", "worker", w.name, "error", err)
				closeSession()
				w.observe(ctx, WorkerItemDropped, 1, len(queue))
				continue
			}
		}

		err := w.work(ctx, sess, item)
		switch {
		case err == nil:
			count++
			w.observe(ctx, WorkerItemProcessed, 1, len(queue))
		case isPersistenceFailure(err):
			// Per-item failure isolation: roll back, drop the item, keep going.
			w.logger.Error("Persistence failure, dropping work item", "worker", w.name, "error", err)
			if !w.stateless {
				sess.rollback(ctx)
				closeSession()
				w.observe(ctx, WorkerTxRolledBack, 1, len(queue))
			}
			w.observe(ctx, WorkerItemDropped, 1, len(queue))
			continue
		default:
			w.logger.Error("Work item failed", "worker", w.name, "error", err)
			w.observe(ctx, WorkerItemDropped, 1, len(queue))
			continue
		}

		// Commit cycle every batchSize processed items bounds transaction
		// size without closing the session.
		if !w.stateless && sess != nil && count >= w.batchSize {
			if err := sess.commit(ctx); err != nil {
				w.logger.Error("Cannot commit work batch", "worker", w.name, "error", err)
				w.observe(ctx, WorkerTxRolledBack, 1, len(queue))
				closeSession()
				continue
			}
			w.observe(ctx, WorkerTxCommitted, 1, len(queue))
			count = 0
			if err := sess.begin(ctx); err != nil {
				w.logger.Error("Cannot begin next work transaction", "worker", w.name, "error", err)
				closeSession()
			}
		}
	}
}

// isPersistenceFailure classifies an error from the mutation function as a
// datastore failure requiring rollback, as opposed to arbitrary domain
// failures which leave the session alone.
func isPersistenceFailure(err error) bool {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
