// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
)

// WorkerEventKind labels an observable event in a worker's life.
type WorkerEventKind string

const (
	// WorkerItemProcessed counts items the mutation function handled.
	WorkerItemProcessed WorkerEventKind = "processed"
	// WorkerItemDropped counts items lost to per-item failures.
	WorkerItemDropped WorkerEventKind = "dropped"
	// WorkerItemsDrained counts items discarded by the near-capacity drain.
	// This is deliberate data loss and worth alerting on.
	WorkerItemsDrained WorkerEventKind = "drained"
	// WorkerTxCommitted counts batch transaction commits.
	WorkerTxCommitted WorkerEventKind = "committed"
	// WorkerTxRolledBack counts batch transaction rollbacks.
	WorkerTxRolledBack WorkerEventKind = "rolled_back"
)

// WorkerEvent is one observation emitted by a worker.
type WorkerEvent struct {
	Worker   string
	Kind     WorkerEventKind
	Count    int
	QueueLen int
}

// WorkerMetricsRecorder receives worker observations. Implementations must be
// safe for concurrent use; the worker calls from both producer and consumer
// goroutines.
type WorkerMetricsRecorder interface {
	ObserveWorker(ctx context.Context, event WorkerEvent)
}

// WorkerMetricsRecorderFunc adapts a function to WorkerMetricsRecorder.
type WorkerMetricsRecorderFunc func(ctx context.Context, event WorkerEvent)

func (f WorkerMetricsRecorderFunc) ObserveWorker(ctx context.Context, event WorkerEvent) {
	f(ctx, event)
}
