// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusWorkerMetrics exports worker events as prometheus counters plus a
// queue depth gauge. Register one instance per process and share it between
// workers; series are split by worker name.
type PrometheusWorkerMetrics struct {
	events     *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewPrometheusWorkerMetrics creates and registers the worker metric vectors
// on the given registerer.
func NewPrometheusWorkerMetrics(reg prometheus.Registerer) (*PrometheusWorkerMetrics, error) {
	m := &PrometheusWorkerMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overkeep_worker_events_total",
			Help: "Worker events by kind (processed, dropped, drained, committed, rolled_back).",
		}, []string{"worker", "kind"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "overkeep_worker_queue_depth",
			Help: "Number of items currently queued for the worker.",
		}, []string{"worker"}),
	}

	if err := reg.Register(m.events); err != nil {
		return nil, err
	}
	if err := reg.Register(m.queueDepth); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PrometheusWorkerMetrics) ObserveWorker(_ context.Context, event WorkerEvent) {
	count := event.Count
	if count <= 0 {
		count = 1
	}
	m.events.WithLabelValues(event.Worker, string(event.Kind)).Add(float64(count))
	m.queueDepth.WithLabelValues(event.Worker).Set(float64(event.QueueLen))
}
