// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A batch job has no scrape endpoint, so collected series
// live in a private registry and are pushed once at the end of a run.
//
// The Pushgateway grouping key carries the job; the remaining labels (table,
// step, status, kind) become Prometheus labels.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"dwhsync/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	steps    *prometheus.CounterVec // table, step, status
	duration *prometheus.SummaryVec // table, step, status
	rows     *prometheus.CounterVec // table, kind
	tables   *prometheus.CounterVec // status
	batches  *prometheus.CounterVec // table
}

// NewBackend constructs a Pushgateway backend. jobName defaults to
// "dwhsync".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "dwhsync"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Step executions per table, partitioned by step and status.",
		}, []string{"table", "step", "status"}),
		duration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Duration of steps in seconds, partitioned by table, step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"table", "step", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Row counts per table and kind (staged, updated, inserted, duplicates, ...).",
		}, []string{"table", "kind"}),
		tables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.TablesTotal,
			Help: "Finished tables by status (ok, skipped, failed).",
		}, []string{"status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Bulk-copy batches flushed into staging tables.",
		}, []string{"table"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter": b.steps, "step summary": b.duration, "row counter": b.rows,
		"table counter": b.tables, "batch counter": b.batches,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// IncCounter routes name to its collector; unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(l["table"], l["step"], l["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(l["table"], l["kind"]).Add(delta)
	case metrics.TablesTotal:
		b.tables.WithLabelValues(l["status"]).Add(delta)
	case metrics.BatchesTotal:
		b.batches.WithLabelValues(l["table"]).Add(delta)
	}
}

// ObserveHistogram records step durations; other names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, l metrics.Labels) {
	if name != metrics.StepDuration {
		return
	}
	b.duration.WithLabelValues(l["table"], l["step"], l["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway, replacing the job's group.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push()
}
