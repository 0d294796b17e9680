// Package metrics records operational metrics for the sync job behind a
// small backend interface. The default backend is a no-op, so callers may
// record unconditionally; cmd/dwhsync installs Pushgateway or DogStatsD.
//
// Metric names:
//
//	dwhsync_step_total{job,table,step,status}           counter
//	dwhsync_step_duration_seconds{job,table,step,status} histogram/summary
//	dwhsync_rows_total{job,table,kind}                  counter
//	dwhsync_tables_total{job,status}                    counter
//	dwhsync_batches_total{job,table}                    counter
package metrics

import (
	"sync"
	"time"
)

// Metric names shared with the backends.
const (
	StepTotal    = "dwhsync_step_total"
	StepDuration = "dwhsync_step_duration_seconds"
	RowsTotal    = "dwhsync_rows_total"
	TablesTotal  = "dwhsync_tables_total"
	BatchesTotal = "dwhsync_batches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of step for table and observes its
// duration. Steps are "extract", "stage", "read", "clean", "create", "merge".
func RecordStep(job, table, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "table": table, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows adds delta to a row counter. Kinds mirror reconcile.Result:
// "staged", "updated", "inserted", "duplicates", "coercion_failures",
// "missing_normalized", "loaded".
func RecordRows(job, table, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "table": table, "kind": kind})
}

// RecordTable counts a finished table by status ("ok", "skipped", "failed").
func RecordTable(job, status string) {
	current().IncCounter(TablesTotal, 1, Labels{"job": job, "status": status})
}

// RecordBatches counts bulk-copy batches flushed into table.
func RecordBatches(job, table string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job, "table": table})
}
