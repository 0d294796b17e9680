// Package stage replaces the contents of staging tables with freshly
// extracted snapshots: truncate, then bulk-append in batches. It is the
// first phase of a sync run; reconcile reads what it leaves behind.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dwhsync/internal/config"
	"dwhsync/internal/extract"
	"dwhsync/internal/metrics"
	"dwhsync/internal/record"
	"dwhsync/internal/storage"
)

// Options tune Load.
type Options struct {
	// Kind selects the DDL bootstrapper when AutoCreate is set.
	Kind string
	// AutoCreate creates a missing staging table with every column as text.
	AutoCreate    bool
	BatchSize     int
	ReservedWords []string
	// Job labels metrics.
	Job string
}

// Result reports one staging load.
type Result struct {
	Table   string
	Staging string
	Rows    int64
	Batches int64
	// Skipped is set when the snapshot was empty; the staging table was left
	// untouched.
	Skipped bool
	Err     error
}

// Load truncates staging and appends every row of set to it. An empty set
// is a no-op reported as skipped, so a feed that returns nothing never
// wipes the previous snapshot. Cells are written as text.
//
// Truncate and append are separate statements: a failure mid-append leaves
// staging partially filled, and the next successful Load replaces it.
func Load(ctx context.Context, repo storage.Repository, staging string, set *record.Set, opt Options, log *zap.Logger) (Result, error) {
	res := Result{Staging: staging}
	if log == nil {
		log = zap.NewNop()
	}
	if set.Len() == 0 {
		res.Skipped = true
		log.Info("stage: no data returned; staging left as is", zap.String("staging", staging))
		return res, nil
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = config.DefaultBatchSize
	}

	if opt.AutoCreate {
		err := storage.EnsureTable(ctx, opt.Kind, repo, storage.TableSpec{
			Name:          staging,
			Columns:       set.Columns,
			ReservedWords: opt.ReservedWords,
		})
		if err != nil {
			return res, fmt.Errorf("stage %s: create: %w", staging, err)
		}
	}

	if err := repo.Truncate(ctx, staging); err != nil {
		return res, fmt.Errorf("stage %s: truncate: %w", staging, err)
	}

	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		n, err := repo.CopyFrom(ctx, staging, columns, rows)
		if err == nil {
			res.Batches++
		}
		return n, err
	}
	n, err := storage.LoadBatches(ctx, log.With(zap.String("staging", staging)),
		set.Columns, storage.Feed(ctx, textRows(set)), opt.BatchSize, copyFn)
	res.Rows = n
	metrics.RecordBatches(opt.Job, staging, res.Batches)
	if err != nil {
		return res, fmt.Errorf("stage %s: load: %w", staging, err)
	}
	return res, nil
}

// textRows renders every non-absent cell as its canonical text.
func textRows(set *record.Set) [][]any {
	out := make([][]any, len(set.Rows))
	for r, row := range set.Rows {
		vals := make([]any, len(set.Columns))
		for c, v := range row {
			if s, ok := v.Format(); ok {
				vals[c] = s
			}
		}
		out[r] = vals
	}
	return out
}

// Run loads each extracted snapshot into its table's staging table, one
// table at a time, continuing past failures. The returned error joins every
// failed table's error (fetch or load).
func Run(ctx context.Context, repo storage.Repository, job config.Job, fetched []extract.Result, log *zap.Logger) ([]Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	byName := make(map[string]config.Table, len(job.Tables))
	for _, t := range job.Tables {
		byName[t.Name] = t
	}
	opt := Options{
		Kind:          job.Store.Kind,
		AutoCreate:    job.Store.AutoCreate,
		BatchSize:     job.Runtime.BatchSize,
		ReservedWords: job.Cleaning.ReservedWords,
		Job:           job.Name,
	}

	var (
		out  []Result
		errs []error
	)
	for _, f := range fetched {
		t, ok := byName[f.Table]
		if !ok {
			continue
		}
		tlog := log.With(zap.String("table", t.Name))
		if f.Err != nil {
			out = append(out, Result{Table: t.Name, Staging: t.Staging, Err: f.Err})
			errs = append(errs, f.Err)
			metrics.RecordStep(job.Name, t.Name, "extract", f.Err, f.Elapsed)
			continue
		}
		metrics.RecordStep(job.Name, t.Name, "extract", nil, f.Elapsed)

		start := time.Now()
		res, err := Load(ctx, repo, t.Staging, f.Set, opt, tlog)
		res.Table = t.Name
		res.Err = err
		out = append(out, res)
		metrics.RecordStep(job.Name, t.Name, "stage", err, time.Since(start))
		metrics.RecordRows(job.Name, t.Name, "loaded", res.Rows)
		if err != nil {
			tlog.Error("stage failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("table %s: %w", t.Name, err))
			continue
		}
		if !res.Skipped {
			tlog.Info("staged", zap.String("staging", t.Staging), zap.Int64("rows", res.Rows),
				zap.Duration("elapsed", time.Since(start)))
		}
	}
	return out, errors.Join(errs...)
}
