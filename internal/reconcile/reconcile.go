// Package reconcile is the target phase of a sync run. For each configured
// table it reads the staging snapshot, cleans it (missing tokens,
// whitespace, declared types, business-key dedup) and merges the result
// into the target table in one transaction.
//
// Tables run one after another on the repository handle passed in. A failed
// table does not undo tables already committed; Run reports every outcome
// and joins the failures.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dwhsync/internal/config"
	"dwhsync/internal/metrics"
	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	"dwhsync/internal/transformer"
	"dwhsync/internal/transformer/builtin"
)

// Status is a table's outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped" // staging was empty
	StatusFailed  Status = "failed"
)

// Result reports one table run.
type Result struct {
	Table  string
	Target string
	Status Status

	// Read is the number of staging rows read.
	Read int
	storage.MergeResult
	transformer.Stats

	Elapsed time.Duration
	Err     error
}

// Options carry the job-wide settings a table run needs.
type Options struct {
	// Job labels logs and metrics.
	Job string
	// Kind selects the DDL bootstrapper when AutoCreate is set.
	Kind string
	// AutoCreate creates a missing target table from the cleaned columns,
	// the Column Type Map and the business key.
	AutoCreate bool
	// MissingTokens overrides builtin.DefaultMissingTokens when non-empty.
	MissingTokens []string
	ReservedWords []string
}

// OptionsFrom extracts Options from a job.
func OptionsFrom(job config.Job) Options {
	return Options{
		Job:           job.Name,
		Kind:          job.Store.Kind,
		AutoCreate:    job.Store.AutoCreate,
		MissingTokens: job.Cleaning.MissingTokens,
		ReservedWords: job.Cleaning.ReservedWords,
	}
}

// Chain builds the cleaning chain for t: missing-value normalization,
// whitespace normalization, type coercion, then de-duplication on the
// business key.
func Chain(t config.Table, missingTokens []string) (transformer.Chain, error) {
	types, err := t.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrMissingConfiguration, err)
	}
	nulls, err := t.NullKeyPolicy()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrMissingConfiguration, err)
	}
	return transformer.Chain{
		builtin.Missing{Tokens: missingTokens},
		builtin.Whitespace{},
		builtin.Coerce{Types: types},
		builtin.DeDup{Keys: t.Key, Policy: t.Dedupe, NullKeys: nulls},
	}, nil
}

// Table reconciles one table: staging -> clean -> (create) -> merge.
//
// An empty staging table is not an error; the result is StatusSkipped and
// the target is not touched. Cells that fail coercion become absent and are
// counted, never raised. Schema mismatches and store failures abort the
// table with an error wrapping storage.ErrSchemaMismatch or
// storage.ErrConnectivity; the target is left as it was.
func Table(ctx context.Context, repo storage.Repository, t config.Table, opt Options, log *zap.Logger) (res Result, err error) {
	start := time.Now()
	res = Result{Table: t.Name, Target: t.Target, Status: StatusFailed}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("table", t.Name), zap.String("target", t.Target))
	defer func() {
		res.Elapsed = time.Since(start)
		if err != nil {
			res.Err = err
		}
	}()

	if err := config.CheckTable(t); err != nil {
		return res, err
	}
	chain, err := Chain(t, opt.MissingTokens)
	if err != nil {
		return res, err
	}

	step := time.Now()
	raw, err := repo.ReadTable(ctx, t.Staging)
	metrics.RecordStep(opt.Job, t.Name, "read", err, time.Since(step))
	if err != nil {
		return res, fmt.Errorf("read staging %s: %w", t.Staging, err)
	}
	res.Read = raw.Len()
	if raw.Len() == 0 {
		res.Status = StatusSkipped
		log.Info("staging is empty; table skipped", zap.String("staging", t.Staging))
		return res, nil
	}

	step = time.Now()
	cleaned, stats := chain.Apply(raw)
	res.Stats = stats
	metrics.RecordStep(opt.Job, t.Name, "clean", nil, time.Since(step))
	log.Debug("cleaned",
		zap.Int("rows", cleaned.Len()),
		zap.Int("missing_normalized", stats.MissingNormalized),
		zap.Int("whitespace_normalized", stats.WhitespaceNormalized),
		zap.Int("coercion_failures", stats.CoercionFailures),
		zap.Int("duplicates", stats.Duplicates))

	if opt.AutoCreate {
		step = time.Now()
		err := ensureTarget(ctx, repo, t, cleaned, opt)
		metrics.RecordStep(opt.Job, t.Name, "create", err, time.Since(step))
		if err != nil {
			return res, fmt.Errorf("create target %s: %w", t.Target, err)
		}
	}

	nulls, _ := t.NullKeyPolicy()
	step = time.Now()
	mr, err := repo.Merge(ctx, storage.MergeSpec{
		Target:   t.Target,
		Key:      t.Key,
		Batch:    cleaned,
		NullKeys: nulls,
	})
	metrics.RecordStep(opt.Job, t.Name, "merge", err, time.Since(step))
	if err != nil {
		return res, fmt.Errorf("merge into %s: %w", t.Target, err)
	}
	res.MergeResult = mr
	res.Status = StatusOK
	return res, nil
}

func ensureTarget(ctx context.Context, repo storage.Repository, t config.Table, set *record.Set, opt Options) error {
	types, err := t.ColumnTypes()
	if err != nil {
		return err
	}
	return storage.EnsureTable(ctx, opt.Kind, repo, storage.TableSpec{
		Name:          t.Target,
		Columns:       set.Columns,
		Types:         types,
		Key:           t.Key,
		ReservedWords: opt.ReservedWords,
	})
}

// Run checks job, then reconciles every table in order. A failing table is
// logged and recorded; the remaining tables still run. The error joins each
// failed table's error, wrapped with the table name; it is nil only when
// every table succeeded or was skipped.
//
// Table blocks that fail validation return config.ErrMissingConfiguration
// before any table runs. The store settings are not checked; repo is
// already open.
func Run(ctx context.Context, repo storage.Repository, job config.Job, log *zap.Logger) ([]Result, error) {
	if err := config.CheckTables(job.Tables); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID), zap.String("job", job.Name))
	opt := OptionsFrom(job)

	results := make([]Result, 0, len(job.Tables))
	var errs []error
	for _, t := range job.Tables {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", t.Name, err))
			results = append(results, Result{Table: t.Name, Target: t.Target, Status: StatusFailed, Err: err})
			continue
		}
		res, err := Table(ctx, repo, t, opt, log)
		results = append(results, res)
		recordMetrics(job.Name, res)
		if err != nil {
			log.Error("table failed", zap.String("table", t.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("table %s: %w", t.Name, err))
			continue
		}
		if res.Status == StatusOK {
			log.Info("table reconciled",
				zap.String("table", t.Name),
				zap.String("staged", humanize.Comma(res.Staged)),
				zap.Int64("updated", res.Updated),
				zap.Int64("inserted", res.Inserted),
				zap.Int("duplicates", res.Duplicates),
				zap.Int("coercion_failures", res.CoercionFailures),
				zap.Duration("elapsed", res.Elapsed.Truncate(time.Millisecond)))
		}
	}
	return results, errors.Join(errs...)
}

func recordMetrics(job string, r Result) {
	metrics.RecordTable(job, string(r.Status))
	metrics.RecordRows(job, r.Table, "staged", r.Staged)
	metrics.RecordRows(job, r.Table, "updated", r.Updated)
	metrics.RecordRows(job, r.Table, "inserted", r.Inserted)
	metrics.RecordRows(job, r.Table, "duplicates", int64(r.Duplicates))
	metrics.RecordRows(job, r.Table, "coercion_failures", int64(r.CoercionFailures))
	metrics.RecordRows(job, r.Table, "missing_normalized", int64(r.MissingNormalized))
}
