package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// mergeSQL holds the statements of one merge.
type mergeSQL struct {
	Create  string // temp staging table, dropped on commit or rollback
	Update  string // empty when every column is a key
	Matched string // counts matched rows when Update is empty
	Insert  string
}

// buildMerge renders the statements merging staging table stg into
// plan.Target. types maps target column names to their SQL types; staged
// values are text and are cast to those types through the source subquery.
func buildMerge(q *ident.Quoter, plan storage.MergePlan, stg string, types map[string]string) mergeSQL {
	target := q.Table(plan.Target)

	defs := make([]string, len(plan.Columns))
	casts := make([]string, len(plan.Columns))
	for i, c := range plan.Columns {
		id := q.Ident(c)
		defs[i] = id + " text"
		switch typ := types[c]; typ {
		case "", "text":
			casts[i] = id
		default:
			casts[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", id, typ, id)
		}
	}
	src := fmt.Sprintf("(SELECT %s FROM %s)", strings.Join(casts, ", "), stg)
	match := plan.KeyPredicate(q, "T", "S")

	out := mergeSQL{
		Create: fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP", stg, strings.Join(defs, ", ")),
		Insert: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s AS S WHERE NOT EXISTS (SELECT 1 FROM %s AS T WHERE %s)",
			target, q.List("", plan.Columns), q.List("S", plan.Columns), src, target, match),
	}
	if len(plan.Update) > 0 {
		out.Update = fmt.Sprintf("UPDATE %s AS T SET %s FROM %s AS S WHERE %s",
			target, plan.Assignments(q, "S"), src, match)
	} else {
		out.Matched = fmt.Sprintf("SELECT COUNT(*) FROM %s AS S WHERE EXISTS (SELECT 1 FROM %s AS T WHERE %s)",
			src, target, match)
	}
	return out
}

// textRows renders the batch for the all-text staging table.
func textRows(plan storage.MergePlan) [][]any {
	rows := plan.Rows()
	for _, row := range rows {
		for i, v := range row {
			if v == nil {
				continue
			}
			if s, ok := record.FromAny(v).Format(); ok {
				row[i] = s
			}
		}
	}
	return rows
}

// Merge upserts spec.Batch into spec.Target inside one transaction on a
// pinned connection: COPY into a temp table, UPDATE ... FROM for matched
// keys, INSERT ... WHERE NOT EXISTS for the rest. The temp table is created
// ON COMMIT DROP, so it disappears on commit and on rollback alike.
func (r *Repository) Merge(ctx context.Context, spec storage.MergeSpec) (res storage.MergeResult, err error) {
	plan, err := storage.PlanMerge(spec)
	if err != nil {
		return res, err
	}
	if plan.Empty() {
		return res, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return res, classify(plan.Target, "acquire connection", err)
	}
	defer conn.Release()

	live, err := r.describe(ctx, conn, plan.Target)
	if err != nil {
		if errors.Is(err, storage.ErrTableNotFound) {
			return res, &storage.SchemaError{Table: plan.Target, Reason: "target table not found", Err: err}
		}
		return res, err
	}
	names := make([]string, len(live))
	types := make(map[string]string, len(live))
	for i, c := range live {
		names[i] = c.Name
		types[c.Name] = c.Type
	}
	if err := plan.CheckTarget(names, false); err != nil {
		return res, err
	}

	stg := storage.StagingName()
	stmts := buildMerge(r.q, plan, stg, types)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return res, classify(plan.Target, "begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, stmts.Create); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "create staging", err)
	}
	if res.Staged, err = tx.CopyFrom(ctx, pgx.Identifier{stg}, plan.Columns, pgx.CopyFromRows(textRows(plan))); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "copy staging", err)
	}

	if stmts.Update != "" {
		tag, err := tx.Exec(ctx, stmts.Update)
		if err != nil {
			return storage.MergeResult{}, classify(plan.Target, "update", err)
		}
		res.Updated = tag.RowsAffected()
	} else if err = tx.QueryRow(ctx, stmts.Matched).Scan(&res.Updated); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "count matched", err)
	}

	tag, err := tx.Exec(ctx, stmts.Insert)
	if err != nil {
		return storage.MergeResult{}, classify(plan.Target, "insert", err)
	}
	res.Inserted = tag.RowsAffected()

	if err = tx.Commit(ctx); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "commit", err)
	}
	return res, nil
}
