package mssql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// temporal types are converted from their staged ISO 8601 text explicitly,
// through datetime2(7): style 127 accepts the trailing Z, and datetime and
// smalldatetime reject text with more than 3 fractional digits. Every other
// type converts implicitly on comparison and assignment, which keeps
// truncation and overflow errors.
var temporal = map[string]bool{
	"date": true, "datetime": true, "datetime2": true,
	"smalldatetime": true, "datetimeoffset": true, "time": true,
}

// mergeSQL holds the statements of one merge.
type mergeSQL struct {
	Create string
	Merge  string
}

// buildMerge renders the statements merging #-temp table stg into
// plan.Target. types maps target column names (lower-cased) to sys.types
// names.
func buildMerge(q *ident.Quoter, plan storage.MergePlan, stg string, types map[string]string) mergeSQL {
	defs := make([]string, len(plan.Columns))
	src := make([]string, len(plan.Columns))
	for i, c := range plan.Columns {
		id := q.Delimit(c)
		defs[i] = id + " NVARCHAR(MAX) COLLATE DATABASE_DEFAULT NULL"
		if typ := types[strings.ToLower(c)]; temporal[typ] {
			src[i] = fmt.Sprintf("CONVERT(%s, CONVERT(datetime2(7), %s, 127)) AS %s", typ, id, id)
		} else {
			src[i] = id
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s WITH (HOLDLOCK) AS T\n", q.Table(plan.Target))
	fmt.Fprintf(&sb, "USING (SELECT %s FROM %s) AS S\n", strings.Join(src, ", "), stg)
	fmt.Fprintf(&sb, "ON %s\n", plan.KeyPredicate(q, "T", "S"))
	if len(plan.Update) > 0 {
		fmt.Fprintf(&sb, "WHEN MATCHED THEN UPDATE SET %s\n", plan.Assignments(q, "S"))
	}
	fmt.Fprintf(&sb, "WHEN NOT MATCHED BY TARGET THEN INSERT (%s) VALUES (%s)\n",
		q.List("", plan.Columns), q.List("S", plan.Columns))
	sb.WriteString("OUTPUT $action;")

	return mergeSQL{
		Create: fmt.Sprintf("CREATE TABLE %s (%s)", stg, strings.Join(defs, ", ")),
		Merge:  sb.String(),
	}
}

// stagedTime is RFC 3339 in UTC cut to the 100ns precision of datetime2(7).
const stagedTime = "2006-01-02T15:04:05.9999999Z07:00"

// textRows renders the batch for the all-text staging table.
func textRows(plan storage.MergePlan) [][]any {
	rows := plan.Rows()
	for _, row := range rows {
		for i, v := range row {
			if v == nil {
				continue
			}
			if ts, ok := v.(time.Time); ok {
				row[i] = ts.UTC().Format(stagedTime)
				continue
			}
			if s, ok := record.FromAny(v).Format(); ok {
				row[i] = s
			}
		}
	}
	return rows
}

// Merge upserts spec.Batch into spec.Target.
//
// On one pinned connection it creates #stg_..., then in a single transaction
// bulk-copies the batch and runs MERGE. Without update columns the MERGE has
// no WHEN MATCHED arm and matched rows are counted as Staged - Inserted.
// Any failure rolls the transaction back; the temp table is dropped on every
// path.
func (r *Repository) Merge(ctx context.Context, spec storage.MergeSpec) (res storage.MergeResult, err error) {
	plan, err := storage.PlanMerge(spec)
	if err != nil {
		return res, err
	}
	if plan.Empty() {
		return res, nil
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return res, storage.Connectivity("mssql: acquire connection", err)
	}
	defer conn.Close()

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
		types[strings.ToLower(c.Name)] = strings.ToLower(c.Type)
	}
	if err := plan.CheckTarget(names, true); err != nil {
		return res, err
	}

	stg := "#" + storage.StagingName()
	stmts := buildMerge(r.q, plan, stg, types)

	if _, err := conn.ExecContext(ctx, stmts.Create); err != nil {
		return res, classify(plan.Target, "create staging", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+stg)
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return res, classify(plan.Target, "begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if res.Staged, err = bulkCopy(ctx, tx, stg, plan.Columns, textRows(plan)); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "bulk copy staging", err)
	}

	rows, err := tx.QueryContext(ctx, stmts.Merge)
	if err != nil {
		return storage.MergeResult{}, classify(plan.Target, "merge", err)
	}
	for rows.Next() {
		var action string
		if err = rows.Scan(&action); err != nil {
			rows.Close()
			return storage.MergeResult{}, fmt.Errorf("mssql: merge %s: scan action: %w", plan.Target, err)
		}
		switch action {
		case "UPDATE":
			res.Updated++
		case "INSERT":
			res.Inserted++
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "merge", err)
	}
	if len(plan.Update) == 0 {
		res.Updated = res.Staged - res.Inserted
	}

	if err = tx.Commit(); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "commit", err)
	}
	return res, nil
}
