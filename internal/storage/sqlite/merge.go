package sqlite

import (
	"context"
	"errors"
	"fmt"

	"dwhsync/internal/storage"
)

// Merge upserts spec.Batch into spec.Target.
//
// On one pinned connection it creates a TEMP staging table shaped like the
// target's batch columns, then in a single transaction loads the batch,
// runs UPDATE ... FROM staging for matched keys and INSERT ... WHERE NOT
// EXISTS for the rest. Any failure rolls the transaction back; the staging
// table is dropped on every path.
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
		return res, storage.Connectivity("sqlite: acquire connection", err)
	}
	defer conn.Close()

	live, err := columns(ctx, conn, plan.Target)
	if err != nil {
		if errors.Is(err, storage.ErrTableNotFound) {
			return res, &storage.SchemaError{Table: plan.Target, Reason: "target table not found", Err: err}
		}
		return res, err
	}
	if err := plan.CheckTarget(live, true); err != nil {
		return res, err
	}

	target := r.q.Table(plan.Target)
	stg := storage.StagingName()
	create := fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE 0",
		stg, r.q.List("", plan.Columns), target)
	if _, err := conn.ExecContext(ctx, create); err != nil {
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

	if res.Staged, err = r.insertRows(ctx, tx, stg, plan.Columns, plan.Rows()); err != nil {
		return storage.MergeResult{}, err
	}

	match := plan.KeyPredicate(r.q, "T", "S")
	if len(plan.Update) > 0 {
		upd := fmt.Sprintf("UPDATE %s AS T SET %s FROM %s AS S WHERE %s",
			target, plan.Assignments(r.q, "S"), stg, match)
		out, err := tx.ExecContext(ctx, upd)
		if err != nil {
			return storage.MergeResult{}, classify(plan.Target, "update", err)
		}
		res.Updated, _ = out.RowsAffected()
	} else {
		matched := fmt.Sprintf("SELECT COUNT(*) FROM %s AS S WHERE EXISTS (SELECT 1 FROM %s AS T WHERE %s)",
			stg, target, match)
		if err := tx.QueryRowContext(ctx, matched).Scan(&res.Updated); err != nil {
			return storage.MergeResult{}, classify(plan.Target, "count matched", err)
		}
	}

	ins := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s AS S WHERE NOT EXISTS (SELECT 1 FROM %s AS T WHERE %s)",
		target, r.q.List("", plan.Columns), r.q.List("S", plan.Columns), stg, target, match)
	out, err := tx.ExecContext(ctx, ins)
	if err != nil {
		return storage.MergeResult{}, classify(plan.Target, "insert", err)
	}
	res.Inserted, _ = out.RowsAffected()

	if err = tx.Commit(); err != nil {
		return storage.MergeResult{}, classify(plan.Target, "commit", err)
	}
	return res, nil
}
