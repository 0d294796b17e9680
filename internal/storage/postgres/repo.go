// Package postgres implements storage.Repository on pgx v5. Loads use the
// COPY protocol; a merge COPYs the batch into a transaction-scoped temporary
// table of text columns and casts each column to the target's type while
// updating and inserting.
package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN           string   // connection string for pgxpool
	ReservedWords []string // extra names to delimit
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
	q    *ident.Quoter
}

// querier is the subset shared by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, storage.Connectivity("postgres: pgxpool", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, storage.Connectivity("postgres: ping", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg, q: ident.New(ident.Postgres, cfg.ReservedWords...)}, closeFn, nil
}

// column is one live column of a table.
type column struct {
	Name string
	Type string // format_type(), e.g. "bigint", "timestamp with time zone"
}

// describe lists the live columns of table in ordinal order. The name is
// resolved by to_regclass, so it follows search_path and sees the session's
// temporary tables.
func (r *Repository) describe(ctx context.Context, q querier, table string) ([]column, error) {
	rows, err := q.Query(ctx, `
SELECT a.attname, format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
WHERE a.attrelid = to_regclass($1) AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`, r.q.Table(table))
	if err != nil {
		return nil, classify(table, "describe", err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowToStructByPos[column])
	if err != nil {
		return nil, classify(table, "describe", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("postgres: %s: %w", table, storage.ErrTableNotFound)
	}
	return cols, nil
}

// Columns lists table's columns in ordinal order.
func (r *Repository) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := r.describe(ctx, r.pool, table)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out, nil
}

// ReadTable materializes every row of table.
func (r *Repository) ReadTable(ctx context.Context, table string) (*record.Set, error) {
	rows, err := r.pool.Query(ctx, "SELECT * FROM "+r.q.Table(table))
	if err != nil {
		return nil, classify(table, "read", err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
	}
	set := record.NewSet(names...)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classify(table, "read", err)
		}
		row := make([]record.Value, len(vals))
		for i, v := range vals {
			row[i] = record.FromAny(plain(v))
		}
		if err := set.Append(row...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(table, "read", err)
	}
	return set, nil
}

// plain unwraps pgtype values (numeric, uuid, intervals) that implement
// driver.Valuer into the primitives record.FromAny understands.
func plain(v any) any {
	if dv, ok := v.(driver.Valuer); ok {
		if out, err := dv.Value(); err == nil {
			return out
		}
	}
	return v
}

// CopyFrom streams rows into table with the COPY protocol.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, classify(table, "copy", err)
	}
	return n, nil
}

// Truncate empties table.
func (r *Repository) Truncate(ctx context.Context, table string) error {
	if _, err := r.pool.Exec(ctx, "TRUNCATE TABLE "+r.q.Table(table)); err != nil {
		return classify(table, "truncate", err)
	}
	return nil
}

// Exec implements storage.Repository.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return classify("", "exec", err)
	}
	return nil
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// classify maps pgx errors onto storage.ErrSchemaMismatch and
// storage.ErrConnectivity by SQLSTATE:
//
//	08xxx, 57P01-03      -> connectivity
//	22xxx, 23xxx         -> schema mismatch (value rejected)
//	42703, 42P01, 42804  -> schema mismatch (shape rejected)
func classify(table, op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03":
			return storage.Connectivity("postgres: "+op, err)
		case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"),
			code == "42703", code == "42P01", code == "42804":
			reason := pgErr.Message
			if pgErr.Detail != "" {
				reason += " (" + pgErr.Detail + ")"
			}
			var cols []string
			if pgErr.ColumnName != "" {
				cols = []string{pgErr.ColumnName}
			}
			return &storage.SchemaError{Table: table, Columns: cols, Reason: reason, Err: err}
		}
		return fmt.Errorf("postgres: %s %s: %w", op, table, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || storage.IsNetworkError(err) {
		return storage.Connectivity("postgres: "+op, err)
	}
	return fmt.Errorf("postgres: %s %s: %w", op, table, err)
}
