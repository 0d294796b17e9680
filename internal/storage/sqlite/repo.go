// Package sqlite implements storage.Repository on modernc.org/sqlite through
// database/sql. SQLite has no bulk-load API, so CopyFrom and the merge's
// staging load use a prepared INSERT inside a transaction, which keeps
// moderate volumes fast.
//
// The backend doubles as the embedded store for hermetic tests: a ":memory:"
// DSN pins the pool to a single connection so every statement sees the same
// private database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
	q   *ident.Quoter
}

// querier is the subset shared by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// NewRepository opens a SQLite database and returns a Repository plus a
// Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, storage.Connectivity("sqlite: ping", err)
	}

	closeFn := func() { db.Close() }
	return &Repository{db: db, cfg: cfg, q: ident.New(ident.SQLite, cfg.ReservedWords...)}, closeFn, nil
}

// Columns lists table's columns in ordinal order.
func (r *Repository) Columns(ctx context.Context, table string) ([]string, error) {
	return columns(ctx, r.db, table)
}

func columns(ctx context.Context, q querier, table string) ([]string, error) {
	schema, name := splitFQN(table)
	var (
		rows *sql.Rows
		err  error
	)
	if schema == "" {
		rows, err = q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", name)
	} else {
		rows, err = q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?, ?) ORDER BY cid", name, schema)
	}
	if err != nil {
		return nil, classify(table, "columns", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("sqlite: columns %s: %w", table, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(table, "columns", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sqlite: %s: %w", table, storage.ErrTableNotFound)
	}
	return out, nil
}

// ReadTable materializes every row of table.
func (r *Repository) ReadTable(ctx context.Context, table string) (*record.Set, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+r.q.Table(table))
	if err != nil {
		return nil, classify(table, "read", err)
	}
	defer rows.Close()
	return storage.ScanRows(rows)
}

// CopyFrom inserts rows into table using a single transaction and a prepared
// INSERT statement. len(row) must equal len(columns) for every row.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(table, "begin tx", err)
	}
	n, err := r.insertRows(ctx, tx, table, columns, rows)
	if err != nil {
		_ = tx.Rollback()
		return n, err
	}
	if err := tx.Commit(); err != nil {
		return n, classify(table, "commit", err)
	}
	return n, nil
}

func (r *Repository) insertRows(ctx context.Context, q querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: insert into %s: columns must not be empty", table)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.q.Table(table), r.q.List("", columns), placeholders)

	stmt, err := q.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, classify(table, "prepare insert", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return inserted, fmt.Errorf("sqlite: insert into %s: row length %d != columns length %d", table, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, classify(table, "insert", err)
		}
		inserted++
	}
	return inserted, nil
}

// Truncate deletes every row of table; SQLite has no TRUNCATE statement.
func (r *Repository) Truncate(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+r.q.Table(table)); err != nil {
		return classify(table, "truncate", err)
	}
	return nil
}

// Exec executes an arbitrary SQL statement (typically DDL).
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

func splitFQN(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// schemaMarkers are message fragments of errors where the table rejected the
// batch's shape or values.
var schemaMarkers = []string{
	"no such column",
	"has no column named",
	"no such table",
	"datatype mismatch",
	"constraint failed",
}

// classify maps driver errors onto storage.ErrSchemaMismatch and
// storage.ErrConnectivity; other errors are wrapped with op.
func classify(table, op string, err error) error {
	if err == nil {
		return nil
	}
	if storage.IsNetworkError(err) {
		return storage.Connectivity("sqlite: "+op, err)
	}
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_CONSTRAINT:
			return &storage.SchemaError{Table: table, Reason: "rejected by store", Err: err}
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR:
			return storage.Connectivity("sqlite: "+op, err)
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range schemaMarkers {
		if strings.Contains(msg, m) {
			return &storage.SchemaError{Table: table, Reason: "rejected by store", Err: err}
		}
	}
	return fmt.Errorf("sqlite: %s %s: %w", op, table, err)
}
