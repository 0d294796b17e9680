// Package mssql implements storage.Repository for Microsoft SQL Server on
// go-mssqldb. Loads use the driver's bulk copy API; a merge bulk-copies the
// batch into a session temporary table (#stg_...) and applies one MERGE
// statement, counting updates and inserts from its OUTPUT $action rows.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN           string
	ReservedWords []string // extra names to bracket
}

// Repository is an MSSQL-backed implementation of storage.Repository.
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

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, storage.Connectivity("mssql: ping", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg, q: ident.New(ident.MSSQL, cfg.ReservedWords...)}, closeFn, nil
}

// column is one live column of a table.
type column struct {
	Name string
	Type string // sys.types name, e.g. "bigint", "datetime2"
}

const describeSQL = `
SELECT c.name, t.name
FROM sys.columns AS c
JOIN sys.types AS t ON t.user_type_id = c.user_type_id
WHERE c.object_id = OBJECT_ID(@p1)
ORDER BY c.column_id`

func (r *Repository) describe(ctx context.Context, q querier, table string) ([]column, error) {
	rows, err := q.QueryContext(ctx, describeSQL, r.q.Table(table))
	if err != nil {
		return nil, classify(table, "describe", err)
	}
	defer rows.Close()

	var out []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("mssql: describe %s: %w", table, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(table, "describe", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mssql: %s: %w", table, storage.ErrTableNotFound)
	}
	return out, nil
}

// Columns lists table's columns in ordinal order.
func (r *Repository) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := r.describe(ctx, r.db, table)
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
	rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+r.q.Table(table))
	if err != nil {
		return nil, classify(table, "read", err)
	}
	defer rows.Close()
	return storage.ScanRows(rows)
}

// CopyFrom performs a bulk insert into table inside a transaction.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(table, "begin tx", err)
	}
	n, err := bulkCopy(ctx, tx, r.q.Table(table), columns, rows)
	if err != nil {
		_ = tx.Rollback()
		return 0, classify(table, "bulk copy", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(table, "commit", err)
	}
	return n, nil
}

// bulkCopy streams rows through mssql.CopyIn on q. table is used verbatim.
func bulkCopy(ctx context.Context, q querier, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := q.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if len(rows[i]) != len(columns) {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: row length %d != columns length %d", i, len(rows[i]), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	return res.RowsAffected()
}

// Truncate empties table.
func (r *Repository) Truncate(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, "TRUNCATE TABLE "+r.q.Table(table)); err != nil {
		return classify(table, "truncate", err)
	}
	return nil
}

// Exec executes a SQL statement against the pool.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return classify("", "exec", err)
	}
	return nil
}

// Error numbers where the server rejected the batch's shape or values.
var schemaErrors = map[int32]bool{
	207:  true, // invalid column name
	208:  true, // invalid object name
	241:  true, // conversion failed (date/time)
	245:  true, // conversion failed
	515:  true, // cannot insert NULL
	547:  true, // constraint conflict
	2601: true, // duplicate key (unique index)
	2627: true, // duplicate key (constraint)
	2628: true, // string truncation
	4815: true, // bulk load: invalid column length
	8114: true, // error converting data type
	8115: true, // arithmetic overflow
	8152: true, // string truncation
	9819: true, // datetime conversion
}

// Error numbers meaning the server could not be used at all.
var connErrors = map[int32]bool{
	4060:  true, // cannot open database
	18456: true, // login failed
	40613: true, // database unavailable (Azure)
}

// classify maps driver errors onto storage.ErrSchemaMismatch and
// storage.ErrConnectivity; other errors are wrapped with op.
func classify(table, op string, err error) error {
	if err == nil {
		return nil
	}
	var me mssql.Error
	if errors.As(err, &me) {
		switch n := me.SQLErrorNumber(); {
		case schemaErrors[n]:
			return &storage.SchemaError{Table: table, Reason: me.Message, Err: err}
		case connErrors[n]:
			return storage.Connectivity("mssql: "+op, err)
		}
		return fmt.Errorf("mssql: %s %s: %w", op, table, err)
	}
	if storage.IsNetworkError(err) {
		return storage.Connectivity("mssql: "+op, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "invalid type for") || (strings.Contains(msg, "column") && strings.Contains(msg, "does not exist")) {
		// Bulk copy rejects unknown columns and unconvertible values client-side.
		return &storage.SchemaError{Table: table, Reason: "rejected by bulk copy", Err: err}
	}
	return fmt.Errorf("mssql: %s %s: %w", op, table, err)
}
