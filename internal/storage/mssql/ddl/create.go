// Package ddl provides MSSQL-specific helpers for generating CREATE TABLE
// statements from the generic ddl.TableDef model.
//
// The builder here:
//   - Uses SQL Server-style identifier quoting where needed: [FILE], [my col].
//   - Wraps CREATE TABLE in an IF OBJECT_ID(...) IS NULL guard since T-SQL
//     does not support CREATE TABLE IF NOT EXISTS.
package ddl

import (
	"context"
	"fmt"
	"strings"

	gddl "dwhsync/internal/ddl"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// BuildCreateTableSQL returns a T-SQL script that creates a table matching
// the provided definition if it does not already exist:
//
//	IF OBJECT_ID(N'dbo.t', N'U') IS NULL
//	BEGIN
//	CREATE TABLE dbo.t (
//	  id BIGINT,
//	  [FILE] NVARCHAR(MAX)
//	);
//	END;
func BuildCreateTableSQL(t gddl.TableDef, q *ident.Quoter) (string, error) {
	create, err := gddl.BuildCreateTableSQL(t, gddl.Renderer{Ident: q.Ident, Table: q.Table})
	if err != nil {
		return "", fmt.Errorf("mssql %w", err)
	}
	name := strings.ReplaceAll(q.Table(t.FQN), "'", "''")
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n%s\nEND;", name, create), nil
}

// FromSpec derives an MSSQL TableDef from a storage.TableSpec. Text key
// columns are narrowed to an indexable length.
func FromSpec(spec storage.TableSpec) (gddl.TableDef, error) {
	def, err := gddl.Infer(spec.Name, spec.Columns, spec.Types, spec.Key, MapType)
	if err != nil {
		return def, err
	}
	for i, c := range def.Columns {
		if c.Key && c.SQLType == MapType("") {
			def.Columns[i].SQLType = keyText
		}
	}
	return def, nil
}

// EnsureTable creates the target SQL Server table if it does not already
// exist. The operation is idempotent and safe to call multiple times.
func EnsureTable(ctx context.Context, repo storage.Repository, spec storage.TableSpec) error {
	def, err := FromSpec(spec)
	if err != nil {
		return err
	}
	sql, err := BuildCreateTableSQL(def, ident.New(ident.MSSQL, spec.ReservedWords...))
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
