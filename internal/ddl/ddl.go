// Package ddl is a small, dialect-neutral model of CREATE TABLE statements.
//
// The sync job only ever creates two shapes of table: a staging table that
// mirrors a feed with every column as text, and a target table whose columns
// follow the feed's Column Type Map. Neither shape carries constraints: an
// absent key cell is a valid key under NULL-safe matching, and the merge
// keeps one row per key on its own.
// Infer builds either shape as a TableDef; BuildCreateTableSQL renders it.
// Backend packages (internal/storage/*/ddl) supply the type mapping and the
// quoting of their dialect through a Renderer.
package ddl

import (
	"fmt"
	"strings"

	"dwhsync/internal/record"
)

// ColumnDef describes a single column.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g. NVARCHAR(MAX), BIGINT, TIMESTAMPTZ)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Key: whether the column is part of the business key (not a constraint)
//   - Default: raw default expression (e.g. CURRENT_TIMESTAMP)
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Key        bool
	Default    string
}

// TableDef holds the table name in dotted form ("schema.table") and an
// ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Renderer carries the dialect-specific parts of a CREATE TABLE statement.
// The zero value emits names verbatim and a plain CREATE TABLE.
type Renderer struct {
	Ident       func(string) string // column names
	Table       func(string) string // dotted table names
	IfNotExists bool
}

// TypeMapper maps a declared record.Type to a column type. An empty Type
// means the column is not in the type map and holds text.
type TypeMapper func(record.Type) string

// Infer builds a TableDef for table. Columns listed in types get the mapped
// type; the rest get mapType(""). Every column is nullable, key columns
// included; key columns are marked Key but not PrimaryKey.
func Infer(table string, columns []string, types map[string]record.Type, key []string, mapType TypeMapper) (TableDef, error) {
	if strings.TrimSpace(table) == "" {
		return TableDef{}, fmt.Errorf("ddl: missing table")
	}
	if len(columns) == 0 {
		return TableDef{}, fmt.Errorf("ddl: table %s has no columns", table)
	}
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	defs := make([]ColumnDef, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, ColumnDef{
			Name:     c,
			SQLType:  mapType(types[c]),
			Nullable: true,
			Key:      isKey[c],
		})
	}
	for _, k := range key {
		if !contains(columns, k) {
			return TableDef{}, fmt.Errorf("ddl: key column %s not among columns of %s", k, table)
		}
	}
	return TableDef{FQN: table, Columns: defs}, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// BuildCreateTableSQL renders a CREATE TABLE statement from a TableDef.
//
// Rules:
//
//   - t.FQN must be non-empty; each column must have a Name and SQLType.
//
//   - A column is rendered as
//
//     <Name> <SQLType> [NOT NULL] [DEFAULT <Default>]
//
//     where NOT NULL is added when Nullable is false or the column is part of
//     the primary key.
//
//   - Primary key columns are collected, in column order, into a trailing
//     PRIMARY KEY (...) clause.
func BuildCreateTableSQL(t TableDef, r Renderer) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}
	quote := r.Ident
	if quote == nil {
		quote = func(s string) string { return s }
	}
	table := r.Table
	if table == nil {
		table = func(s string) string { return s }
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	head := "CREATE TABLE "
	if r.IfNotExists {
		head += "IF NOT EXISTS "
	}
	return fmt.Sprintf("%s%s (\n  %s\n);", head, table(fqn), strings.Join(cols, ",\n  ")), nil
}
