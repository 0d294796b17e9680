// Package ident renders table and column names into SQL statement text.
//
// A Quoter delimits a name when it is a reserved word of the target dialect
// (FILE and CURRENT always, plus the dialect's common keywords and any words
// added by configuration) or when it is not a plain identifier. Delimiting
// escapes the closing delimiter, so a column name taken from source data can
// never change the shape of a statement. Plain names are emitted bare to keep
// generated SQL readable in logs.
//
// Postgres folds bare identifiers to lower case, so for that dialect only
// all-lowercase names count as plain.
package ident

import (
	"fmt"
	"strings"
)

// Dialect selects delimiter syntax and the built-in reserved words.
type Dialect int

const (
	MSSQL Dialect = iota
	Postgres
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case MSSQL:
		return "mssql"
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	}
	return fmt.Sprintf("dialect(%d)", int(d))
}

// ParseDialect maps a storage kind to its Dialect.
func ParseDialect(kind string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "mssql", "sqlserver":
		return MSSQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return 0, fmt.Errorf("ident: unknown dialect %q", kind)
}

// DefaultReserved are delimited in every dialect. Both are column names in
// the Space-Track feeds that T-SQL rejects bare.
var DefaultReserved = []string{"FILE", "CURRENT"}

// shared keywords that show up as column names in tabular feeds.
var commonReserved = []string{
	"ADD", "ALL", "ALTER", "AND", "ANY", "AS", "ASC", "BETWEEN", "BY", "CASE",
	"CHECK", "COLUMN", "CONSTRAINT", "CREATE", "CROSS", "CURRENT_DATE",
	"CURRENT_TIME", "CURRENT_TIMESTAMP", "CURRENT_USER", "DEFAULT", "DELETE",
	"DESC", "DISTINCT", "DROP", "ELSE", "END", "EXCEPT", "EXISTS", "FOR",
	"FOREIGN", "FROM", "FULL", "GROUP", "HAVING", "IN", "INNER", "INSERT",
	"INTERSECT", "INTO", "IS", "JOIN", "LEFT", "LIKE", "NOT", "NULL", "OF", "ON",
	"OR", "ORDER", "OUTER", "PRIMARY", "REFERENCES", "RIGHT", "SELECT", "SET",
	"TABLE", "THEN", "TO", "UNION", "UNIQUE", "UPDATE", "USER", "USING",
	"VALUES", "WHEN", "WHERE", "WITH",
}

var dialectReserved = map[Dialect][]string{
	MSSQL: {
		"BACKUP", "BEGIN", "BULK", "CLOSE", "CLUSTERED", "COMMIT", "COMPUTE",
		"DATABASE", "DECLARE", "DISK", "DUMP", "EXEC", "EXECUTE", "FETCH",
		"FUNCTION", "GOTO", "HOLDLOCK", "IDENTITY", "IF", "INDEX", "KEY", "KILL",
		"LINENO", "LOAD", "MERGE", "NATIONAL", "OFF", "OPEN", "OPTION", "OVER",
		"PERCENT", "PIVOT", "PLAN", "PRINT", "PROC", "PROCEDURE", "PUBLIC", "READ",
		"RESTORE", "RETURN", "ROLLBACK", "ROWCOUNT", "RULE", "SAVE", "SCHEMA",
		"SHUTDOWN", "SOME", "STATISTICS", "TOP", "TRAN", "TRANSACTION", "TRIGGER",
		"TRUNCATE", "USE", "VIEW", "WHILE",
	},
	Postgres: {
		"ANALYSE", "ANALYZE", "ARRAY", "BOTH", "CAST", "COLLATE", "DEFERRABLE",
		"DO", "FALSE", "FETCH", "GRANT", "INITIALLY", "LATERAL", "LEADING",
		"LIMIT", "LOCALTIME", "LOCALTIMESTAMP", "OFFSET", "ONLY", "PLACING",
		"RETURNING", "SOME", "SYMMETRIC", "TRAILING", "TRUE", "VARIADIC", "WINDOW",
	},
	SQLite: {
		"ABORT", "ACTION", "AFTER", "ATTACH", "AUTOINCREMENT", "BEFORE", "BEGIN",
		"CASCADE", "COLLATE", "COMMIT", "CONFLICT", "DATABASE", "DEFERRABLE",
		"DETACH", "EACH", "ESCAPE", "EXPLAIN", "FAIL", "GLOB", "IF", "IGNORE",
		"INDEX", "INDEXED", "INSTEAD", "ISNULL", "KEY", "LIMIT", "MATCH",
		"NOTNULL", "OFFSET", "PLAN", "PRAGMA", "QUERY", "RAISE", "REGEXP",
		"REINDEX", "RELEASE", "RENAME", "REPLACE", "ROLLBACK", "ROW", "SAVEPOINT",
		"TEMP", "TEMPORARY", "TRANSACTION", "TRIGGER", "VACUUM", "VIEW", "VIRTUAL",
	},
}

// Quoter renders identifiers for one dialect. It is immutable after New and
// safe for concurrent use.
type Quoter struct {
	dialect  Dialect
	reserved map[string]struct{}
}

// New builds a Quoter holding DefaultReserved, the dialect keywords and any
// extra words. Matching is case-insensitive.
func New(d Dialect, extra ...string) *Quoter {
	q := &Quoter{dialect: d, reserved: make(map[string]struct{}, 128)}
	for _, list := range [][]string{DefaultReserved, commonReserved, dialectReserved[d], extra} {
		for _, w := range list {
			if w = strings.TrimSpace(w); w != "" {
				q.reserved[strings.ToUpper(w)] = struct{}{}
			}
		}
	}
	return q
}

// Dialect reports the dialect q renders for.
func (q *Quoter) Dialect() Dialect { return q.dialect }

// IsReserved reports whether name is in q's reserved set.
func (q *Quoter) IsReserved(name string) bool {
	_, ok := q.reserved[strings.ToUpper(name)]
	return ok
}

// NeedsQuote reports whether Ident would delimit name.
func (q *Quoter) NeedsQuote(name string) bool {
	return !q.plain(name) || q.IsReserved(name)
}

// Ident renders a single name segment, delimited only when needed.
func (q *Quoter) Ident(name string) string {
	if q.NeedsQuote(name) {
		return q.Delimit(name)
	}
	return name
}

// Delimit always delimits name, escaping the closing delimiter.
func (q *Quoter) Delimit(name string) string {
	if q.dialect == MSSQL {
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Table renders a possibly schema-qualified name such as "DWH_STG.latest_orbits".
// Empty segments are dropped.
func (q *Quoter) Table(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, q.Ident(p))
		}
	}
	return strings.Join(out, ".")
}

// Columns renders each name with Ident.
func (q *Quoter) Columns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = q.Ident(c)
	}
	return out
}

// List renders cols as a comma-separated list, each optionally prefixed by an
// alias ("T" gives T.[a], T.[b]).
func (q *Quoter) List(alias string, cols []string) string {
	var sb strings.Builder
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		if alias != "" {
			sb.WriteString(alias)
			sb.WriteByte('.')
		}
		sb.WriteString(q.Ident(c))
	}
	return sb.String()
}

func (q *Quoter) plain(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
			if q.dialect == Postgres {
				return false
			}
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
