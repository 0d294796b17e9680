package ddl

import (
	"context"

	gddl "dwhsync/internal/ddl"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// BuildCreateTableSQL returns a Postgres CREATE TABLE IF NOT EXISTS statement
// for the given table definition. Mixed-case and reserved names are
// double-quoted so they keep their spelling.
func BuildCreateTableSQL(t gddl.TableDef, q *ident.Quoter) (string, error) {
	return gddl.BuildCreateTableSQL(t, gddl.Renderer{Ident: q.Ident, Table: q.Table, IfNotExists: true})
}

// FromSpec derives a Postgres TableDef from a storage.TableSpec.
func FromSpec(spec storage.TableSpec) (gddl.TableDef, error) {
	return gddl.Infer(spec.Name, spec.Columns, spec.Types, spec.Key, MapType)
}

// EnsureTable creates the table if it does not exist. It is idempotent and
// simply issues the CREATE TABLE IF NOT EXISTS via the repository's Exec
// method.
func EnsureTable(ctx context.Context, repo storage.Repository, spec storage.TableSpec) error {
	def, err := FromSpec(spec)
	if err != nil {
		return err
	}
	sql, err := BuildCreateTableSQL(def, ident.New(ident.Postgres, spec.ReservedWords...))
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
