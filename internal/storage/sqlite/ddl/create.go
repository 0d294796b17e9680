package ddl

import (
	"context"

	gddl "dwhsync/internal/ddl"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS with SQLite quoting.
func BuildCreateTableSQL(t gddl.TableDef, q *ident.Quoter) (string, error) {
	return gddl.BuildCreateTableSQL(t, gddl.Renderer{Ident: q.Ident, Table: q.Table, IfNotExists: true})
}

// FromSpec derives a SQLite TableDef from a storage.TableSpec.
func FromSpec(spec storage.TableSpec) (gddl.TableDef, error) {
	return gddl.Infer(spec.Name, spec.Columns, spec.Types, spec.Key, MapType)
}

// EnsureTable creates spec's table if it does not exist. It is idempotent.
func EnsureTable(ctx context.Context, repo storage.Repository, spec storage.TableSpec) error {
	def, err := FromSpec(spec)
	if err != nil {
		return err
	}
	sql, err := BuildCreateTableSQL(def, ident.New(ident.SQLite, spec.ReservedWords...))
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
