// This adapter wires the MSSQL backend and its DDL bootstrapper into the
// storage-agnostic factory.

package mssql

import (
	"context"
	"fmt"

	"dwhsync/internal/storage"
	msddl "dwhsync/internal/storage/mssql/ddl"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Repository = (*wrappedRepo)(nil)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:           cfg.DSN,
			ReservedWords: cfg.ReservedWords,
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})

	storage.RegisterDDL("mssql", func(ctx context.Context, repo storage.Repository, spec storage.TableSpec) error {
		if err := msddl.EnsureTable(ctx, repo, spec); err != nil {
			return fmt.Errorf("mssql: ensure table %s: %w", spec.Name, err)
		}
		return nil
	})
}

// wrappedRepo adapts *mssql.Repository to storage.Repository and provides Close.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}
