// Package storage holds the store-agnostic contracts of the sync job: the
// Repository interface every backend implements, a registry that maps a
// storage kind ("mssql", "postgres", "sqlite") to a constructor, the merge
// plan shared by all backends, and the error classes callers branch on.
//
// Backends live in subpackages and register themselves from init, so callers
// only import storage plus a blank import of storage/all.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dwhsync/internal/record"
)

// Repository is an open handle on one database. It is passed explicitly to
// every operation that needs the store; nothing in the job reaches for a
// global connection.
type Repository interface {
	// Columns lists the live columns of table in ordinal order. It returns an
	// error wrapping ErrTableNotFound when the table does not exist.
	Columns(ctx context.Context, table string) ([]string, error)

	// ReadTable materializes every row of table.
	ReadTable(ctx context.Context, table string) (*record.Set, error)

	// CopyFrom bulk-appends rows (aligned to columns) to table and returns the
	// number of rows written.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// Truncate removes every row of table.
	Truncate(ctx context.Context, table string) error

	// Merge upserts spec.Batch into spec.Target as one transaction.
	Merge(ctx context.Context, spec MergeSpec) (MergeResult, error)

	// Exec runs a statement with no result set, typically DDL.
	Exec(ctx context.Context, sql string) error

	Close()
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name, e.g. "mssql".
	Kind string

	// DSN is handed to the backend driver unchanged.
	DSN string

	// ReservedWords are delimited in generated SQL in addition to the
	// built-in list of the backend's dialect.
	ReservedWords []string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
