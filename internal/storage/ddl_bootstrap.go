package storage

import (
	"context"
	"fmt"
	"sync"

	"dwhsync/internal/record"
)

// TableSpec describes a table the job may need to create: the staging table
// of a feed (all text) or a target table shaped by the Column Type Map.
type TableSpec struct {
	Name    string
	Columns []string
	Types   map[string]record.Type // unmapped columns get the backend's text type
	Key     []string               // business key; columns stay nullable

	// ReservedWords extend the dialect's reserved set when quoting names.
	ReservedWords []string
}

// DDLBootstrapper is a backend-specific function that maps a TableSpec to
// dialect DDL and applies it through repo.Exec. It must be idempotent.
//
// Backends register their implementation for a storage kind from init.
type DDLBootstrapper func(ctx context.Context, repo Repository, spec TableSpec) error

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBootstrapper{}
)

// RegisterDDL registers (or replaces) a DDLBootstrapper for the given storage
// kind.
func RegisterDDL(kind string, fn DDLBootstrapper) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// EnsureTable creates spec.Name through the bootstrapper registered for kind
// unless it already exists.
func EnsureTable(ctx context.Context, kind string, repo Repository, spec TableSpec) error {
	ddlMu.RLock()
	fn, ok := ddlFns[kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("no DDL bootstrapper registered for storage.kind=%q", kind)
	}
	return fn(ctx, repo, spec)
}
