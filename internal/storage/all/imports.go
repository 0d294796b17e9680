// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete storage backend to run,
// which in turn register their factories and DDL bootstrappers with the
// storage package. It makes these storage kinds available at runtime:
//
//   - "postgres" (dwhsync/internal/storage/postgres)
//   - "mssql"    (dwhsync/internal/storage/mssql)
//   - "sqlite"   (dwhsync/internal/storage/sqlite)
//
// Typical usage, in a wiring layer such as cmd/dwhsync:
//
//	import _ "dwhsync/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: job.Store.Kind, DSN: job.Store.DSN})
//	if err != nil {
//	    // handle error
//	}
//	defer repo.Close()
//
// A binary that supports only a subset of backends can import just those
// packages instead.
package all

import (
	_ "dwhsync/internal/storage/mssql"
	_ "dwhsync/internal/storage/postgres"
	_ "dwhsync/internal/storage/sqlite"
)
