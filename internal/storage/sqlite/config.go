package sqlite

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:dwh.db?_pragma=busy_timeout(5000)"
	//   ":memory:" (one private database; the pool is pinned to one connection)
	DSN string

	// ReservedWords extend the dialect's built-in reserved set.
	ReservedWords []string
}
