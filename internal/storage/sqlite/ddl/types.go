// Package ddl contains SQLite-specific helpers for generating DDL.
package ddl

import (
	"strings"

	"dwhsync/internal/record"
)

// MapType maps a declared column type into a SQLite column type.
//
// Timestamps are declared TIMESTAMP so the driver parses stored values back
// into time.Time. Unmapped (text) columns are TEXT.
func MapType(t record.Type) string {
	switch record.Type(strings.ToLower(strings.TrimSpace(string(t)))) {
	case record.TypeInteger:
		return "INTEGER"
	case record.TypeFloat:
		return "REAL"
	case record.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
