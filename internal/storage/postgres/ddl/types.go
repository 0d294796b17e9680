// Package ddl contains Postgres-specific helpers for generating DDL.
package ddl

import (
	"strings"

	"dwhsync/internal/record"
)

// MapType maps a declared column type into a Postgres SQL type.
//
//	integer   -> BIGINT
//	float     -> DOUBLE PRECISION
//	timestamp -> TIMESTAMPTZ
//	(unmapped) -> TEXT
func MapType(t record.Type) string {
	switch record.Type(strings.ToLower(strings.TrimSpace(string(t)))) {
	case record.TypeInteger:
		return "BIGINT"
	case record.TypeFloat:
		return "DOUBLE PRECISION"
	case record.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
