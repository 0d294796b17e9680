// Package ddl contains MSSQL-specific helpers for generating DDL.
package ddl

import (
	"strings"

	"dwhsync/internal/record"
)

// MapType maps a declared column type into a SQL Server column type.
// Unmapped columns fall back to NVARCHAR(MAX).
func MapType(t record.Type) string {
	switch record.Type(strings.ToLower(strings.TrimSpace(string(t)))) {
	case record.TypeInteger:
		return "BIGINT"
	case record.TypeFloat:
		return "FLOAT"
	case record.TypeTimestamp:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

// keyText is the text type of key columns: index keys are limited to 900
// bytes, which NVARCHAR(MAX) may exceed.
const keyText = "NVARCHAR(450)"
