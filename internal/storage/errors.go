package storage

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrSchemaMismatch marks a batch whose columns or values the target table
	// cannot accept. The table's transaction is rolled back.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrConnectivity marks a store that is unreachable or dropped the session.
	ErrConnectivity = errors.New("store connectivity failure")

	// ErrTableNotFound is returned by Repository.Columns for a missing table.
	ErrTableNotFound = errors.New("table not found")
)

// SchemaError describes a SchemaMismatch. errors.Is(err, ErrSchemaMismatch)
// holds for every *SchemaError.
type SchemaError struct {
	Table   string
	Columns []string // offending columns, when known
	Reason  string
	Err     error // driver error, when the mismatch was reported by the store
}

func (e *SchemaError) Error() string {
	var sb strings.Builder
	sb.WriteString("schema mismatch on ")
	sb.WriteString(e.Table)
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	if len(e.Columns) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(e.Columns, ", "))
		sb.WriteString("]")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *SchemaError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSchemaMismatch}
	}
	return []error{ErrSchemaMismatch, e.Err}
}

// Connectivity wraps err so that errors.Is(err, ErrConnectivity) holds. op
// names the step that failed, e.g. "acquire connection".
func Connectivity(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConnectivity, err)
}

// IsNetworkError reports failures that mean the session is gone regardless
// of driver: dial and read errors, refused or reset connections, and
// database/sql's ErrBadConn.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var (
		oe  *net.OpError
		dns *net.DNSError
	)
	switch {
	case errors.As(err, &oe), errors.As(err, &dns):
		return true
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
