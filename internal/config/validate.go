package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"dwhsync/internal/record"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Job.
//
// Path is a dotted path into the config (e.g. "store.dsn",
// "tables[1].key_columns"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be joined into a
// single error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// knownKinds are the store kinds linked into the stock binary.
var knownKinds = map[string]bool{"mssql": true, "postgres": true, "sqlite": true}

var dedupePolicies = map[string]bool{"keep-first": true, "keep-last": true, "most-complete": true}

// Validate performs static validation of j. It does not mutate j and does
// not contact the store or the source.
//
// Example:
//
//	for _, iss := range config.Validate(job) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func Validate(j Job) []Issue {
	var issues []Issue
	issues = append(issues, validateStore(j.Store)...)
	issues = append(issues, validateRuntime(j.Runtime)...)
	issues = append(issues, validateTables(j.Tables, j.Source)...)
	return issues
}

func validateStore(s Store) []Issue {
	var issues []Issue
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	switch {
	case kind == "":
		issues = append(issues, Issue{SeverityError, "store.kind", "store.kind is required (mssql, postgres or sqlite)"})
	case !knownKinds[kind]:
		issues = append(issues, Issue{SeverityWarning, "store.kind",
			fmt.Sprintf("unknown store kind %q; it must be registered by an imported backend", s.Kind)})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "store.dsn", "store.dsn is required"})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	if r.BatchSize < 0 {
		return []Issue{{SeverityError, "runtime.batch_size", "batch_size must not be negative"}}
	}
	return nil
}

// validateSource is called only when some table has an endpoint.
func validateSource(s Source) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.BaseURL) == "" {
		return []Issue{{SeverityError, "source.base_url", "source.base_url is required when a table has an endpoint"}}
	}
	u, err := url.Parse(s.BaseURL)
	switch {
	case err == nil && u.Scheme == "file":
		if u.Path == "" {
			issues = append(issues, Issue{SeverityError, "source.base_url",
				fmt.Sprintf("source.base_url %q must name a directory", s.BaseURL)})
		}
	case err != nil || u.Scheme == "" || u.Host == "":
		issues = append(issues, Issue{SeverityError, "source.base_url",
			fmt.Sprintf("source.base_url %q must be an absolute URL", s.BaseURL)})
	}
	if (s.Identity == "") != (s.Password == "") {
		issues = append(issues, Issue{SeverityError, "source.identity",
			"source.identity and source.password must be set together"})
	}
	if s.Concurrency < 0 {
		issues = append(issues, Issue{SeverityError, "source.concurrency", "concurrency must not be negative"})
	}
	if s.TimeoutSeconds < 0 {
		issues = append(issues, Issue{SeverityError, "source.timeout_seconds", "timeout_seconds must not be negative"})
	}
	return issues
}

func validateTables(tables []Table, src Source) []Issue {
	if len(tables) == 0 {
		return []Issue{{SeverityError, "tables", "at least one table is required"}}
	}
	var issues []Issue
	seen := make(map[string]int, len(tables))
	needSource := false
	for i, t := range tables {
		path := fmt.Sprintf("tables[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			issues = append(issues, Issue{SeverityError, path + ".name", "name is required"})
		} else if prev, dup := seen[t.Name]; dup {
			issues = append(issues, Issue{SeverityError, path + ".name",
				fmt.Sprintf("duplicate table name %q (also tables[%d])", t.Name, prev)})
		} else {
			seen[t.Name] = i
		}
		if strings.TrimSpace(t.Staging) == "" {
			issues = append(issues, Issue{SeverityError, path + ".staging", "staging table is required"})
		}
		if strings.TrimSpace(t.Target) == "" {
			issues = append(issues, Issue{SeverityError, path + ".target", "target table is required"})
		}
		if t.Staging != "" && strings.EqualFold(t.Staging, t.Target) {
			issues = append(issues, Issue{SeverityError, path + ".target", "target must differ from staging"})
		}
		issues = append(issues, validateKey(path, t.Key)...)
		for col, typ := range t.Types {
			if _, err := record.ParseType(typ); err != nil {
				issues = append(issues, Issue{SeverityError, path + ".types." + col,
					fmt.Sprintf("unknown type %q (use timestamp, integer or float)", typ)})
			}
		}
		if t.Dedupe != "" && !dedupePolicies[strings.ToLower(t.Dedupe)] {
			issues = append(issues, Issue{SeverityError, path + ".dedupe",
				fmt.Sprintf("unknown dedupe policy %q (use keep-first, keep-last or most-complete)", t.Dedupe)})
		}
		if _, err := record.ParseNullKeyPolicy(t.NullKeys); err != nil {
			issues = append(issues, Issue{SeverityError, path + ".null_keys",
				fmt.Sprintf("unknown null key policy %q (use match or distinct)", t.NullKeys)})
		}
		if t.Endpoint != "" {
			needSource = true
		}
	}
	if needSource {
		issues = append(issues, validateSource(src)...)
	}
	return issues
}

func validateKey(path string, key []string) []Issue {
	if len(key) == 0 {
		return []Issue{{SeverityError, path + ".key_columns", "at least one key column is required"}}
	}
	var issues []Issue
	seen := make(map[string]bool, len(key))
	for i, k := range key {
		switch {
		case strings.TrimSpace(k) == "":
			issues = append(issues, Issue{SeverityError, fmt.Sprintf("%s.key_columns[%d]", path, i), "key column name is empty"})
		case seen[k]:
			issues = append(issues, Issue{SeverityWarning, fmt.Sprintf("%s.key_columns[%d]", path, i),
				fmt.Sprintf("key column %q listed twice", k)})
		}
		seen[k] = true
	}
	return issues
}

// CheckTables validates the table blocks on their own, ignoring endpoints
// and the store. It returns ErrMissingConfiguration wrapping the
// error-severity issues.
func CheckTables(tables []Table) error {
	local := make([]Table, len(tables))
	for i, t := range tables {
		t.Endpoint = ""
		local[i] = t
	}
	var errs []error
	for _, iss := range validateTables(local, Source{}) {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMissingConfiguration, errors.Join(errs...))
}

// CheckTable is CheckTables for a single table.
func CheckTable(t Table) error {
	if err := CheckTables([]Table{t}); err != nil {
		return fmt.Errorf("table %q: %w", t.Name, err)
	}
	return nil
}
