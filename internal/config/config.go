// Package config defines the job file for dwhsync: where the store is, how to
// reach the upstream feeds, and one block per table naming its staging
// source, target, business key and column types.
//
// A job file is JSON or YAML (chosen by extension). Values may reference the
// environment as ${NAME}, which keeps DSNs and passwords out of the file.
//
// Example (YAML, trimmed):
//
//	name: spacetrack
//	store:
//	  kind: mssql
//	  dsn: ${DWH_DSN}
//	  auto_create: true
//	source:
//	  base_url: https://www.space-track.org
//	  login_path: /ajaxauth/login
//	  identity: ${ST_USER}
//	  password: ${ST_PASS}
//	tables:
//	  - name: latest_orbits
//	    endpoint: /basicspacedata/query/class/gp/format/json
//	    staging: DWH_STG.latest_orbits
//	    target: DWH.latest_orbits
//	    key_columns: [NORAD_CAT_ID]
//	    types: { EPOCH: timestamp, NORAD_CAT_ID: integer, MEAN_MOTION: float }
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"dwhsync/internal/record"
)

// ErrMissingConfiguration is returned by Load and Check when a required
// parameter is absent or invalid. It wraps the individual issues.
var ErrMissingConfiguration = errors.New("missing configuration")

// Defaults applied by Load.
const (
	DefaultBatchSize   = 1000
	DefaultLoginPath   = "/ajaxauth/login"
	DefaultTimeoutSecs = 60
	DefaultConcurrency = 2
)

// Job is the top-level object decoded from a job file.
type Job struct {
	// Name labels logs and metrics.
	Name     string   `json:"name" yaml:"name"`
	Store    Store    `json:"store" yaml:"store"`
	Source   Source   `json:"source" yaml:"source"`
	Cleaning Cleaning `json:"cleaning" yaml:"cleaning"`
	Runtime  Runtime  `json:"runtime" yaml:"runtime"`
	Tables   []Table  `json:"tables" yaml:"tables"`
}

// Store selects the backend (storage.Config.Kind) and how to reach it.
type Store struct {
	// Kind is one of "mssql", "postgres", "sqlite".
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`

	// AutoCreate creates missing staging tables (all text) before a load and
	// missing target tables (typed, keyed) before a merge.
	AutoCreate bool `json:"auto_create" yaml:"auto_create"`
}

// Source configures the upstream HTTP API used by the stage phase.
type Source struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	LoginPath string `json:"login_path" yaml:"login_path"`
	Identity  string `json:"identity" yaml:"identity"`
	Password  string `json:"password" yaml:"password"`

	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
	// Concurrency bounds parallel endpoint fetches.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// Cleaning overrides the cleaning vocabulary.
type Cleaning struct {
	// MissingTokens replaces the default "no data" token set when non-empty.
	MissingTokens []string `json:"missing_tokens" yaml:"missing_tokens"`
	// ReservedWords are delimited in generated SQL in addition to FILE,
	// CURRENT and the dialect's keywords.
	ReservedWords []string `json:"reserved_words" yaml:"reserved_words"`
}

// Runtime controls batching.
type Runtime struct {
	// BatchSize is the number of rows per staging CopyFrom call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Table fully parameterizes one table's run.
type Table struct {
	Name string `json:"name" yaml:"name"`

	// Endpoint is the path, relative to source.base_url, returning the
	// table's JSON snapshot. Tables without an endpoint are not staged.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	Staging string   `json:"staging" yaml:"staging"`
	Target  string   `json:"target" yaml:"target"`
	Key     []string `json:"key_columns" yaml:"key_columns"`

	// Types is the Column Type Map: column -> timestamp | integer | float.
	Types map[string]string `json:"types" yaml:"types"`

	// Dedupe is keep-first (default), keep-last or most-complete.
	Dedupe string `json:"dedupe" yaml:"dedupe"`
	// NullKeys is match (default) or distinct.
	NullKeys string `json:"null_keys" yaml:"null_keys"`
}

// ColumnTypes parses Types.
func (t Table) ColumnTypes() (map[string]record.Type, error) {
	out := make(map[string]record.Type, len(t.Types))
	for col, s := range t.Types {
		typ, err := record.ParseType(s)
		if err != nil {
			return nil, fmt.Errorf("table %s: column %s: %w", t.Name, col, err)
		}
		out[col] = typ
	}
	return out, nil
}

// NullKeyPolicy parses NullKeys.
func (t Table) NullKeyPolicy() (record.NullKeyPolicy, error) {
	return record.ParseNullKeyPolicy(t.NullKeys)
}

// Load reads a job file, expands ${NAME} references, applies defaults and
// checks the result. Files ending in .yaml or .yml are YAML; anything else
// is JSON.
func Load(path string) (Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var job Job
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		job, err = DecodeYAML(raw)
	default:
		job, err = DecodeJSON(raw)
	}
	if err != nil {
		return Job{}, fmt.Errorf("config: %s: %w", path, err)
	}
	job.ApplyDefaults()
	if err := Check(job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// DecodeJSON expands environment references in raw and decodes it. Unknown
// fields are rejected so typos surface early.
func DecodeJSON(raw []byte) (Job, error) {
	var job Job
	dec := json.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("decode json: %w", err)
	}
	return job, nil
}

// DecodeYAML expands environment references in raw and decodes it.
func DecodeYAML(raw []byte) (Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("decode yaml: %w", err)
	}
	return job, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} with the value of the environment variable NAME
// (empty when unset). A bare $ is left alone, so passwords may contain it.
func ExpandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ApplyDefaults fills zero values with the package defaults.
func (j *Job) ApplyDefaults() {
	if j.Runtime.BatchSize == 0 {
		j.Runtime.BatchSize = DefaultBatchSize
	}
	if j.Source.LoginPath == "" {
		j.Source.LoginPath = DefaultLoginPath
	}
	if j.Source.TimeoutSeconds == 0 {
		j.Source.TimeoutSeconds = DefaultTimeoutSecs
	}
	if j.Source.Concurrency == 0 {
		j.Source.Concurrency = DefaultConcurrency
	}
	j.Store.Kind = strings.ToLower(strings.TrimSpace(j.Store.Kind))
	for i := range j.Tables {
		t := &j.Tables[i]
		if t.Dedupe == "" {
			t.Dedupe = "keep-first"
		}
		if t.NullKeys == "" {
			t.NullKeys = string(record.NullKeysMatch)
		}
	}
}

// Check validates j and returns ErrMissingConfiguration wrapping every
// error-severity issue, or nil. Warnings do not fail the check.
func Check(j Job) error {
	var errs []error
	for _, iss := range Validate(j) {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMissingConfiguration, errors.Join(errs...))
}
