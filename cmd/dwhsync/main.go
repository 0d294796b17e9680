// Command dwhsync runs a warehouse sync job: it pulls each configured feed
// into its staging table, then cleans every staging snapshot and merges it
// into the target table.
//
//	dwhsync -config configs/jobs/spacetrack.yaml -phase all
//	dwhsync -config job.json -validate
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dwhsync/internal/config"
	"dwhsync/internal/extract"
	"dwhsync/internal/logging"
	"dwhsync/internal/metrics"
	"dwhsync/internal/metrics/datadog"
	"dwhsync/internal/metrics/prompush"
	"dwhsync/internal/reconcile"
	"dwhsync/internal/stage"
	"dwhsync/internal/storage"

	// register all backends with the storage factory; the job picks one.
	_ "dwhsync/internal/storage/all"
)

// Phases accepted by -phase.
const (
	phaseStage  = "stage"
	phaseTarget = "target"
	phaseAll    = "all"
)

type options struct {
	configPath     string
	phase          string
	validate       bool
	metricsBackend string
	pushGatewayURL string
	dogstatsdAddr  string
	verbose        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("dwhsync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "configs/jobs/spacetrack.yaml", "job file (JSON or YAML)")
	fs.StringVar(&o.phase, "phase", phaseAll, "phase to run: stage, target or all")
	fs.BoolVar(&o.validate, "validate", false, "validate the job file and exit")
	fs.StringVar(&o.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog (env METRICS_BACKEND)")
	fs.StringVar(&o.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	fs.StringVar(&o.dogstatsdAddr, "dogstatsd-addr", "", "DogStatsD address (env DOGSTATSD_ADDR)")
	fs.BoolVar(&o.verbose, "v", false, "enable verbose logs")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	switch o.phase {
	case phaseStage, phaseTarget, phaseAll:
	default:
		return o, fmt.Errorf("unknown -phase %q (use stage, target or all)", o.phase)
	}
	return o, nil
}

// run is main without the process exit, so tests can drive it.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	// Validation prints every issue, warnings included, before Load refuses
	// the file.
	if o.validate {
		return validateOnly(o.configPath, stderr)
	}

	log, err := logging.New(o.verbose)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	job, err := config.Load(o.configPath)
	if err != nil {
		log.Error("load config", zap.String("path", o.configPath), zap.Error(err))
		return 1
	}

	flush := setupMetrics(o, job.Name, log)
	defer flush()

	start := time.Now()
	if err := runJob(ctx, job, o.phase, log); err != nil {
		log.Error("job finished with errors", zap.String("job", job.Name), zap.Error(err),
			zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
		return 1
	}
	log.Info("job completed", zap.String("job", job.Name), zap.String("phase", o.phase),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
	return 0
}

func validateOnly(path string, stderr io.Writer) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	job, err := decode(path, raw)
	if err != nil {
		fmt.Fprintf(stderr, "decode config: %v\n", err)
		return 1
	}
	job.ApplyDefaults()
	hasError := false
	for _, iss := range config.Validate(job) {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", path)
		return 1
	}
	fmt.Fprintf(stderr, "configuration is valid: %s\n", path)
	return 0
}

func decode(path string, raw []byte) (config.Job, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.DecodeYAML(raw)
	default:
		return config.DecodeJSON(raw)
	}
}

// runJob opens the store once and runs the requested phases on it. The stage
// phase failing for some tables does not stop the target phase: tables whose
// fetch failed still hold their previous snapshot.
func runJob(ctx context.Context, job config.Job, phase string, log *zap.Logger) error {
	repo, err := storage.New(ctx, storage.Config{
		Kind:          job.Store.Kind,
		DSN:           job.Store.DSN,
		ReservedWords: job.Cleaning.ReservedWords,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	var stageErr error
	if phase == phaseStage || phase == phaseAll {
		stageErr = runStage(ctx, repo, job, log)
		if phase == phaseStage {
			return stageErr
		}
	}
	_, targetErr := reconcile.Run(ctx, repo, job, log)
	switch {
	case stageErr != nil && targetErr != nil:
		return fmt.Errorf("stage: %w; target: %w", stageErr, targetErr)
	case stageErr != nil:
		return fmt.Errorf("stage: %w", stageErr)
	case targetErr != nil:
		return fmt.Errorf("target: %w", targetErr)
	}
	return nil
}

func runStage(ctx context.Context, repo storage.Repository, job config.Job, log *zap.Logger) error {
	eps := extract.Endpoints(job)
	if len(eps) == 0 {
		log.Info("stage: no table has an endpoint; nothing to fetch")
		return nil
	}
	client, err := extract.Connect(ctx, job.Source)
	if err != nil {
		return err
	}
	fetched := extract.Fetch(ctx, client, eps, job.Source.Concurrency, log)
	_, err = stage.Run(ctx, repo, job, fetched, log)
	return err
}

// setupMetrics installs the selected backend and returns its flush func.
// Backend choice: flag, then env, then none. A backend that fails to start
// leaves metrics disabled rather than failing the job.
func setupMetrics(o options, jobName string, log *zap.Logger) func() {
	name := firstNonEmpty(o.metricsBackend, os.Getenv("METRICS_BACKEND"), "none")
	nop := func() {}

	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "none":
		log.Debug("metrics disabled")
		return nop
	case "pushgateway", "prompush":
		url := firstNonEmpty(o.pushGatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err = prompush.NewBackend(jobName, url)
		log = log.With(zap.String("url", url))
	case "datadog", "dogstatsd":
		addr := firstNonEmpty(o.dogstatsdAddr, os.Getenv("DOGSTATSD_ADDR"), "127.0.0.1:8125")
		b, err = datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "dwh.", GlobalTags: []string{"job:" + jobName}})
		log = log.With(zap.String("addr", addr))
	default:
		log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", name))
		return nop
	}
	if err != nil {
		log.Warn("metrics backend failed to start; metrics disabled", zap.String("backend", name), zap.Error(err))
		return nop
	}
	metrics.SetBackend(b)
	log.Info("metrics enabled", zap.String("backend", name))
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush", zap.Error(err))
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
