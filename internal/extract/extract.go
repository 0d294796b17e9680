// Package extract pulls each table's snapshot from the upstream API and
// decodes it into a record.Set for the staging load.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dwhsync/internal/config"
	"dwhsync/internal/datasource/file"
	"dwhsync/internal/datasource/httpds"
	csvparser "dwhsync/internal/parser/csv"
	jsonparser "dwhsync/internal/parser/json"
	"dwhsync/internal/record"
)

// Getter fetches a path relative to the source's base URL.
// *httpds.Client and *file.Local implement it.
type Getter interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Endpoint names the table a path feeds.
type Endpoint struct {
	Table string
	Path  string
}

// Result is one endpoint's outcome. Set is non-nil when Err is nil; an
// empty Set means the API returned no data.
type Result struct {
	Table   string
	Set     *record.Set
	Bytes   int
	Elapsed time.Duration
	Err     error
}

// Connect builds a Getter for src. A file:// base URL reads saved snapshots
// from disk; anything else opens an HTTP session, logging in first when an
// identity is set.
func Connect(ctx context.Context, src config.Source) (Getter, error) {
	if strings.HasPrefix(strings.ToLower(src.BaseURL), "file:") {
		l, err := file.FromURL(src.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		return l, nil
	}
	c, err := httpds.NewClient(httpds.Config{
		BaseURL:    src.BaseURL,
		Timeout:    time.Duration(src.TimeoutSeconds) * time.Second,
		MaxRetries: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if src.Identity == "" {
		return c, nil
	}
	if err := c.Login(ctx, src.LoginPath, src.Identity, src.Password); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return c, nil
}

// Endpoints lists the tables of job that have an endpoint, in job order.
func Endpoints(job config.Job) []Endpoint {
	var out []Endpoint
	for _, t := range job.Tables {
		if t.Endpoint != "" {
			out = append(out, Endpoint{Table: t.Name, Path: t.Endpoint})
		}
	}
	return out
}

// Fetch retrieves every endpoint with at most limit requests in flight and
// returns one Result per endpoint in input order. A failed endpoint does not
// stop the others; its error is carried in its Result.
func Fetch(ctx context.Context, g Getter, eps []Endpoint, limit int, log *zap.Logger) []Result {
	if log == nil {
		log = zap.NewNop()
	}
	if limit <= 0 {
		limit = 1
	}
	results := make([]Result, len(eps))

	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, ep := range eps {
		eg.Go(func() error {
			results[i] = fetchOne(ctx, g, ep)
			r := results[i]
			if r.Err != nil {
				log.Warn("fetch failed", zap.String("table", ep.Table), zap.String("path", ep.Path),
					zap.Duration("elapsed", r.Elapsed), zap.Error(r.Err))
				return nil
			}
			log.Info("fetched",
				zap.String("table", ep.Table),
				zap.Int("rows", r.Set.Len()),
				zap.String("size", humanize.Bytes(uint64(r.Bytes))),
				zap.Duration("elapsed", r.Elapsed))
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// fetchOne reports Elapsed on every path, failures included.
func fetchOne(ctx context.Context, g Getter, ep Endpoint) (res Result) {
	start := time.Now()
	res.Table = ep.Table
	defer func() { res.Elapsed = time.Since(start) }()
	body, err := g.Get(ctx, ep.Path)
	if err != nil {
		res.Err = fmt.Errorf("extract %s: %w", ep.Table, err)
		return res
	}
	res.Bytes = len(body)
	set, err := decoderFor(ep.Path)(bytes.NewReader(body))
	if err != nil {
		res.Err = fmt.Errorf("extract %s: %w", ep.Table, err)
		return res
	}
	res.Set = set
	return res
}

// decoderFor picks the snapshot format from the endpoint: Space-Track
// queries end in /format/<fmt>, saved files carry an extension. JSON is the
// default.
func decoderFor(path string) func(io.Reader) (*record.Set, error) {
	p := strings.ToLower(path)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if strings.HasSuffix(p, "/format/csv") || strings.HasSuffix(p, ".csv") {
		return csvparser.DecodeSet
	}
	return jsonparser.DecodeSet
}
