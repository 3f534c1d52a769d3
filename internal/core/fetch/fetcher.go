// Package fetch wraps the external extraction tool behind a uniform
// interface, normalizing its failures into the pipeline's error taxonomy.
package fetch

import (
	"context"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/job"
)

// ProgressFunc receives byte-level progress. total is 0 when unknown.
type ProgressFunc func(done, total int64)

// Request describes one retrieval.
type Request struct {
	JobID   string // names the per-job working directory
	URL     string
	Mode    job.Mode
	Quality job.Quality
}

// Result is a successful retrieval: the resolved artifact on disk.
type Result struct {
	Path  string
	Title string
	Size  int64
}

// Info is probe metadata, fetched without downloading.
type Info struct {
	Title string
	Size  int64 // estimated, 0 when the source does not report one
}

// Fetcher retrieves media from a source URL. Fetch blocks for the duration
// of the download and must run on a worker, never on the intake path.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, progress ProgressFunc, tok *cancel.Token) (Result, error)
	Probe(ctx context.Context, url string) (Info, error)
}
