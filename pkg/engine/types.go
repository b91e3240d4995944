// Package engine implements the shared retrieval pipeline used by every
// compound data source: batching identifiers into jobs, dispatching them
// through a bounded worker pool, and aggregating per-job results into one
// ordered table.
package engine

import (
	"context"
	"net/http"
)

// Identifier is an opaque input key for one chemical compound, typically a
// SMILES string. It is supplied by the caller and never modified.
type Identifier string

// Batch is an ordered, non-empty slice of identifiers dispatched as one job.
type Batch []Identifier

// Job is one unit of dispatch: a batch of identifiers (size 1 for sources
// that operate per identifier) plus its position in the input sequence.
type Job struct {
	// Seq is the zero-based position of this job in the batch sequence.
	// Aggregation sorts by Seq so results are deterministic regardless of
	// completion order.
	Seq int

	// Batch holds the identifiers submitted in this job.
	Batch Batch
}

// Document is the unparsed server response for one job.
type Document struct {
	// Body is the raw response body.
	Body []byte

	// StatusCode is the HTTP status of the final response.
	StatusCode int

	// Throttled is set by the fetcher when the transport layer already
	// signalled rate limiting (e.g. HTTP 429). Marker-based detection on
	// Body happens separately in the throttle policy.
	Throttled bool

	// Header carries the response headers of the final request.
	Header http.Header
}

// Record is one extracted row: a field-name to value mapping tagged with the
// identifier it belongs to. A missing key means the field is null.
type Record struct {
	Identifier Identifier
	Fields     map[string]string
}

// Field returns the value for name and whether it is present.
func (r Record) Field(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Outcome is the result of exactly one dispatched job: either the extracted
// records or the error that failed it. A job contributes to exactly one of
// the two summary buckets.
type Outcome struct {
	Job     Job
	Records []Record
	Err     error
}

// Failed reports whether the job produced an error instead of records.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Fetcher performs one network round trip for one job. Implementations may
// run multi-step protocols (token acquisition, submit, download) inside a
// single Fetch call; those steps are sequential and not retried
// independently. Fetchers must be safe for concurrent use across jobs.
type Fetcher interface {
	Fetch(ctx context.Context, job Job) (*Document, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, job Job) (*Document, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, job Job) (*Document, error) {
	return f(ctx, job)
}

// Extractor turns a raw document into zero or more records. Implementations
// must be pure functions of the document: no I/O, no shared mutable state.
// A document that indicates "no match" yields an empty slice and a nil
// error; only malformed documents return an error.
type Extractor interface {
	Extract(doc *Document, batch Batch) ([]Record, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(doc *Document, batch Batch) ([]Record, error)

// Extract calls f.
func (f ExtractorFunc) Extract(doc *Document, batch Batch) ([]Record, error) {
	return f(doc, batch)
}

// ProgressFunc receives one completion event per finished job. It has no
// effect on correctness and must not block for long; it is called from the
// collector goroutine, never concurrently with itself.
type ProgressFunc func(completed, total int)
