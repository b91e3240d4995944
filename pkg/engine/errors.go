package engine

import (
	"errors"
	"fmt"
)

// Common errors returned by the engine.
var (
	// ErrRateLimited is wrapped by failures caused by server throttling.
	ErrRateLimited = errors.New("rate limited by server")

	// ErrRunAborted is returned by Run when a rate-limited job aborts the
	// whole pool under the AbortOnRateLimit policy.
	ErrRunAborted = errors.New("run aborted")
)

// ConfigError reports invalid construction parameters. It is the only error
// raised before any job runs.
type ConfigError struct {
	Option string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Option, e.Reason)
}

// FetchError reports a network or protocol failure for one job, tagged with
// the protocol stage that failed (e.g. "token", "submit", "download",
// "timeout").
type FetchError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed at %s: %v", e.Stage, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a malformed or unexpected document shape for one
// job.
type ExtractionError struct {
	Identifier Identifier
	Err        error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %q: %v", e.Identifier, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// RateLimitedError reports that a job hit the server's rate limit and, under
// the active policy, was not resumed.
type RateLimitedError struct {
	Attempts int
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rate limited by server after %d attempts", e.Attempts)
	}
	return "rate limited by server"
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
