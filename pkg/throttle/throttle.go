// Package throttle implements server rate-limit detection and the
// wait-then-retry resume policy. Sources that throttle by embedding a marker
// text in an otherwise successful response (instead of returning 429) are
// recognized by matching that marker against the raw document body.
package throttle

import (
	"bytes"
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for throttle handling.
var (
	throttleDetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chemharvest_throttle_detections_total",
		Help: "Total throttle signals detected by source",
	}, []string{"source"})

	throttleWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chemharvest_throttle_wait_seconds",
		Help:    "Backoff wait duration after a throttle signal by source",
		Buckets: []float64{1, 5, 30, 60, 300, 600, 1200},
	}, []string{"source"})
)

// Detector recognizes a source's throttle marker in a response body.
// The zero value never matches, for sources without a body marker.
type Detector struct {
	// Source names the data source in metrics.
	Source string

	// Marker is the literal text the server embeds when the caller
	// exceeded its allowed request rate.
	Marker string
}

// Match reports whether body carries the throttle marker.
func (d Detector) Match(body []byte) bool {
	if d.Marker == "" {
		return false
	}
	if !bytes.Contains(body, []byte(d.Marker)) {
		return false
	}
	throttleDetectionsTotal.WithLabelValues(d.Source).Inc()
	return true
}

// Policy decides what happens after a throttle signal.
type Policy struct {
	// AutoResume suspends the throttled job and re-fetches it after Wait.
	// When false the job fails immediately with a rate-limited error.
	AutoResume bool

	// Wait is the suspension before each re-fetch.
	Wait time.Duration

	// MaxRetries bounds the number of re-fetches per job. The original
	// services lift their limits within minutes, so a small bound is
	// enough to ride out one window without retrying forever.
	MaxRetries int
}

// DefaultPolicy mirrors the observed source defaults: no auto-resume, a
// 10 minute wait when enabled, at most 3 re-fetches.
func DefaultPolicy() Policy {
	return Policy{
		AutoResume: false,
		Wait:       10 * time.Minute,
		MaxRetries: 3,
	}
}

// Sleep suspends the calling worker for p.Wait. It returns early with the
// context error when ctx is cancelled, so an aborted run never sits out a
// full backoff window. Only the issuing worker blocks; sibling workers keep
// running.
func (p Policy) Sleep(ctx context.Context, source string) error {
	throttleWaitSeconds.WithLabelValues(source).Observe(p.Wait.Seconds())

	timer := time.NewTimer(p.Wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
