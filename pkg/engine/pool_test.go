package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chemharvest/chemharvest/pkg/throttle"
)

func echoExtractor(doc *Document, batch Batch) ([]Record, error) {
	records := make([]Record, len(batch))
	for i, id := range batch {
		records[i] = Record{
			Identifier: id,
			Fields:     map[string]string{"body": string(doc.Body)},
		}
	}
	return records, nil
}

func TestNewPoolValidation(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		return &Document{StatusCode: 200}, nil
	})
	extract := ExtractorFunc(echoExtractor)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero workers", Config{MaxWorkers: 0, MaxBatchSize: 1}},
		{"zero batch size", Config{MaxWorkers: 1, MaxBatchSize: 0}},
		{"batch size over limit", Config{MaxWorkers: 1, MaxBatchSize: 101}},
		{"auto-resume without wait", Config{
			MaxWorkers:   1,
			MaxBatchSize: 1,
			Throttle:     throttle.Policy{AutoResume: true},
		}},
		{"negative retries", Config{
			MaxWorkers:   1,
			MaxBatchSize: 1,
			Throttle:     throttle.Policy{MaxRetries: -1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(fetch, extract, tt.cfg)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}

	t.Run("nil fetcher", func(t *testing.T) {
		if _, err := NewPool(nil, extract, DefaultConfig()); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("nil extractor", func(t *testing.T) {
		if _, err := NewPool(fetch, nil, DefaultConfig()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestPoolEmptyRun(t *testing.T) {
	var calls int32
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		atomic.AddInt32(&calls, 1)
		return &Document{StatusCode: 200}, nil
	})

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	table, summary, err := pool.Collect(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !table.Empty() || summary.Total != 0 {
		t.Errorf("expected empty result, got %d rows, summary %+v", len(table.Rows), summary)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected no fetch calls, got %d", calls)
	}
}

func TestPoolFailureIsolation(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		if job.Batch[0] == "bad" {
			return nil, &FetchError{Stage: "submit", Err: errors.New("connection reset")}
		}
		return &Document{Body: []byte("ok"), StatusCode: 200}, nil
	})

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ids := []Identifier{"a", "b", "bad", "c", "d"}
	table, summary, err := pool.Collect(context.Background(), ids, "body")
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if summary.Succeeded != 4 || summary.Failed != 1 || summary.Total != 5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(table.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(table.Rows))
	}
	for _, row := range table.Rows {
		if row.Identifier == "bad" {
			t.Error("failed identifier leaked into the table")
		}
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Batch[0] != "bad" {
		t.Errorf("unexpected failure details: %+v", summary.Failures)
	}
}

func TestPoolRunsJobsConcurrently(t *testing.T) {
	const jobDelay = 100 * time.Millisecond

	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		time.Sleep(jobDelay)
		return &Document{Body: []byte("ok"), StatusCode: 200}, nil
	})

	cfg := DefaultConfig()
	cfg.MaxWorkers = 4

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), cfg)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, summary, err := pool.Collect(context.Background(), []Identifier{"a", "b", "c", "d"})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	// Serial execution would take 4 * jobDelay.
	if elapsed > 3*jobDelay {
		t.Errorf("4 jobs on 4 workers took %v, expected roughly one job delay", elapsed)
	}
}

func TestPoolProgressEvents(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		return &Document{Body: []byte("ok"), StatusCode: 200}, nil
	})

	var mu sync.Mutex
	var completed []int
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 3 {
			t.Errorf("expected total 3, got %d", total)
		}
		completed = append(completed, done)
	}

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), DefaultConfig(), WithProgress(progress))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := pool.Collect(context.Background(), []Identifier{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(completed))
	}
	for i, done := range completed {
		if done != i+1 {
			t.Errorf("event %d: expected completed %d, got %d", i, i+1, done)
		}
	}
}

func TestPoolThrottleResume(t *testing.T) {
	var calls int32
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &Document{StatusCode: 429, Throttled: true}, nil
		}
		return &Document{Body: []byte("ok"), StatusCode: 200}, nil
	})

	cfg := DefaultConfig()
	cfg.Throttle = throttle.Policy{AutoResume: true, Wait: 5 * time.Millisecond, MaxRetries: 3}

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), cfg)
	if err != nil {
		t.Fatal(err)
	}

	_, summary, err := pool.Collect(context.Background(), []Identifier{"a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("expected resumed job to succeed: %+v", summary)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 fetch calls, got %d", got)
	}
}

func TestPoolThrottleRetriesExhausted(t *testing.T) {
	var calls int32
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		atomic.AddInt32(&calls, 1)
		return &Document{StatusCode: 429, Throttled: true}, nil
	})

	cfg := DefaultConfig()
	cfg.Throttle = throttle.Policy{AutoResume: true, Wait: time.Millisecond, MaxRetries: 2}

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), cfg)
	if err != nil {
		t.Fatal(err)
	}

	outcomes, err := pool.Run(context.Background(), []Job{{Seq: 0, Batch: Batch{"a"}}})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Failed() {
		t.Fatalf("expected one failed outcome, got %+v", outcomes)
	}
	if !errors.Is(outcomes[0].Err, ErrRateLimited) {
		t.Errorf("expected rate-limited error, got %v", outcomes[0].Err)
	}
	// Initial attempt plus MaxRetries re-fetches.
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 fetch calls, got %d", got)
	}
}

func TestPoolThrottleNoResumeFailsImmediately(t *testing.T) {
	var calls int32
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		atomic.AddInt32(&calls, 1)
		return &Document{StatusCode: 429, Throttled: true}, nil
	})

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	outcomes, err := pool.Run(context.Background(), []Job{{Seq: 0, Batch: Batch{"a"}}})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if !errors.Is(outcomes[0].Err, ErrRateLimited) {
		t.Fatalf("expected rate-limited error, got %v", outcomes[0].Err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single fetch call, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Error("job waited instead of failing immediately")
	}
}

func TestPoolAbortOnRateLimit(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		if job.Seq == 0 {
			return &Document{StatusCode: 429, Throttled: true}, nil
		}
		return &Document{Body: []byte("ok"), StatusCode: 200}, nil
	})

	cfg := DefaultConfig()
	cfg.MaxWorkers = 1
	cfg.AbortOnRateLimit = true

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), cfg)
	if err != nil {
		t.Fatal(err)
	}

	jobs := SplitBatches([]Identifier{"a", "b", "c", "d"}, 1)
	outcomes, err := pool.Run(context.Background(), jobs)
	if !errors.Is(err, ErrRunAborted) {
		t.Fatalf("expected run aborted, got %v", err)
	}
	if len(outcomes) == 0 {
		t.Fatal("expected partial outcomes from the aborted run")
	}
}

func TestPoolContextCancelDuringWait(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		return &Document{StatusCode: 429, Throttled: true}, nil
	})

	cfg := DefaultConfig()
	cfg.Throttle = throttle.Policy{AutoResume: true, Wait: time.Minute, MaxRetries: 3}

	pool, err := NewPool(fetch, ExtractorFunc(echoExtractor), cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	outcomes, err := pool.Run(ctx, []Job{{Seq: 0, Batch: Batch{"a"}}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled run sat out the backoff window")
	}
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected the waiting job to fail with the context error, got %+v", outcomes)
	}
}

func TestPoolWrapsExtractionErrors(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, job Job) (*Document, error) {
		return &Document{Body: []byte("garbage"), StatusCode: 200}, nil
	})
	extract := ExtractorFunc(func(doc *Document, batch Batch) ([]Record, error) {
		return nil, fmt.Errorf("unexpected page shape")
	})

	pool, err := NewPool(fetch, extract, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	outcomes, err := pool.Run(context.Background(), []Job{{Seq: 0, Batch: Batch{"a"}}})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	var xe *ExtractionError
	if !errors.As(outcomes[0].Err, &xe) {
		t.Fatalf("expected ExtractionError, got %v", outcomes[0].Err)
	}
	if xe.Identifier != "a" {
		t.Errorf("expected identifier tag, got %q", xe.Identifier)
	}
}
