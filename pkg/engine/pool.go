package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/chemharvest/chemharvest/pkg/throttle"
)

// Prometheus metrics for pool operations.
var (
	engineJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chemharvest_jobs_total",
		Help: "Total processed jobs by result",
	}, []string{"result"})

	engineJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chemharvest_job_duration_seconds",
		Help:    "Per-job pipeline duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 600},
	})

	engineRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chemharvest_runs_total",
		Help: "Total engine runs started",
	})
)

// Config holds the pool configuration.
type Config struct {
	// MaxWorkers is the number of jobs processed concurrently.
	MaxWorkers int

	// MaxBatchSize caps identifiers per job, within [1, 100].
	MaxBatchSize int

	// Throttle is the rate-limit resume policy applied per job.
	Throttle throttle.Policy

	// AbortOnRateLimit cancels the whole run when one job fails with a
	// rate-limited error. Off by default: a throttled job is isolated
	// like any other failure.
	AbortOnRateLimit bool
}

// DefaultConfig returns the defaults observed across the supported sources.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:   4,
		MaxBatchSize: 1,
		Throttle:     throttle.DefaultPolicy(),
	}
}

// Validate checks the configuration, returning a ConfigError on the first
// invalid option.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 {
		return &ConfigError{Option: "maxWorkers", Reason: "must be positive"}
	}
	if err := ValidateBatchSize(c.MaxBatchSize); err != nil {
		return err
	}
	if c.Throttle.AutoResume && c.Throttle.Wait <= 0 {
		return &ConfigError{Option: "waitMinutes", Reason: "must be positive when autoResume is set"}
	}
	if c.Throttle.MaxRetries < 0 {
		return &ConfigError{Option: "maxRetries", Reason: "must not be negative"}
	}
	return nil
}

// Pool runs fetch-extract pipelines for a sequence of jobs under a bounded
// concurrency limit. Failures are isolated per job; a failing job never
// aborts its siblings (unless AbortOnRateLimit is set and the failure is a
// throttle). The pool owns no state between runs.
type Pool struct {
	fetcher   Fetcher
	extractor Extractor
	detector  throttle.Detector
	cfg       Config
	logger    zerolog.Logger
	progress  ProgressFunc
}

// Option configures optional pool collaborators.
type Option func(*Pool)

// WithLogger injects the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithDetector sets the throttle marker detector for the source.
func WithDetector(d throttle.Detector) Option {
	return func(p *Pool) { p.detector = d }
}

// WithProgress registers a completion-event sink.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pool) { p.progress = fn }
}

// NewPool creates a pool for the given fetcher and extractor. The
// configuration is validated here so that an invalid pool never dispatches a
// job.
func NewPool(fetcher Fetcher, extractor Extractor, cfg Config, opts ...Option) (*Pool, error) {
	if fetcher == nil {
		return nil, &ConfigError{Option: "fetcher", Reason: "must not be nil"}
	}
	if extractor == nil {
		return nil, &ConfigError{Option: "extractor", Reason: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		fetcher:   fetcher,
		extractor: extractor,
		cfg:       cfg,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run processes all jobs and returns one outcome per dispatched job, in
// completion order. The returned error is non-nil only when the run was
// aborted by the AbortOnRateLimit policy or the context; partial outcomes
// are still returned in that case.
func (p *Pool) Run(ctx context.Context, jobs []Job) ([]Outcome, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	engineRunsTotal.Inc()
	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Logger()
	start := time.Now()

	logger.Info().
		Int("jobs", len(jobs)).
		Int("workers", p.cfg.MaxWorkers).
		Msg("Starting run")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.cfg.MaxWorkers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	queue := make(chan Job)
	results := make(chan Outcome, workers)

	go func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case queue <- job:
			case <-runCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(runCtx, logger, id, queue, results)
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(jobs))
	var abortErr error
	for out := range results {
		outcomes = append(outcomes, out)

		if out.Failed() {
			engineJobsTotal.WithLabelValues("failure").Inc()
			logger.Warn().
				Err(out.Err).
				Int("job", out.Job.Seq).
				Msg("Job failed")
		} else {
			engineJobsTotal.WithLabelValues("success").Inc()
		}

		if p.progress != nil {
			p.progress(len(outcomes), len(jobs))
		}

		if abortErr == nil && p.cfg.AbortOnRateLimit && errors.Is(out.Err, ErrRateLimited) {
			abortErr = fmt.Errorf("%w: job %d: %v", ErrRunAborted, out.Job.Seq, out.Err)
			cancel()
		}
	}

	logger.Info().
		Int("completed", len(outcomes)).
		Int("total", len(jobs)).
		Dur("duration", time.Since(start)).
		Msg("Run finished")

	if abortErr != nil {
		return outcomes, abortErr
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Collect is the single-call entry point: split identifiers into jobs, run
// the pool, and aggregate the outcomes into one ordered table.
func (p *Pool) Collect(ctx context.Context, ids []Identifier, columns ...string) (Table, Summary, error) {
	jobs := SplitBatches(ids, p.cfg.MaxBatchSize)
	outcomes, err := p.Run(ctx, jobs)
	table, summary := Aggregate(outcomes, columns...)
	return table, summary, err
}

func (p *Pool) worker(ctx context.Context, logger zerolog.Logger, id int, queue <-chan Job, results chan<- Outcome) {
	for job := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		out := p.process(ctx, logger, job)
		engineJobDuration.Observe(time.Since(start).Seconds())

		results <- out
	}

	logger.Debug().Int("worker_id", id).Msg("Worker done")
}

// process runs one job's pipeline: fetch, throttle loop, extract. Every
// error is captured in the outcome, never propagated.
func (p *Pool) process(ctx context.Context, logger zerolog.Logger, job Job) Outcome {
	retries := 0

	for {
		doc, err := p.fetcher.Fetch(ctx, job)
		if err != nil {
			return Outcome{Job: job, Err: err}
		}

		if doc.Throttled || p.detector.Match(doc.Body) {
			if !p.cfg.Throttle.AutoResume {
				return Outcome{Job: job, Err: &RateLimitedError{Attempts: retries + 1}}
			}
			if retries >= p.cfg.Throttle.MaxRetries {
				logger.Warn().
					Int("job", job.Seq).
					Int("retries", retries).
					Msg("Throttle retries exhausted")
				return Outcome{Job: job, Err: &RateLimitedError{Attempts: retries + 1}}
			}

			retries++
			logger.Warn().
				Int("job", job.Seq).
				Int("attempt", retries).
				Dur("wait", p.cfg.Throttle.Wait).
				Msg("Rate limit hit, suspending job")

			if err := p.cfg.Throttle.Sleep(ctx, p.detector.Source); err != nil {
				return Outcome{Job: job, Err: err}
			}
			continue
		}

		records, err := p.extractor.Extract(doc, job.Batch)
		if err != nil {
			var xe *ExtractionError
			if !errors.As(err, &xe) {
				err = &ExtractionError{Identifier: job.Batch[0], Err: err}
			}
			return Outcome{Job: job, Err: err}
		}

		return Outcome{Job: job, Records: records}
	}
}
