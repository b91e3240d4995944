// Package protox retrieves acute toxicity predictions from the ProTox web
// server. ProTox throttles aggressively and signals it with a marker text
// inside an otherwise successful page, so this source wires the throttle
// detector and supports the wait-and-resume policy.
package protox

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/chemharvest/chemharvest/pkg/engine"
	"github.com/chemharvest/chemharvest/pkg/scrape"
	"github.com/chemharvest/chemharvest/pkg/throttle"
)

// BaseURL is the ProTox similarity-based compound search endpoint.
const BaseURL = "https://tox.charite.de/protox3/index.php?site=compound_search_similarity"

// ThrottleMarker is the text ProTox embeds when the query limit is reached.
const ThrottleMarker = "You reached the limit of allowed queries"

// Columns is the stable result schema.
var Columns = []string{
	"SMILES",
	"Predicted LD50",
	"Toxicity Class",
	"Average Similarity",
	"Prediction Accuracy",
}

var labels = map[string]string{
	"Predicted LD50":      "Predicted LD50",
	"Toxicity Class":      "Predicted Toxicity Class",
	"Average Similarity":  "Average similarity",
	"Prediction Accuracy": "Prediction accuracy",
}

// Scraper drives the ProTox compound search.
type Scraper struct {
	client   *http.Client
	conv     scrape.MolBlocker
	baseURL  string
	cfg      engine.Config
	logger   zerolog.Logger
	progress engine.ProgressFunc
}

// Option configures the scraper.
type Option func(*Scraper)

// WithHTTPClient injects the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scraper) { s.client = client }
}

// WithBaseURL overrides the server URL (used by tests).
func WithBaseURL(u string) Option {
	return func(s *Scraper) { s.baseURL = u }
}

// WithMolBlocker injects the structure-to-molblock converter.
func WithMolBlocker(conv scrape.MolBlocker) Option {
	return func(s *Scraper) { s.conv = conv }
}

// WithLogger injects the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scraper) { s.logger = logger }
}

// WithConfig overrides the engine configuration, including the auto-resume
// policy.
func WithConfig(cfg engine.Config) Option {
	return func(s *Scraper) { s.cfg = cfg }
}

// WithProgress registers a completion-event sink.
func WithProgress(fn engine.ProgressFunc) Option {
	return func(s *Scraper) { s.progress = fn }
}

// New creates a ProTox scraper. Auto-resume is off by default; enable it
// through WithConfig to wait out the server's query window instead of
// failing throttled jobs.
func New(opts ...Option) *Scraper {
	s := &Scraper{
		client:  scrape.NewHTTPClient(),
		conv:    scrape.PassThrough{},
		baseURL: BaseURL,
		cfg:     engine.DefaultConfig(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run retrieves toxicity predictions for the given SMILES.
func (s *Scraper) Run(ctx context.Context, smiles ...string) (engine.Table, engine.Summary, error) {
	ids := make([]engine.Identifier, len(smiles))
	for i, sm := range smiles {
		ids[i] = engine.Identifier(sm)
	}

	cfg := s.cfg
	cfg.MaxBatchSize = 1 // one structure per similarity search

	pool, err := engine.NewPool(
		engine.FetcherFunc(s.fetch),
		engine.ExtractorFunc(extract),
		cfg,
		engine.WithLogger(s.logger.With().Str("source", "protox").Logger()),
		engine.WithDetector(throttle.Detector{Source: "protox", Marker: ThrottleMarker}),
		engine.WithProgress(s.progress),
	)
	if err != nil {
		return engine.Table{}, engine.Summary{}, err
	}

	return pool.Collect(ctx, ids, Columns...)
}

func (s *Scraper) fetch(ctx context.Context, job engine.Job) (*engine.Document, error) {
	smiles := string(job.Batch[0])

	molblock, err := s.conv.MolBlock(smiles)
	if err != nil {
		return nil, &engine.FetchError{Stage: "molblock", Err: err}
	}

	form := url.Values{
		"smilesString": {molblock},
		"defaultName":  {"Tamoxifen"},
		"smiles":       {smiles},
		"pubchem_name": {""},
	}

	return scrape.PostForm(ctx, s.client, "submit", s.baseURL, form, nil)
}

func extract(doc *engine.Document, batch engine.Batch) ([]engine.Record, error) {
	page, err := scrape.Parse(doc)
	if err != nil {
		return nil, err
	}

	record := engine.Record{
		Identifier: batch[0],
		Fields:     map[string]string{"SMILES": string(batch[0])},
	}

	found := false
	for field, label := range labels {
		if v, ok := headingValue(page, label); ok {
			record.Fields[field] = v
			found = true
		}
	}
	if !found {
		// The prediction block is absent when ProTox could not process
		// the structure; that is a miss, not an error.
		return nil, nil
	}

	return []engine.Record{record}, nil
}

// headingValue finds the <h1> containing label and returns the text after
// the last colon, which is how ProTox renders "Predicted LD50: 1190mg/kg".
func headingValue(page *goquery.Document, label string) (string, bool) {
	var value string
	var found bool

	page.Find("h1").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if !strings.Contains(text, label) {
			return true
		}
		parts := strings.Split(text, ":")
		value = strings.TrimSpace(parts[len(parts)-1])
		found = true
		return false
	})

	return value, found
}
