// Package molsoft retrieves molecular property predictions (LogP, LogS,
// PSA, BBB score and related parameters) from the Molsoft property server.
// Submissions go one identifier per job.
package molsoft

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/chemharvest/chemharvest/pkg/engine"
	"github.com/chemharvest/chemharvest/pkg/scrape"
)

// BaseURL is the Molsoft molecular properties endpoint.
const BaseURL = "https://www.molsoft.com/mprop/"

// Columns is the stable result schema.
var Columns = []string{
	"SMILES",
	"Molecular formula",
	"Molecular weight",
	"HBA",
	"HBD",
	"MolLogP",
	"MolLogS",
	"MolPSA",
	"MolVol",
	"pKa",
	"BBB Score",
	"Number of stereo centers",
}

var (
	logSExpr = regexp.MustCompile(`([-\d.]+)\s+\(in Log`)
	bbbExpr  = regexp.MustCompile(`^\s*([-\d.]+)`)
)

// Scraper drives the Molsoft property form.
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

// WithConfig overrides the engine configuration.
func WithConfig(cfg engine.Config) Option {
	return func(s *Scraper) { s.cfg = cfg }
}

// WithProgress registers a completion-event sink.
func WithProgress(fn engine.ProgressFunc) Option {
	return func(s *Scraper) { s.progress = fn }
}

// New creates a Molsoft scraper with 4 workers by default.
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

// Run retrieves property data for the given SMILES and returns the merged
// table plus run counts. Failed identifiers are absent from the table and
// listed in the summary.
func (s *Scraper) Run(ctx context.Context, smiles ...string) (engine.Table, engine.Summary, error) {
	ids := make([]engine.Identifier, len(smiles))
	for i, sm := range smiles {
		ids[i] = engine.Identifier(sm)
	}

	cfg := s.cfg
	cfg.MaxBatchSize = 1 // Molsoft takes one structure per submission

	pool, err := engine.NewPool(
		engine.FetcherFunc(s.fetch),
		engine.ExtractorFunc(extract),
		cfg,
		engine.WithLogger(s.logger.With().Str("source", "molsoft").Logger()),
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
		"p":       {""},
		"sm":      {""},
		"jme_mol": {molblock},
		"act":     {"Search"},
		"Calc":    {"Calculate Properties"},
	}

	return scrape.PostForm(ctx, s.client, "submit", s.baseURL, form, nil)
}

func extract(doc *engine.Document, batch engine.Batch) ([]engine.Record, error) {
	page, err := scrape.Parse(doc)
	if err != nil {
		return nil, err
	}

	values := labelValues(page)
	if _, ok := values["Molecular formula:"]; !ok {
		// No property block on the page means the structure was not
		// recognized, not that the page is malformed.
		return nil, nil
	}

	record := engine.Record{
		Identifier: batch[0],
		Fields:     map[string]string{"SMILES": string(batch[0])},
	}

	plain := map[string]string{
		"Molecular formula":        "Molecular formula:",
		"Molecular weight":         "Molecular weight:",
		"HBA":                      "Number of HBA:",
		"HBD":                      "Number of HBD:",
		"MolLogP":                  "MolLogP :",
		"MolPSA":                   "MolPSA :",
		"MolVol":                   "MolVol :",
		"pKa":                      "pKa of most Basic/Acidic group :",
		"Number of stereo centers": "Number of stereo centers:",
	}
	for field, label := range plain {
		if v, ok := values[label]; ok && v != "" {
			record.Fields[field] = v
		}
	}

	if v, ok := values["MolLogS :"]; ok {
		if m := logSExpr.FindStringSubmatch(v); m != nil {
			record.Fields["MolLogS"] = m[1]
		}
	}
	if v, ok := values["BBB Score :"]; ok {
		if m := bbbExpr.FindStringSubmatch(v); m != nil {
			record.Fields["BBB Score"] = m[1]
		}
	}

	return []engine.Record{record}, nil
}

// labelValues maps each <b> label to the text node that follows it, which
// is how the Molsoft result page lays out its property list.
func labelValues(page *goquery.Document) map[string]string {
	values := make(map[string]string)

	page.Find("b").Each(func(_ int, sel *goquery.Selection) {
		label := strings.TrimSpace(sel.Text())
		if label == "" || len(sel.Nodes) == 0 {
			return
		}

		next := sel.Nodes[0].NextSibling
		if next == nil || next.Type != html.TextNode {
			return
		}

		if _, exists := values[label]; !exists {
			values[label] = strings.TrimSpace(next.Data)
		}
	})

	return values
}
