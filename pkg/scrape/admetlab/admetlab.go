// Package admetlab retrieves ADMET property predictions from the ADMETlab
// screening service. ADMETlab accepts up to 100 structures per submission,
// so identifiers are batched; each batch runs its own server session: fetch
// the CSRF token, submit the structure list, locate the result CSV in the
// response, and download it.
package admetlab

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/chemharvest/chemharvest/pkg/engine"
	"github.com/chemharvest/chemharvest/pkg/scrape"
)

// BaseURL is the ADMETlab server root.
const BaseURL = "https://admetlab3.scbdd.com"

const (
	indexPath  = "/server/screening"
	submitPath = "/server/screeningCal"
)

// DefaultBatchSize is the server's per-submission structure limit.
const DefaultBatchSize = 100

var csvExpr = regexp.MustCompile(`window\.open\(["'](.*?\.csv)["']\)`)

// Scraper drives the ADMETlab screening workflow.
type Scraper struct {
	baseURL   string
	cfg       engine.Config
	logger    zerolog.Logger
	progress  engine.ProgressFunc
	newClient func() (*http.Client, error)
}

// Option configures the scraper.
type Option func(*Scraper)

// WithBaseURL overrides the server URL (used by tests).
func WithBaseURL(u string) Option {
	return func(s *Scraper) { s.baseURL = u }
}

// WithLogger injects the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scraper) { s.logger = logger }
}

// WithConfig overrides the engine configuration. MaxBatchSize above 100 is
// rejected at pool construction.
func WithConfig(cfg engine.Config) Option {
	return func(s *Scraper) { s.cfg = cfg }
}

// WithProgress registers a completion-event sink.
func WithProgress(fn engine.ProgressFunc) Option {
	return func(s *Scraper) { s.progress = fn }
}

// WithSessionFactory overrides how per-batch session clients are built
// (used by tests).
func WithSessionFactory(factory func() (*http.Client, error)) Option {
	return func(s *Scraper) { s.newClient = factory }
}

// New creates an ADMETlab scraper with 4 workers and full 100-structure
// batches by default.
func New(opts ...Option) *Scraper {
	cfg := engine.DefaultConfig()
	cfg.MaxBatchSize = DefaultBatchSize

	s := &Scraper{
		baseURL:   BaseURL,
		cfg:       cfg,
		logger:    zerolog.Nop(),
		newClient: scrape.NewSessionClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run retrieves ADMET predictions for the given SMILES. The result schema
// follows the server's CSV header, so columns are derived from the data.
func (s *Scraper) Run(ctx context.Context, smiles ...string) (engine.Table, engine.Summary, error) {
	ids := make([]engine.Identifier, len(smiles))
	for i, sm := range smiles {
		ids[i] = engine.Identifier(sm)
	}

	pool, err := engine.NewPool(
		engine.FetcherFunc(s.fetch),
		engine.ExtractorFunc(extract),
		s.cfg,
		engine.WithLogger(s.logger.With().Str("source", "admetlab").Logger()),
		engine.WithProgress(s.progress),
	)
	if err != nil {
		return engine.Table{}, engine.Summary{}, err
	}

	return pool.Collect(ctx, ids)
}

// fetch runs the full four-step screening protocol for one batch. The steps
// share one cookie session and are not retried independently; the first
// failing stage fails the job.
func (s *Scraper) fetch(ctx context.Context, job engine.Job) (*engine.Document, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, &engine.FetchError{Stage: "session", Err: err}
	}

	indexDoc, err := scrape.Get(ctx, client, "token", s.baseURL+indexPath)
	if err != nil {
		return nil, err
	}
	token, err := csrfToken(indexDoc)
	if err != nil {
		return nil, &engine.FetchError{Stage: "token", Err: err}
	}

	lines := make([]string, len(job.Batch))
	for i, id := range job.Batch {
		lines[i] = string(id)
	}
	form := url.Values{
		"csrfmiddlewaretoken": {token},
		"smiles-list":         {strings.Join(lines, "\r\n")},
		"method":              {"2"},
	}
	headers := map[string]string{
		"Referer": s.baseURL + indexPath,
		"Origin":  s.baseURL,
	}

	resultDoc, err := scrape.PostForm(ctx, client, "submit", s.baseURL+submitPath, form, headers)
	if err != nil {
		return nil, err
	}
	if resultDoc.Throttled {
		return resultDoc, nil
	}

	page, err := scrape.Parse(resultDoc)
	if err != nil {
		return nil, &engine.FetchError{Stage: "submit", Err: err}
	}

	if invalid, ok := summaryCount(page, "invalid"); ok && invalid > 0 {
		s.logger.Warn().
			Int("job", job.Seq).
			Int("invalid", invalid).
			Int("batch_size", len(job.Batch)).
			Msg("Server rejected some structures in batch")
	}

	csvURL, err := locateCSV(page, s.baseURL)
	if err != nil {
		return nil, &engine.FetchError{Stage: "locate-csv", Err: err}
	}

	return scrape.Get(ctx, client, "download", csvURL)
}

// extract decodes the downloaded result CSV, one record per data row. The
// server echoes the submitted structure in a "smiles" column, which tags
// each record; rows beyond the batch (or without that column) fall back to
// batch order.
func extract(doc *engine.Document, batch engine.Batch) ([]engine.Record, error) {
	reader := csv.NewReader(bytes.NewReader(doc.Body))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	smilesCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "smiles") {
			smilesCol = i
			break
		}
	}

	records := make([]engine.Record, 0, len(rows)-1)
	for rowIdx, row := range rows[1:] {
		record := engine.Record{Fields: make(map[string]string, len(header))}

		for i, name := range header {
			if i >= len(row) {
				break
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				record.Fields[strings.TrimSpace(name)] = v
			}
		}

		switch {
		case smilesCol >= 0 && smilesCol < len(row):
			record.Identifier = engine.Identifier(strings.TrimSpace(row[smilesCol]))
		case rowIdx < len(batch):
			record.Identifier = batch[rowIdx]
		}

		records = append(records, record)
	}

	return records, nil
}

func csrfToken(doc *engine.Document) (string, error) {
	page, err := scrape.Parse(doc)
	if err != nil {
		return "", err
	}

	token, ok := page.Find(`input[name="csrfmiddlewaretoken"]`).First().Attr("value")
	if !ok || token == "" {
		return "", errors.New("csrf token not found")
	}
	return token, nil
}

// summaryCount reads the result page's info cards ("success molecules",
// "invalid molecules", "total molecules").
func summaryCount(page *goquery.Document, kind string) (int, bool) {
	var count int
	var found bool

	page.Find("div.info-card").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		title := strings.ToLower(strings.TrimSpace(card.Find("h5.card-title").First().Text()))
		if !strings.Contains(title, kind) {
			return true
		}
		n, err := strconv.Atoi(strings.TrimSpace(card.Find("h6").First().Text()))
		if err != nil {
			return true
		}
		count = n
		found = true
		return false
	})

	return count, found
}

// locateCSV finds the result download URL inside the page's inline scripts,
// where the server opens it via window.open("<path>.csv").
func locateCSV(page *goquery.Document, base string) (string, error) {
	var csvPath string

	page.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		if m := csvExpr.FindStringSubmatch(script.Text()); m != nil {
			csvPath = m[1]
			return false
		}
		return true
	})

	if csvPath == "" {
		return "", errors.New("result csv link not found")
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(csvPath)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}
