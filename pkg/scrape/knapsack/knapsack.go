// Package knapsack retrieves plant metabolite data from the KNApSAcK
// database. Retrieval is two-phase: a keyword search yields the listing
// table keyed by compound ID, then one detail job per compound resolves
// structure identifiers and source organisms. The final table is a left
// join on the compound ID, so a failed detail lookup keeps its listing row
// with null detail fields.
package knapsack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/chemharvest/chemharvest/pkg/cache"
	"github.com/chemharvest/chemharvest/pkg/engine"
	"github.com/chemharvest/chemharvest/pkg/scrape"
)

// Endpoints of the KNApSAcK core database.
const (
	BaseURL   = "https://www.knapsackfamily.com/knapsack_core/result.php"
	DetailURL = "https://www.knapsackfamily.com/knapsack_core/information.php?word="
	imageBase = "https://www.knapsackfamily.com"
)

// ListingColumns is the schema of the search result table.
var ListingColumns = []string{
	"C_ID",
	"CAS_ID",
	"Metabolite",
	"Molecular_Formula",
	"Mw",
	"Organism or InChIKey etc.",
}

// DetailColumns is the schema of the per-compound detail lookup. Organism
// holds the source organism table encoded as JSON.
var DetailColumns = []string{
	"C_ID",
	"InChIKey",
	"InChICode",
	"SMILES",
	"image_url",
	"Organism",
}

// Organism is one row of a compound's source organism table.
type Organism struct {
	Kingdom   string `json:"kingdom"`
	Family    string `json:"family"`
	Species   string `json:"species"`
	Reference string `json:"reference"`
}

// Scraper drives KNApSAcK keyword searches.
type Scraper struct {
	client    *http.Client
	baseURL   string
	detailURL string
	cfg       engine.Config
	logger    zerolog.Logger
	progress  engine.ProgressFunc
	docs      *cache.Store
}

// Option configures the scraper.
type Option func(*Scraper)

// WithHTTPClient injects the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scraper) { s.client = client }
}

// WithBaseURLs overrides the search and detail endpoints (used by tests).
func WithBaseURLs(base, detail string) Option {
	return func(s *Scraper) {
		s.baseURL = base
		s.detailURL = detail
	}
}

// WithLogger injects the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scraper) { s.logger = logger }
}

// WithConfig overrides the engine configuration for the detail phase.
func WithConfig(cfg engine.Config) Option {
	return func(s *Scraper) { s.cfg = cfg }
}

// WithProgress registers a completion-event sink for the detail phase.
func WithProgress(fn engine.ProgressFunc) Option {
	return func(s *Scraper) { s.progress = fn }
}

// WithDocumentCache reuses detail pages across lookups of the same
// compound ID.
func WithDocumentCache(store *cache.Store) Option {
	return func(s *Scraper) { s.docs = store }
}

// New creates a KNApSAcK scraper with 5 detail workers by default.
func New(opts ...Option) *Scraper {
	cfg := engine.DefaultConfig()
	cfg.MaxWorkers = 5

	s := &Scraper{
		client:    scrape.NewHTTPClient(),
		baseURL:   BaseURL,
		detailURL: DetailURL,
		cfg:       cfg,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs a keyword search ("all", "name", "formula", "mass" or "cid")
// and resolves details for every listed compound. The summary covers the
// detail phase; detail failures leave their listing rows in place with null
// detail fields.
func (s *Scraper) Search(ctx context.Context, searchType, keyword string) (engine.Table, engine.Summary, error) {
	logger := s.logger.With().Str("source", "knapsack").Logger()
	logger.Info().
		Str("search_type", searchType).
		Str("keyword", keyword).
		Msg("Searching listing")

	listing, err := s.fetchListing(ctx, searchType, keyword)
	if err != nil {
		return engine.Table{}, engine.Summary{}, err
	}
	if listing.Empty() {
		logger.Info().Msg("No results for keyword")
		return listing, engine.Summary{}, nil
	}

	cids := make([]engine.Identifier, 0, len(listing.Rows))
	for _, row := range listing.Rows {
		if cid, ok := row.Field("C_ID"); ok && cid != "" {
			cids = append(cids, engine.Identifier(cid))
		}
	}

	logger.Info().Int("compounds", len(cids)).Msg("Resolving compound details")

	cfg := s.cfg
	cfg.MaxBatchSize = 1 // one detail page per compound

	pool, err := engine.NewPool(
		engine.FetcherFunc(s.fetchDetail),
		engine.ExtractorFunc(extractDetail),
		cfg,
		engine.WithLogger(logger),
		engine.WithProgress(s.progress),
	)
	if err != nil {
		return engine.Table{}, engine.Summary{}, err
	}

	details, summary, err := pool.Collect(ctx, cids, DetailColumns...)
	joined := engine.LeftJoin(listing, details, "C_ID")
	return joined, summary, err
}

// fetchListing performs the phase-one search and parses the result table.
func (s *Scraper) fetchListing(ctx context.Context, searchType, keyword string) (engine.Table, error) {
	searchURL := s.baseURL + "?sname=" + url.QueryEscape(searchType) + "&word=" + url.QueryEscape(keyword)

	doc, err := scrape.Get(ctx, s.client, "listing", searchURL)
	if err != nil {
		return engine.Table{}, err
	}

	page, err := scrape.Parse(doc)
	if err != nil {
		return engine.Table{}, &engine.ExtractionError{Err: err}
	}

	table := engine.Table{Columns: ListingColumns}

	rows := page.Find("table").First().Find("tr")
	rows.Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}

		record := engine.Record{Fields: make(map[string]string, len(ListingColumns))}
		cells.Each(func(i int, td *goquery.Selection) {
			if i >= len(ListingColumns) {
				return
			}
			if v := strings.TrimSpace(td.Text()); v != "" {
				record.Fields[ListingColumns[i]] = v
			}
		})

		if cid, ok := record.Field("C_ID"); ok {
			record.Identifier = engine.Identifier(cid)
			table.Rows = append(table.Rows, record)
		}
	})

	return table, nil
}

// fetchDetail retrieves one compound's information page, going through the
// document cache when one is configured.
func (s *Scraper) fetchDetail(ctx context.Context, job engine.Job) (*engine.Document, error) {
	cid := string(job.Batch[0])
	detailURL := s.detailURL + url.QueryEscape(cid)

	var key string
	if s.docs != nil {
		key = cache.Key(detailURL, nil)
		if entry, err := s.docs.Get(ctx, key); err == nil {
			return &engine.Document{Body: entry.Body, StatusCode: entry.StatusCode}, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Str("cid", cid).Msg("Document cache lookup failed")
		}
	}

	doc, err := scrape.Get(ctx, s.client, "detail", detailURL)
	if err != nil {
		return nil, err
	}

	if s.docs != nil {
		entry := &cache.Entry{Body: doc.Body, StatusCode: doc.StatusCode}
		if err := s.docs.Set(ctx, key, entry); err != nil {
			s.logger.Warn().Err(err).Str("cid", cid).Msg("Document cache store failed")
		}
	}

	return doc, nil
}

// extractDetail parses a compound information page: the labelled rows of
// the d3 table, the organism table that follows the Organism row, and the
// structure image.
func extractDetail(doc *engine.Document, batch engine.Batch) ([]engine.Record, error) {
	page, err := scrape.Parse(doc)
	if err != nil {
		return nil, err
	}

	cid := string(batch[0])
	record := engine.Record{
		Identifier: batch[0],
		Fields:     map[string]string{"C_ID": cid},
	}

	page.Find("table.d3 tr").Each(func(_ int, tr *goquery.Selection) {
		label := strings.TrimSpace(tr.Find("th.inf").First().Text())
		if label == "" {
			return
		}

		switch label {
		case "InChIKey", "InChICode", "SMILES":
			if v := strings.TrimSpace(tr.Find("td").First().Text()); v != "" {
				record.Fields[label] = v
			}
		case "Organism":
			organisms := parseOrganisms(tr.NextAllFiltered("tr").Find("table").First())
			if len(organisms) == 0 {
				organisms = parseOrganisms(tr.Find("table").First())
			}
			if len(organisms) > 0 {
				if encoded, err := json.Marshal(organisms); err == nil {
					record.Fields["Organism"] = string(encoded)
				}
			}
		}
	})

	if src, ok := page.Find(`img[property="image"]`).First().Attr("src"); ok && src != "" {
		record.Fields["image_url"] = imageBase + src
	}

	return []engine.Record{record}, nil
}

func parseOrganisms(table *goquery.Selection) []Organism {
	var organisms []Organism

	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return // header row
		}
		cells := tr.Find("td")
		if cells.Length() < 4 {
			return
		}
		organisms = append(organisms, Organism{
			Kingdom:   strings.TrimSpace(cells.Eq(0).Text()),
			Family:    strings.TrimSpace(cells.Eq(1).Text()),
			Species:   strings.TrimSpace(cells.Eq(2).Text()),
			Reference: strings.TrimSpace(cells.Eq(3).Text()),
		})
	})

	return organisms
}
