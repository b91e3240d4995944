// Package scrape holds the plumbing shared by the source-specific scrapers:
// HTTP round-trip helpers that produce engine documents, goquery parsing,
// and the molblock conversion boundary.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chemharvest/chemharvest/pkg/engine"
)

// DefaultTimeout bounds every network call made by a scraper.
const DefaultTimeout = 30 * time.Second

const userAgent = "chemharvest/0.1.0"

// NewHTTPClient returns the client scrapers share across jobs. It holds no
// per-request state and is safe for concurrent use.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// NewSessionClient returns a client with a cookie jar for sources whose
// submit protocol spans several requests in one server session.
func NewSessionClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: DefaultTimeout, Jar: jar}, nil
}

// Get performs a GET and wraps the response as an engine document. stage
// names the protocol step for error reporting.
func Get(ctx context.Context, client *http.Client, stage, rawURL string) (*engine.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &engine.FetchError{Stage: stage, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	return do(client, stage, req)
}

// PostForm submits an URL-encoded form and wraps the response as an engine
// document. Extra headers (Referer, Origin) are applied on top of the
// defaults.
func PostForm(ctx context.Context, client *http.Client, stage, rawURL string, form url.Values, headers map[string]string) (*engine.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &engine.FetchError{Stage: stage, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(client, stage, req)
}

func do(client *http.Client, stage string, req *http.Request) (*engine.Document, error) {
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &engine.FetchError{Stage: "timeout", Err: err}
		}
		return nil, &engine.FetchError{Stage: stage, Err: err}
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, &engine.FetchError{Stage: stage, Err: err}
	}

	doc := &engine.Document{
		Body:       buf.Bytes(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}

	// 429 is a transport-level throttle signal; body markers are matched
	// by the pool's detector.
	if resp.StatusCode == http.StatusTooManyRequests {
		doc.Throttled = true
		return doc, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &engine.FetchError{
			Stage: stage,
			Err:   errors.New("unexpected status " + resp.Status),
		}
	}

	return doc, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Parse builds a goquery document from a fetched engine document.
func Parse(doc *engine.Document) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
}

// MolBlocker converts a structure string into the MDL molblock some upload
// forms expect. Conformer generation belongs to an external chemistry
// toolkit; callers that have one plug it in here.
type MolBlocker interface {
	MolBlock(smiles string) (string, error)
}

// PassThrough submits the structure string itself in place of a molblock.
// The supported servers accept plain SMILES in the molblock field.
type PassThrough struct{}

// MolBlock returns smiles unchanged.
func (PassThrough) MolBlock(smiles string) (string, error) {
	return smiles, nil
}
