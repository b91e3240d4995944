// Package testutil provides a configurable mock compound-data server plus
// canned response pages shaped like the real sources.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// MockSource is a configurable HTTP server standing in for a compound data
// site in tests.
type MockSource struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount int
	pathCounts   map[string]int
	lastForm     url.Values
}

// NewMockSource starts a mock server. Paths without a registered handler
// return 404.
func NewMockSource() *MockSource {
	m := &MockSource{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		m.mu.Lock()
		m.requestCount++
		m.pathCounts[r.URL.Path]++
		if len(r.PostForm) > 0 {
			m.lastForm = r.PostForm
		}
		m.mu.Unlock()

		m.mu.RLock()
		handler, ok := m.handlers[r.URL.Path]
		m.mu.RUnlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))

	return m
}

// URL returns the server base URL.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockSource) Close() {
	m.server.Close()
}

// Handle registers a handler for path.
func (m *MockSource) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// HandleHTML registers a handler that serves a fixed HTML body.
func (m *MockSource) HandleHTML(path, body string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	})
}

// Requests returns how many requests hit path.
func (m *MockSource) Requests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// TotalRequests returns the request count across all paths.
func (m *MockSource) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastForm returns the most recent POSTed form values.
func (m *MockSource) LastForm() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastForm
}

// MolsoftResultPage renders a property page the way the Molsoft server
// does: <b> labels followed by bare text values.
func MolsoftResultPage(values map[string]string) string {
	var b strings.Builder
	b.WriteString("<html><body><h2>Molecular Properties</h2>")
	for label, value := range values {
		fmt.Fprintf(&b, "<b>%s</b> %s<br>", label, value)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// ProtoxResultPage renders a toxicity prediction page with <h1> result
// headings.
func ProtoxResultPage(ld50, class, similarity, accuracy string) string {
	return fmt.Sprintf(`<html><body>
<h1>Predicted LD50: %s</h1>
<h1>Predicted Toxicity Class: %s</h1>
<h1>Average similarity: %s</h1>
<h1>Prediction accuracy: %s</h1>
</body></html>`, ld50, class, similarity, accuracy)
}

// AdmetIndexPage renders the screening form with its CSRF token.
func AdmetIndexPage(token string) string {
	return fmt.Sprintf(`<html><body><form method="post">
<input type="hidden" name="csrfmiddlewaretoken" value="%s">
<textarea name="smiles-list"></textarea>
</form></body></html>`, token)
}

// AdmetResultPage renders the screening result with info cards and the
// script that opens the CSV download.
func AdmetResultPage(success, invalid, total int, csvPath string) string {
	return fmt.Sprintf(`<html><body>
<div class="info-card"><h5 class="card-title">Success Molecules</h5><h6>%d</h6></div>
<div class="info-card"><h5 class="card-title">Invalid Molecules</h5><h6>%d</h6></div>
<div class="info-card"><h5 class="card-title">Total Molecules</h5><h6>%d</h6></div>
<script>function download() { window.open("%s") }</script>
</body></html>`, success, invalid, total, csvPath)
}

// KnapsackListingPage renders a search result table. Each row is
// [C_ID, CAS_ID, Metabolite, Formula, Mw, Organism].
func KnapsackListingPage(rows [][]string) string {
	var b strings.Builder
	b.WriteString("<html><body><table><tr><th>C_ID</th><th>CAS ID</th><th>Metabolite</th><th>Molecular formula</th><th>Mw</th><th>Organism</th></tr>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			fmt.Fprintf(&b, "<td>%s</td>", cell)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

// KnapsackDetailPage renders a compound information page with the labelled
// d3 table, an organism table and the structure image.
func KnapsackDetailPage(inchiKey, inchiCode, smiles, imagePath string, organisms [][]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="d3">`)
	fmt.Fprintf(&b, `<tr><th class="inf">InChIKey</th><td>%s</td></tr>`, inchiKey)
	fmt.Fprintf(&b, `<tr><th class="inf">InChICode</th><td>%s</td></tr>`, inchiCode)
	fmt.Fprintf(&b, `<tr><th class="inf">SMILES</th><td>%s</td></tr>`, smiles)
	b.WriteString(`<tr><th class="inf">Organism</th><td><table><tr><th>Kingdom</th><th>Family</th><th>Species</th><th>Reference</th></tr>`)
	for _, org := range organisms {
		b.WriteString("<tr>")
		for _, cell := range org {
			fmt.Fprintf(&b, "<td>%s</td>", cell)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table></td></tr></table>")
	fmt.Fprintf(&b, `<img property="image" src="%s">`, imagePath)
	b.WriteString("</body></html>")
	return b.String()
}
