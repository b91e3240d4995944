package knapsack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/chemharvest/chemharvest/internal/testutil"
)

func listingRows() [][]string {
	return [][]string{
		{"C00001", "149-91-7", "Gallic acid", "C7H6O5", "170.02", "Ginkgo biloba"},
		{"C00002", "529-44-2", "Myricetin", "C15H10O8", "318.04", "Ginkgo biloba"},
	}
}

func detailPage(cid string) string {
	return testutil.KnapsackDetailPage(
		"KEY-"+cid,
		"InChI=1S/"+cid,
		"c1ccccc1",
		"/knapsack_core/image/"+cid+".png",
		[][]string{
			{"Plantae", "Ginkgoaceae", "Ginkgo biloba", "PMID:12345"},
			{"Plantae", "Fabaceae", "Glycine max", "PMID:67890"},
		},
	)
}

func newTestScraper(src *testutil.MockSource, opts ...Option) *Scraper {
	opts = append([]Option{
		WithBaseURLs(src.URL()+"/result.php", src.URL()+"/information.php?word="),
	}, opts...)
	return New(opts...)
}

func TestSearchJoinsListingAndDetails(t *testing.T) {
	src := testutil.NewMockSource()
	defer src.Close()

	src.HandleHTML("/result.php", testutil.KnapsackListingPage(listingRows()))
	src.Handle("/information.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage(r.URL.Query().Get("word")))
	})

	table, summary, err := newTestScraper(src).Search(context.Background(), "all", "Ginkgo Biloba")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 2 || summary.Succeeded != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 joined rows, got %d", len(table.Rows))
	}

	row := table.Rows[0]
	if got, _ := row.Field("Metabolite"); got != "Gallic acid" {
		t.Errorf("listing field lost in join: %q", got)
	}
	if got, _ := row.Field("InChIKey"); got != "KEY-C00001" {
		t.Errorf("unexpected InChIKey: %q", got)
	}
	if got, _ := row.Field("SMILES"); got != "c1ccccc1" {
		t.Errorf("unexpected SMILES: %q", got)
	}
	if got, _ := row.Field("image_url"); got != "https://www.knapsackfamily.com/knapsack_core/image/C00001.png" {
		t.Errorf("unexpected image URL: %q", got)
	}

	encoded, ok := row.Field("Organism")
	if !ok {
		t.Fatal("organism field missing")
	}
	var organisms []Organism
	if err := json.Unmarshal([]byte(encoded), &organisms); err != nil {
		t.Fatalf("organism field is not JSON: %v", err)
	}
	if len(organisms) != 2 || organisms[0].Species != "Ginkgo biloba" || organisms[1].Family != "Fabaceae" {
		t.Errorf("unexpected organisms: %+v", organisms)
	}

	// Joined schema keeps listing columns first, then the new detail ones.
	if table.Columns[0] != "C_ID" {
		t.Errorf("expected C_ID first, got %v", table.Columns)
	}
}

func TestSearchKeepsRowsWithFailedDetails(t *testing.T) {
	src := testutil.NewMockSource()
	defer src.Close()

	src.HandleHTML("/result.php", testutil.KnapsackListingPage(listingRows()))
	src.Handle("/information.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("word") == "C00002" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, detailPage("C00001"))
	})

	table, summary, err := newTestScraper(src).Search(context.Background(), "all", "Ginkgo Biloba")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// The failed compound keeps its listing row with null detail fields.
	if len(table.Rows) != 2 {
		t.Fatalf("expected both listing rows, got %d", len(table.Rows))
	}
	failed := table.Rows[1]
	if got, _ := failed.Field("Metabolite"); got != "Myricetin" {
		t.Errorf("listing data lost for failed detail: %q", got)
	}
	if _, ok := failed.Field("InChIKey"); ok {
		t.Error("expected null InChIKey for failed detail")
	}
}

func TestSearchNoResults(t *testing.T) {
	src := testutil.NewMockSource()
	defer src.Close()
	src.HandleHTML("/result.php", testutil.KnapsackListingPage(nil))

	table, summary, err := newTestScraper(src).Search(context.Background(), "all", "nonexistium")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !table.Empty() || summary.Total != 0 {
		t.Errorf("expected empty result: %d rows, %+v", len(table.Rows), summary)
	}
	if src.Requests("/information.php") != 0 {
		t.Error("detail phase ran for an empty listing")
	}
}
