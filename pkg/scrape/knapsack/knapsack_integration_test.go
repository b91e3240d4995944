//go:build integration

package knapsack

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/chemharvest/chemharvest/internal/testutil"
	"github.com/chemharvest/chemharvest/pkg/cache"
)

func TestSearchReusesCachedDetailPages(t *testing.T) {
	client := testutil.StartRedis(t)

	store, err := cache.NewStore(client, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	src := testutil.NewMockSource()
	defer src.Close()
	src.HandleHTML("/result.php", testutil.KnapsackListingPage(listingRows()))
	src.Handle("/information.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage(r.URL.Query().Get("word")))
	})

	s := newTestScraper(src, WithDocumentCache(store))

	// First run fills the cache.
	_, summary, err := s.Search(context.Background(), "all", "Ginkgo Biloba")
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("unexpected first summary: %+v", summary)
	}
	if src.Requests("/information.php") != 2 {
		t.Fatalf("expected 2 detail fetches, got %d", src.Requests("/information.php"))
	}

	// Second run resolves all details from the cache.
	table, summary, err := s.Search(context.Background(), "all", "Ginkgo Biloba")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("unexpected second summary: %+v", summary)
	}
	if src.Requests("/information.php") != 2 {
		t.Errorf("cached details refetched: %d requests", src.Requests("/information.php"))
	}
	if got, _ := table.Rows[0].Field("InChIKey"); got != "KEY-C00001" {
		t.Errorf("cached detail lost fields: %q", got)
	}
}
