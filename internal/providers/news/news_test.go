package news

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseItemKeyedByURLHash(t *testing.T) {
	raw := RawArticle{
		URL:         "https://news.example/a/1",
		Title:       "Go 1.26 released",
		Summary:     "The release adds faster maps.",
		Lang:        "en",
		PublishedAt: "2026-08-20T08:00:00Z",
		Source:      "news.example",
	}

	first, err := ParseItem(raw)
	if err != nil {
		t.Fatalf("ParseItem failed: %v", err)
	}
	if first.ProviderItemID == "" {
		t.Fatal("expected synthesized id for article without provider id")
	}

	second, err := ParseItem(raw)
	if err != nil {
		t.Fatalf("ParseItem failed: %v", err)
	}
	// Same URL must hash to the same id so re-polls dedup.
	if second.ProviderItemID != first.ProviderItemID {
		t.Errorf("ids differ: %q vs %q", first.ProviderItemID, second.ProviderItemID)
	}
	if first.Text != "Go 1.26 released\n\nThe release adds faster maps." {
		t.Errorf("text = %q", first.Text)
	}
	if !first.HasLinks {
		t.Error("expected HasLinks for article with a URL")
	}
}

func TestParseItemErrors(t *testing.T) {
	if _, err := ParseItem(RawArticle{Title: "no identity"}); err == nil {
		t.Fatal("expected error for article without id or url")
	}
	if _, err := ParseItem(RawArticle{ID: "a-1", PublishedAt: "last tuesday"}); err == nil {
		t.Fatal("expected error for bad published_at")
	}
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery(`{"text":"golang release","languages":["en","fr"]}`)
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if q.Text != "golang release" || len(q.Languages) != 2 {
		t.Errorf("query = %+v", q)
	}

	if _, err := ParseQuery(`{"languages":["en"]}`); err == nil {
		t.Fatal("expected error for query without text")
	}
	if _, err := ParseQuery(`not json`); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestClientSearchPagination(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cursor   string `json:"cursor"`
			PageSize int    `json:"page_size"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.PageSize > MaxPageSize {
			t.Errorf("page size %d exceeds cap", req.PageSize)
		}
		page++
		resp := map[string]any{
			"articles": []map[string]string{
				{"id": "a-1", "title": "one", "published_at": "2026-08-20T08:00:00Z"},
			},
			"next_cursor": "",
		}
		if page == 1 {
			resp["next_cursor"] = "page-2"
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", RPS: 100})
	ctx := context.Background()

	articles, next, err := client.Search(ctx, Query{Text: "golang"}, "", 50)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(articles) != 1 || next != "page-2" {
		t.Fatalf("first page = %d articles, cursor %q", len(articles), next)
	}

	_, next, err = client.Search(ctx, Query{Text: "golang"}, next, 50)
	if err != nil {
		t.Fatalf("second Search failed: %v", err)
	}
	if next != "" {
		t.Errorf("final cursor = %q, want empty", next)
	}
}
