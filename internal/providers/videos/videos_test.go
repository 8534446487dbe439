package videos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorgonehq/gorgone/internal/models"
)

func TestParseItem(t *testing.T) {
	raw := RawVideo{
		ID:          "v-1",
		Description: "dance challenge",
		Lang:        "fr",
		CreateTime:  1755680400,
		Hashtags:    []string{"dance", "fyp"},
		Stats: &RawStats{
			PlayCount:    50000,
			DiggCount:    4000,
			ShareCount:   300,
			CommentCount: 120,
			CollectCount: 80,
		},
	}

	item, err := ParseItem(raw)
	if err != nil {
		t.Fatalf("ParseItem failed: %v", err)
	}
	if item.Provider != models.ProviderVideo {
		t.Errorf("provider = %s", item.Provider)
	}
	if item.Counters.View != 50000 || item.Counters.Collect != 80 {
		t.Errorf("counters = %+v", item.Counters)
	}
	if item.CreatedAtSource.Unix() != 1755680400 {
		t.Errorf("created at = %v", item.CreatedAtSource)
	}
	if len(item.Hashtags) != 2 {
		t.Errorf("hashtags = %v", item.Hashtags)
	}
}

func TestParseItemErrors(t *testing.T) {
	if _, err := ParseItem(RawVideo{CreateTime: 1}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := ParseItem(RawVideo{ID: "v-1"}); err == nil {
		t.Fatal("expected error for missing create_time")
	}
}

func TestParseAuthor(t *testing.T) {
	raw := RawVideo{
		ID:         "v-1",
		CreateTime: 1,
		Author: &RawAuthor{
			ID:            "u-1",
			UniqueID:      "DanceQueen",
			Nickname:      "Dance Queen",
			HeartCount:    99999,
			VideoCount:    210,
			FollowerCount: 120000,
			Region:        "FR",
		},
	}
	author, ok := ParseAuthor(raw)
	if !ok {
		t.Fatal("expected author")
	}
	if author.Handle != "dancequeen" {
		t.Errorf("handle = %q, want lowercased", author.Handle)
	}
	if author.HeartCount != 99999 || author.PostCount != 210 {
		t.Errorf("stats = %+v", author)
	}
	if author.Location != "FR" {
		t.Errorf("location = %q", author.Location)
	}
}

func TestClientSearchRouting(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		json.NewEncoder(w).Encode(map[string]any{"videos": []any{}, "next_cursor": ""})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", RPS: 100})
	ctx := context.Background()

	tests := []struct {
		kind     models.RuleKind
		query    string
		wantPath string
	}{
		{models.RuleKindKeyword, "dance", "/search"},
		{models.RuleKindHashtag, "fyp", "/hashtag"},
		{models.RuleKindUser, "DanceQueen", "/user/dancequeen"},
	}
	for _, tt := range tests {
		if _, _, err := client.Search(ctx, tt.kind, tt.query, "", 50); err != nil {
			t.Fatalf("Search(%s) failed: %v", tt.kind, err)
		}
		if gotPath != tt.wantPath {
			t.Errorf("Search(%s) hit %s, want %s", tt.kind, gotPath, tt.wantPath)
		}
		if tt.kind != models.RuleKindUser && gotQuery != tt.query {
			t.Errorf("Search(%s) q = %q, want %q", tt.kind, gotQuery, tt.query)
		}
	}
}
