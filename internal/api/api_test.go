package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorgonehq/gorgone/internal/aggregates"
	"github.com/gorgonehq/gorgone/internal/config"
	"github.com/gorgonehq/gorgone/internal/ingest"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/rules"
	"github.com/gorgonehq/gorgone/internal/scheduler"
	"github.com/gorgonehq/gorgone/internal/store"
)

type stubMirror struct {
	created int
}

func (m *stubMirror) CreateRule(ctx context.Context, query string, intervalSeconds int, webhookURL string) (string, error) {
	m.created++
	return fmt.Sprintf("ext-%d", m.created), nil
}

func (m *stubMirror) UpdateRule(ctx context.Context, externalID, query string, intervalSeconds int) error {
	return nil
}

func (m *stubMirror) SetRuleActive(ctx context.Context, externalID string, active bool) error {
	return nil
}

func (m *stubMirror) DeleteRule(ctx context.Context, externalID string) error {
	return nil
}

type testServer struct {
	handler    http.Handler
	store      *store.Store
	dispatcher *scheduler.Scheduler
	cfg        *config.Config
	calls      *int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.UpsertZone(context.Background(), models.Zone{
		ID: "zone-1", ClientID: "c-1", Settings: models.DefaultZoneSettings(), IsActive: true,
	})
	if err != nil {
		t.Fatalf("zone seed failed: %v", err)
	}

	cfg := config.Defaults()
	cfg.WebhookSecret = "hook-secret"
	cfg.QueueToken = "queue-token"
	cfg.QueueSigningKey = "signing-key"

	registry := rules.New(s, &stubMirror{}, "https://gorgone.test/webhook")
	dispatcher := scheduler.New(s, scheduler.Config{})

	calls := 0
	dispatcher.Register("test_topic", 1, time.Second, func(ctx context.Context, job models.Job) error {
		calls++
		return nil
	})

	orch := ingest.New(ingest.Config{
		Store:    s,
		Registry: registry,
		Queue:    dispatcher,
	})

	handler := NewRouter(Deps{
		Config:       &cfg,
		Store:        s,
		Orchestrator: orch,
		Registry:     registry,
		Aggregates:   aggregates.New(s),
		Dispatcher:   dispatcher,
		Version:      "test",
	})
	return &testServer{handler: handler, store: s, dispatcher: dispatcher, cfg: &cfg, calls: &calls}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRequiresAPIKey(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/webhook", []byte(`{}`), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/webhook", []byte(`{}`), map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 on wrong key", rec.Code)
	}
}

func TestWebhookIngestReturnsCounts(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	err := ts.store.CreateRule(ctx, models.Rule{
		ID: "r-1", ZoneID: "zone-1", Name: "brand", Kind: models.RuleKindKeyword,
		Query: "acme", IntervalSeconds: 3600, IsActive: true, ExternalRuleID: "ext-1",
	})
	if err != nil {
		t.Fatalf("rule seed failed: %v", err)
	}

	payload := []byte(`{"rule_id":"ext-1","tweets":[{"id":"T1","text":"hi #ai","created_at":"` +
		time.Now().Add(-5*time.Minute).Format(time.RFC3339) +
		`","author":{"id":"U1","username":"Ada"}}]}`)
	rec := ts.do(t, http.MethodPost, "/webhook", payload, map[string]string{"X-API-Key": "hook-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result ingest.WebhookResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("response decode failed: %v", err)
	}
	if result.Received != 1 || result.Inserted != 1 {
		t.Fatalf("result = %+v", result)
	}

	// Redelivery is a duplicate, not an error.
	rec = ts.do(t, http.MethodPost, "/webhook", payload, map[string]string{"X-API-Key": "hook-secret"})
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("response decode failed: %v", err)
	}
	if result.Inserted != 0 || result.Duplicates != 1 {
		t.Fatalf("redelivery result = %+v", result)
	}
}

func TestJobCallbackSignature(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"some":"payload"}`)

	// Valid signature runs the handler.
	rec := ts.do(t, http.MethodPost, "/_jobs/test_topic", body, map[string]string{
		scheduler.SignatureHeader: scheduler.Sign(body, "signing-key"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if *ts.calls != 1 {
		t.Fatalf("handler calls = %d, want 1", *ts.calls)
	}

	// Bad signature is rejected even with a valid bearer alongside.
	rec = ts.do(t, http.MethodPost, "/_jobs/test_topic", body, map[string]string{
		scheduler.SignatureHeader: "deadbeef",
		scheduler.AuthHeader:      "Bearer queue-token",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 on bad signature", rec.Code)
	}

	// Bearer fallback only applies when the signature header is absent.
	rec = ts.do(t, http.MethodPost, "/_jobs/test_topic", body, map[string]string{
		scheduler.AuthHeader: "Bearer queue-token",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on bearer fallback", rec.Code)
	}

	// Nothing at all is rejected.
	rec = ts.do(t, http.MethodPost, "/_jobs/test_topic", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credentials", rec.Code)
	}
}

func TestJobCallbackUnknownTopic(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{}`)
	rec := ts.do(t, http.MethodPost, "/_jobs/no_such_topic", body, map[string]string{
		scheduler.SignatureHeader: scheduler.Sign(body, "signing-key"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRuleLifecycle(t *testing.T) {
	ts := newTestServer(t)

	create := []byte(`{"zoneId":"zone-1","name":"brand","kind":"keyword","query":"acme","intervalSeconds":3600}`)
	rec := ts.do(t, http.MethodPost, "/api/rules", create, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var rule models.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatalf("create decode failed: %v", err)
	}
	if rule.ID == "" || rule.ExternalRuleID == "" {
		t.Fatalf("rule = %+v, want mirrored push rule", rule)
	}

	// Duplicate name in the same zone conflicts.
	rec = ts.do(t, http.MethodPost, "/api/rules", create, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/rules?zone=zone-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/rules/"+rule.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/rules/"+rule.ID+"/toggle", []byte(`{"active":false}`), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("toggle status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodDelete, "/api/rules/"+rule.ID, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/rules/"+rule.ID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestRuleValidationSurfacesAs400(t *testing.T) {
	ts := newTestServer(t)
	create := []byte(`{"zoneId":"zone-1","name":"too-fast","kind":"keyword","query":"acme","intervalSeconds":5}`)
	rec := ts.do(t, http.MethodPost, "/api/rules", create, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for sub-floor interval", rec.Code)
	}
}

func TestZoneReads(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/zones/zone-1/top-authors?period=24h", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("top-authors status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/zones/zone-1/overview", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("overview status = %d", rec.Code)
	}
	var overview store.ZoneOverview
	if err := json.Unmarshal(rec.Body.Bytes(), &overview); err != nil {
		t.Fatalf("overview decode failed: %v", err)
	}
	if overview.Period != "24h" {
		t.Errorf("default period = %q, want 24h", overview.Period)
	}

	rec = ts.do(t, http.MethodGet, "/api/zones/zone-1/top-authors?period=5h", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad period status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/zones/zone-1/nonsense", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown view status = %d, want 404", rec.Code)
	}
}

func TestHealthReportsJobCounts(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.dispatcher.Enqueue(context.Background(), "test_topic", map[string]string{}, time.Hour, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if health.Status != "healthy" || health.Jobs["pending"] != 1 {
		t.Fatalf("health = %+v", health)
	}
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/version", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["version"] != "test" {
		t.Fatalf("version = %q", body["version"])
	}
}
