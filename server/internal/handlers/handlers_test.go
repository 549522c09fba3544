package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/patrick91/metamist/internal/model"
	"github.com/patrick91/metamist/server/internal/auth"
	"github.com/patrick91/metamist/server/internal/database"
	"github.com/patrick91/metamist/server/internal/templates"
)

const testAPIKey = "metamist_test_0123456789abcdef"

func newTestMux(t *testing.T) (*http.ServeMux, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	user := &database.User{
		ID:           "user-1",
		Username:     "tester",
		PasswordHash: "x",
		APIKey:       testAPIKey,
		CreatedAt:    time.Now(),
	}
	if err := db.CreateUser(user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	tmpl, err := templates.Parse()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}

	sessionMgr := scs.New()
	debouncer := NewSummaryDebouncer(db, 10*time.Millisecond)
	h := New(db, sessionMgr, tmpl, debouncer)
	mw := auth.NewMiddleware(db, sessionMgr)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /api/project/{name}/summary", mw.RequireAPIKey(http.HandlerFunc(h.APIProjectSummary)))
	mux.Handle("POST /api/project/{name}/participants", mw.RequireAPIKey(http.HandlerFunc(h.APIUpsertParticipants)))
	mux.Handle("POST /api/billing/sync", mw.RequireAPIKey(http.HandlerFunc(h.APIBillingSync)))
	mux.Handle("GET /api/billing/sync/status", mw.RequireAPIKey(http.HandlerFunc(h.APISyncStatus)))

	return mux, db
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("POST", "/api/billing/sync", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("POST", "/api/billing/sync", bytes.NewBufferString("{}"))
	req.Header.Set("X-API-Key", "metamist_wrong")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", rec.Code)
	}
}

func TestBillingSyncRoundTrip(t *testing.T) {
	mux, _ := newTestMux(t)

	req := SyncRequest{
		ClientID:   "client-a",
		ClientName: "loader-host",
		Records: []SyncRecord{
			{
				Topic:          "rare-disease",
				Cost:           1.25,
				Currency:       "AUD",
				SKUID:          "sku-1",
				SKUDescription: "N1 Instance Core",
				UsageStartTime: "2026-08-01T00:00:00Z",
				UsageEndTime:   "2026-08-01T06:00:00Z",
				ARGuid:         "ar-1",
			},
			{
				Topic:          "rare-disease",
				Cost:           0.75,
				Currency:       "AUD",
				SKUID:          "sku-2",
				SKUDescription: "Standard Storage",
				UsageStartTime: "2026-08-01T00:00:00Z",
				UsageEndTime:   "2026-08-01T06:00:00Z",
				ARGuid:         "ar-1",
			},
		},
	}

	rec := doJSON(t, mux, "POST", "/api/billing/sync", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp SyncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Inserted != 2 {
		t.Errorf("got success=%v inserted=%d, want success=true inserted=2", resp.Success, resp.Inserted)
	}

	// Replaying the same payload must not duplicate records
	rec = doJSON(t, mux, "POST", "/api/billing/sync", req)
	var replay SyncResponse
	if err := json.NewDecoder(rec.Body).Decode(&replay); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if replay.Inserted != 0 {
		t.Errorf("replay inserted = %d, want 0", replay.Inserted)
	}

	// Status should now report a last sync time
	rec = doJSON(t, mux, "GET", "/api/billing/sync/status?client_id=client-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint: %d", rec.Code)
	}
	var status SyncStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.LastSyncAt == nil {
		t.Error("last_sync_at is nil after sync")
	}
}

func TestProjectSummaryEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	upload := ParticipantsRequest{
		Dataset: "rare-disease",
		Participants: []model.NestedParticipant{
			{
				ExternalIDs: map[string]string{"": "XP01"},
				Samples: []model.NestedSample{
					{
						ExternalIDs: map[string]string{"": "XS01"},
						Type:        "blood",
						Meta:        map[string]any{"collection-year": "2026"},
					},
					{
						ExternalIDs: map[string]string{"": "XS02"},
						Type:        "saliva",
					},
				},
			},
			{
				ExternalIDs: map[string]string{"": "XP02"},
				Samples: []model.NestedSample{
					{ExternalIDs: map[string]string{"": "XS03"}, Type: "blood"},
				},
			},
		},
	}

	rec := doJSON(t, mux, "POST", "/api/project/acute-care/participants", upload)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, "GET", "/api/project/acute-care/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d, body %s", rec.Code, rec.Body.String())
	}

	var summary model.ProjectSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}

	if summary.TotalSamples != 3 {
		t.Errorf("total_samples = %d, want 3", summary.TotalSamples)
	}
	if len(summary.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(summary.Participants))
	}
	if got := len(summary.Participants[0].Samples); got != 2 {
		t.Errorf("first participant samples = %d, want 2", got)
	}

	found := false
	for _, k := range summary.SampleKeys {
		if k == "collection-year" {
			found = true
		}
	}
	if !found {
		t.Errorf("sample_keys missing meta field: %v", summary.SampleKeys)
	}

	// No further page when everything fit
	if summary.Links == nil {
		t.Fatal("summary has no _links block")
	}
	if summary.Links.Next != "" {
		t.Errorf("unexpected next link on full page: %s", summary.Links.Next)
	}

	// A one-sample page must hand back a token for the next page
	rec = doJSON(t, mux, "GET", "/api/project/acute-care/summary?limit=1", nil)
	var page model.ProjectSummary
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Links == nil || page.Links.Token == "" {
		t.Fatal("paged summary did not return a token")
	}

	target := fmt.Sprintf("/api/project/acute-care/summary?limit=10&token=%s", page.Links.Token)
	rec = doJSON(t, mux, "GET", target, nil)
	var rest model.ProjectSummary
	if err := json.NewDecoder(rec.Body).Decode(&rest); err != nil {
		t.Fatalf("decode rest: %v", err)
	}

	var pageIDs = make(map[int64]bool)
	for _, p := range page.Participants {
		for _, s := range p.Samples {
			pageIDs[s.ID] = true
		}
	}
	var restCount int
	for _, p := range rest.Participants {
		for _, s := range p.Samples {
			if pageIDs[s.ID] {
				t.Errorf("sample %d returned on both pages", s.ID)
			}
			restCount++
		}
	}
	if len(pageIDs)+restCount != 3 {
		t.Errorf("pages cover %d samples, want 3", len(pageIDs)+restCount)
	}
}

func TestProjectSummaryUnknownProject(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, "GET", "/api/project/nope/summary", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBillingSyncUpdatesSummaries(t *testing.T) {
	mux, db := newTestMux(t)

	req := SyncRequest{
		ClientID: "client-b",
		Records: []SyncRecord{
			{
				Topic:          "seqr",
				Cost:           4.0,
				SKUID:          "sku-1",
				UsageStartTime: "2026-08-02T01:00:00Z",
				UsageEndTime:   "2026-08-02T02:00:00Z",
				ARGuid:         "ar-9",
			},
		},
	}

	rec := doJSON(t, mux, "POST", "/api/billing/sync", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// The debouncer recomputes summaries shortly after the sync lands
	deadline := time.Now().Add(2 * time.Second)
	for {
		costs, err := db.GetDailyCosts(10)
		if err != nil {
			t.Fatalf("get daily costs: %v", err)
		}
		if len(costs) > 0 {
			if costs[0].Topic != "seqr" || costs[0].Cost != 4.0 {
				t.Errorf("summary = %+v, want topic seqr cost 4.0", costs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("billing summary was never recomputed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
