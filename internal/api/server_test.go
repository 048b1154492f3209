package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/continuity/internal/analytics"
	"github.com/example/continuity/internal/domain"
	"github.com/example/continuity/internal/extractor"
	"github.com/example/continuity/internal/store"
	"github.com/example/continuity/internal/validator"
)

// stubExtractor returns a canned extraction so handler tests never reach
// the network.
type stubExtractor struct {
	extraction *extractor.Extraction
}

func (s *stubExtractor) Extract(ctx context.Context, text string, active []string) (*extractor.Extraction, error) {
	if s.extraction != nil {
		return s.extraction, nil
	}
	return &extractor.Extraction{}, nil
}

func newTestServer(t *testing.T, ext *extractor.Extraction) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v := validator.New(st, &stubExtractor{extraction: ext}, nil)
	return New(st, v, analytics.New(st), ":0"), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v; body %q", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shutdown returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), "OPTIONS", "/validate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers")
	}
}

func TestCreateEntity(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/entities", `{"name": "Hero", "status": "alive", "chapter": 1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}

	got, err := st.EntityByName(context.Background(), DefaultManuscript, "Hero")
	if err != nil {
		t.Fatalf("entity not persisted: %v", err)
	}
	if got.Kind != domain.KindCharacter {
		t.Errorf("kind = %q, want default character", got.Kind)
	}

	// Same case-insensitive name conflicts.
	rec = doJSON(t, h, "POST", "/entities", `{"name": "hero"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/entities", `{"name": "  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/entities", `{"name": "Mordor", "kind": "kingdom"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv, st := newTestServer(t, &extractor.Extraction{
		Characters: []extractor.CharacterFact{
			{Name: "Stranger", Status: extractor.PresenceAlive},
		},
	})
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/validate", `{"chapter_id": 1, "text_snippet": "A stranger arrived."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	var report domain.Report
	decode(t, rec, &report)
	if report.Status != domain.ReportViolation || len(report.Alerts) != 1 {
		t.Fatalf("report = %+v, want one violation", report)
	}
	if report.Alerts[0].Type != domain.AlertUnknownCharacter {
		t.Errorf("alert = %q, want UnknownCharacter", report.Alerts[0].Type)
	}

	// The scene was still ingested for the default manuscript.
	max, err := st.MaxChapter(context.Background(), DefaultManuscript)
	if err != nil || max != 1 {
		t.Errorf("max chapter = %d, %v; want 1", max, err)
	}
}

func TestValidateEndpointRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	cases := map[string]string{
		"no body":         "",
		"missing chapter": `{"text_snippet": "x"}`,
		"zero chapter":    `{"chapter_id": 0, "text_snippet": "x"}`,
		"no text or url":  `{"chapter_id": 1}`,
		"whitespace text": `{"chapter_id": 1, "text_snippet": "   "}`,
		"malformed json":  `{"chapter_id": `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(t, h, "POST", "/validate", body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGraphEndpoints(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Handler()
	ctx := context.Background()

	for _, name := range []string{"Hero", "Villain"} {
		_, err := st.CreateEntity(ctx, &domain.Entity{
			ManuscriptID: DefaultManuscript, Name: name,
			Kind: domain.KindCharacter, Status: domain.StatusAlive, LastSeenChapter: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := st.PutRelationship(ctx, DefaultManuscript, "Hero", "Villain", "ENEMY", "", 1); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, "GET", "/graph/nodes?kind=character", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("nodes status = %d", rec.Code)
	}
	var nodesResp struct {
		Nodes []store.Node `json:"nodes"`
		Total int          `json:"total"`
	}
	decode(t, rec, &nodesResp)
	if nodesResp.Total != 2 || len(nodesResp.Nodes) != 2 {
		t.Errorf("nodes = %+v, want both characters", nodesResp)
	}

	rec = doJSON(t, h, "GET", "/graph/nodes?kind=weapon", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/graph/nodes/hero", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("node detail status = %d", rec.Code)
	}
	var detail store.NodeDetail
	decode(t, rec, &detail)
	if detail.Node.Name != "Hero" || len(detail.Relationships) != 1 {
		t.Errorf("detail = %+v, want Hero with one edge", detail)
	}

	rec = doJSON(t, h, "GET", "/graph/nodes/Nobody", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing node status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/graph/edges?source=Hero", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("edges status = %d", rec.Code)
	}
	var edgesResp struct {
		Edges []domain.Relationship `json:"edges"`
		Total int                   `json:"total"`
	}
	decode(t, rec, &edgesResp)
	if edgesResp.Total != 1 || edgesResp.Edges[0].Type != "ENEMY" {
		t.Errorf("edges = %+v, want the ENEMY edge", edgesResp)
	}
}

func TestEventEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Handler()
	ctx := context.Background()

	for _, name := range []string{"Hero", "Villain"} {
		_, err := st.CreateEntity(ctx, &domain.Entity{
			ManuscriptID: DefaultManuscript, Name: name,
			Kind: domain.KindCharacter, Status: domain.StatusAlive, LastSeenChapter: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec := doJSON(t, h, "POST", "/events",
		`{"type": "reconciliation", "chapter": 3, "source": "Hero", "target": "Villain"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	var event domain.Event
	decode(t, rec, &event)
	if event.Type != "RECONCILIATION" {
		t.Errorf("type = %q, want normalized RECONCILIATION", event.Type)
	}

	rec = doJSON(t, h, "POST", "/events",
		`{"type": "truce", "chapter": 3, "source": "Hero", "target": "Ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown target status = %d, want 404", rec.Code)
	}
}

func TestKnowledgeEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Handler()
	ctx := context.Background()

	_, err := st.CreateEntity(ctx, &domain.Entity{
		ManuscriptID: DefaultManuscript, Name: "Hero",
		Kind: domain.KindCharacter, Status: domain.StatusAlive, LastSeenChapter: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, "POST", "/facts", `{"label": "Secret weapon location"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("fact status = %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/knowledge",
		`{"character": "Hero", "fact": "Secret weapon location", "chapter": 2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant status = %d; body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "POST", "/knowledge", `{"character": "Hero", "fact": "unrecorded"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown fact status = %d, want 404", rec.Code)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Handler()

	_, err := st.CreateEntity(context.Background(), &domain.Entity{
		ManuscriptID: DefaultManuscript, Name: "Hero",
		Kind: domain.KindCharacter, Status: domain.StatusAlive, LastSeenChapter: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, "GET", "/analytics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summary analytics.Summary
	decode(t, rec, &summary)
	if summary.TotalCharacters != 1 || summary.ActiveCount != 1 {
		t.Errorf("summary = %+v, want one active character", summary)
	}
}
