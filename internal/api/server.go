package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/continuity/internal/analytics"
	"github.com/example/continuity/internal/domain"
	"github.com/example/continuity/internal/fetcher"
	"github.com/example/continuity/internal/rules"
	"github.com/example/continuity/internal/store"
	"github.com/example/continuity/internal/validator"
)

// DefaultManuscript is used when a request carries no manuscript id, for
// single-story deployments.
const DefaultManuscript = "default"

// Server handles HTTP requests for the continuity auditor.
type Server struct {
	store     *store.Store
	validator *validator.Orchestrator
	reporter  *analytics.Reporter
	addr      string
}

// New creates a new API server.
func New(s *store.Store, v *validator.Orchestrator, r *analytics.Reporter, addr string) *Server {
	return &Server{store: s, validator: v, reporter: r, addr: addr}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /validate", s.validate)
	mux.HandleFunc("GET /analytics", s.analytics)

	// Graph query surface (read-only projections)
	mux.HandleFunc("GET /graph/nodes", s.listNodes)
	mux.HandleFunc("GET /graph/nodes/{name}", s.nodeDetail)
	mux.HandleFunc("GET /graph/edges", s.listEdges)

	// Seeding surface: entities, facts, knowledge grants, bridging events
	mux.HandleFunc("POST /entities", s.createEntity)
	mux.HandleFunc("POST /facts", s.createFact)
	mux.HandleFunc("POST /knowledge", s.grantKnowledge)
	mux.HandleFunc("POST /events", s.recordEvent)

	mux.HandleFunc("GET /health", s.health)

	return withCORS(mux)
}

// Run starts the HTTP server and serves until ctx is cancelled, then
// drains in-flight requests before returning.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s\n", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// withCORS adds CORS headers for frontend development.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ValidateRequest is the request body for validating a text unit. Either
// text_snippet or url must be set.
type ValidateRequest struct {
	ManuscriptID string `json:"manuscript_id,omitempty"`
	ChapterID    int    `json:"chapter_id"`
	TextSnippet  string `json:"text_snippet,omitempty"`
	URL          string `json:"url,omitempty"`
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ManuscriptID == "" {
		req.ManuscriptID = DefaultManuscript
	}
	if req.ChapterID <= 0 {
		writeError(w, http.StatusBadRequest, "chapter_id must be positive")
		return
	}

	text := req.TextSnippet
	if strings.TrimSpace(text) == "" && req.URL != "" {
		fetched, err := fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Sprintf("fetch url: %v", err))
			return
		}
		text = fetched
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "text_snippet or url is required")
		return
	}

	report, err := s.validator.Validate(r.Context(), req.ManuscriptID, req.ChapterID, text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reporter.Summary(r.Context(), manuscriptParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	kind := domain.EntityKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != domain.KindCharacter && kind != domain.KindLocation {
		writeError(w, http.StatusBadRequest, "kind must be character or location")
		return
	}

	nodes, total, err := s.store.Nodes(r.Context(), manuscriptParam(r), kind, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if nodes == nil {
		nodes = []store.Node{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":  nodes,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) nodeDetail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	detail, err := s.store.NodeDetail(r.Context(), manuscriptParam(r), name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("node %q not found", name))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listEdges(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	q := r.URL.Query()

	edges, total, err := s.store.Edges(r.Context(), manuscriptParam(r),
		q.Get("source"), q.Get("target"), q.Get("type"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if edges == nil {
		edges = []domain.Relationship{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"edges":  edges,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// CreateEntityRequest is the request body for seeding an entity.
type CreateEntityRequest struct {
	ManuscriptID string `json:"manuscript_id,omitempty"`
	Name         string `json:"name"`
	Kind         string `json:"kind,omitempty"`
	Status       string `json:"status,omitempty"`
	Archetype    string `json:"archetype,omitempty"`
	Goal         string `json:"goal,omitempty"`
	Atmosphere   string `json:"atmosphere,omitempty"`
	Chapter      int    `json:"chapter,omitempty"`
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ManuscriptID == "" {
		req.ManuscriptID = DefaultManuscript
	}

	kind := domain.EntityKind(req.Kind)
	if kind == "" {
		kind = domain.KindCharacter
	}
	if kind != domain.KindCharacter && kind != domain.KindLocation {
		writeError(w, http.StatusBadRequest, "kind must be character or location")
		return
	}

	entity, err := s.store.CreateEntity(r.Context(), &domain.Entity{
		ManuscriptID:    req.ManuscriptID,
		Name:            strings.TrimSpace(req.Name),
		Kind:            kind,
		Status:          domain.ParseStatus(req.Status),
		Archetype:       req.Archetype,
		Goal:            req.Goal,
		Atmosphere:      req.Atmosphere,
		LastSeenChapter: req.Chapter,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, entity)
}

// CreateFactRequest is the request body for seeding a fact.
type CreateFactRequest struct {
	ManuscriptID string `json:"manuscript_id,omitempty"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
}

func (s *Server) createFact(w http.ResponseWriter, r *http.Request) {
	var req CreateFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	if req.ManuscriptID == "" {
		req.ManuscriptID = DefaultManuscript
	}

	fact, err := s.store.AddFact(r.Context(), req.ManuscriptID, strings.TrimSpace(req.Label), req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, fact)
}

// GrantKnowledgeRequest records that a character learned a fact.
type GrantKnowledgeRequest struct {
	ManuscriptID string `json:"manuscript_id,omitempty"`
	Character    string `json:"character"`
	Fact         string `json:"fact"`
	Chapter      int    `json:"chapter,omitempty"`
}

func (s *Server) grantKnowledge(w http.ResponseWriter, r *http.Request) {
	var req GrantKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Character == "" || req.Fact == "" {
		writeError(w, http.StatusBadRequest, "character and fact are required")
		return
	}
	if req.ManuscriptID == "" {
		req.ManuscriptID = DefaultManuscript
	}

	err := s.store.GrantKnowledge(r.Context(), req.ManuscriptID, req.Character, req.Fact, req.Chapter)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// RecordEventRequest is the request body for a bridging event.
type RecordEventRequest struct {
	ManuscriptID string `json:"manuscript_id,omitempty"`
	Type         string `json:"type"`
	Chapter      int    `json:"chapter"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Description  string `json:"description,omitempty"`
}

func (s *Server) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.Target == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}
	if req.Chapter <= 0 {
		writeError(w, http.StatusBadRequest, "chapter must be positive")
		return
	}
	if req.ManuscriptID == "" {
		req.ManuscriptID = DefaultManuscript
	}

	eventType := rules.NormalizeType(req.Type)
	if !rules.ValidType(eventType) {
		writeError(w, http.StatusBadRequest, "invalid event type")
		return
	}

	event, err := s.store.RecordEvent(r.Context(), req.ManuscriptID, eventType, req.Chapter,
		req.Source, req.Target, req.Description)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

func manuscriptParam(r *http.Request) string {
	if id := r.URL.Query().Get("manuscript_id"); id != "" {
		return id
	}
	return DefaultManuscript
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
