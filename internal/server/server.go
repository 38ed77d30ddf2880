// Package server exposes the item store over HTTP: CRUD endpoints,
// named mutations, full-text search, and a WebSocket feed of live
// item events. It stands in for the managed backend the clients talk
// to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/auth"
	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/search"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Config holds the server's collaborators.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Store backs every endpoint. Required.
	Store store.Store

	// Searcher serves /search. Required.
	Searcher *search.Searcher

	// Logger receives request failures and lifecycle messages.
	// Required.
	Logger *zap.Logger

	// JWTSecret, when non-empty, makes every endpoint require an
	// HS256 bearer token signed with it.
	JWTSecret string
}

// Event is one entry on the /events WebSocket feed.
type Event struct {
	Type string     `json:"type"` // "created" | "updated" | "deleted"
	Item model.Item `json:"item"`
}

// envelope mirrors the {data, errors} result shape on the wire.
type envelope struct {
	Data   any      `json:"data,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// itemPayload is the request body for create and update.
type itemPayload struct {
	Content string       `json:"content"`
	Status  model.Status `json:"status"`
}

// Server serves the item store API.
type Server struct {
	st       store.Store
	searcher *search.Searcher
	logger   *zap.Logger
	secret   string
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds a server; call Run to serve.
func New(cfg Config) *Server {
	s := &Server{
		st:       cfg.Store,
		searcher: cfg.Searcher,
		logger:   cfg.Logger,
		secret:   cfg.JWTSecret,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items", s.handleList)
	mux.HandleFunc("POST /items", s.handleCreate)
	mux.HandleFunc("PUT /items/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /items/{id}", s.handleDelete)
	mux.HandleFunc("POST /mutations/{name}", s.handleMutation)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.requireAuth(mux),
	}
	return s
}

// Handler returns the root handler, auth middleware included. Used by
// tests to serve over httptest.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()
	s.logger.Info("server listening", zap.String("addr", s.httpSrv.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		s.logger.Info("server stopped")
		return nil
	}
}

// requireAuth validates HS256 bearer tokens when a secret is
// configured; otherwise it is a pass-through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := auth.StripBearer(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.secret), nil
		})
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}
	items, err := s.st.Query(r.Context(), status)
	if err != nil {
		s.logger.Warn("list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: items})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if payload.Status == "" {
		payload.Status = model.StatusPending
	}
	res, err := s.st.Create(r.Context(), payload.Content, payload.Status)
	s.writeResult(w, res, err, http.StatusCreated)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := s.st.Update(r.Context(), r.PathValue("id"), payload.Content, payload.Status)
	s.writeResult(w, res, err, http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	res, err := s.st.Delete(r.Context(), r.PathValue("id"))
	s.writeResult(w, res, err, http.StatusOK)
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request) {
	var args store.Args
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := s.st.InvokeMutation(r.Context(), r.PathValue("name"), args)
	s.writeResult(w, res, err, http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	items, err := s.searcher.Search(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: items})
}

// handleEvents upgrades to WebSocket and streams store events until
// the client disconnects. All three subscriptions are cancelled on
// exit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes, so an event published
	// right after the client's dial returns is not lost.
	createSub := s.st.OnCreate()
	updateSub := s.st.OnUpdate()
	deleteSub := s.st.OnDelete()
	defer createSub.Cancel()
	defer updateSub.Cancel()
	defer deleteSub.Cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Read loop exists only to observe the close from the client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var event Event
		var ok bool
		select {
		case item, alive := <-createSub.C:
			event, ok = Event{Type: "created", Item: item}, alive
		case item, alive := <-updateSub.C:
			event, ok = Event{Type: "updated", Item: item}, alive
		case item, alive := <-deleteSub.C:
			event, ok = Event{Type: "deleted", Item: item}, alive
		case <-done:
			return
		}
		if !ok {
			return // store closed
		}
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// writeResult maps a store result envelope to HTTP: transport errors
// are 500s, envelope errors are 422s, success uses okStatus.
func (s *Server) writeResult(w http.ResponseWriter, res store.Result, err error, okStatus int) {
	if err != nil {
		s.logger.Warn("store operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store operation failed")
		return
	}
	if !res.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, envelope{Errors: res.Errors})
		return
	}
	writeJSON(w, okStatus, envelope{Data: res.Item})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Errors: []string{msg}})
}
