package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nstogner/datachat/pkg/model"
	"github.com/nstogner/datachat/pkg/runner"
	"github.com/nstogner/datachat/pkg/store"
	"github.com/nstogner/datachat/pkg/transcript"
)

// Server serves the REST and WebSocket API.
type Server struct {
	runner   *runner.Runner
	provider model.Provider
	dataDir  string
	srv      *http.Server

	// ctx outlives individual connections so a question keeps running when
	// its client disconnects.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	broadcasters map[store.Token]*transcript.Broadcaster
}

// New creates a new Server. Uploaded datasets are stored in dataDir.
func New(r *runner.Runner, provider model.Provider, dataDir string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:       r,
		provider:     provider,
		dataDir:      dataDir,
		ctx:          ctx,
		cancel:       cancel,
		broadcasters: make(map[store.Token]*transcript.Broadcaster),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Datasets
	mux.HandleFunc("GET /api/datasets", s.handleListDatasets)
	mux.HandleFunc("POST /api/datasets", s.handleUploadDataset)

	// Sessions
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{token}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{token}/artifacts/{name}", s.handleGetArtifact)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	// WebSocket
	mux.HandleFunc("/api/sessions/{token}/chat", s.handleChatWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting web server", "addr", addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and cancels running questions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// broadcaster returns the event fan-out for a session.
func (s *Server) broadcaster(token store.Token) *transcript.Broadcaster {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasters[token]
	if !ok {
		b = transcript.NewBroadcaster(256)
		s.broadcasters[token] = b
	}
	return b
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
