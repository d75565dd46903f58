package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/querymesh"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/orchestrator"
	"github.com/hupe1980/querymesh/session"
)

// Backend answers queries and exposes the stores the API reads from.
// *querymesh.QueryMesh implements it.
type Backend interface {
	Query(ctx context.Context, req querymesh.Request, callback core.StreamCallback) (orchestrator.Result, error)
	Sessions() *session.InMemoryStore
	Connections() datasource.ConnectionStore
}

var _ Backend = (*querymesh.QueryMesh)(nil)

// Options configures a Server.
type Options struct {
	// Addr is the listen address of ListenAndServe.
	Addr string

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// CheckOrigin validates websocket origins. Nil allows all origins.
	CheckOrigin func(r *http.Request) bool

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Server exposes the query stream over websocket plus a small JSON API.
type Server struct {
	opts     Options
	backend  Backend
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// New creates a server for backend.
func New(backend Backend, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            ":8080",
		Logger:          logging.NoOpLogger{},
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		opts:    opts,
		backend: backend,
		logger:  logging.Scoped(opts.Logger, "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /ws/query", s.handleQueryWS)
	mux.HandleFunc("GET /api/connections", s.listConnections)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.backend.Connections().ListConnections(r.Context())
	if err != nil {
		s.logger.Error("list connections", "error", err.Error())
		jsonError(w, "failed to list connections", http.StatusInternalServerError)
		return
	}
	if conns == nil {
		conns = []datasource.ConnectionInfo{}
	}
	jsonResponse(w, conns)
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, map[string][]string{"sessions": s.backend.Sessions().IDs()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.backend.Sessions().Get(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Sessions().Delete(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	if errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
