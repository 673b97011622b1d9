package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/tempo/internal/bulk"
	"github.com/MikeSquared-Agency/tempo/internal/cache"
	"github.com/MikeSquared-Agency/tempo/internal/processor"
	"github.com/MikeSquared-Agency/tempo/internal/store"
	"github.com/MikeSquared-Agency/tempo/internal/synctrack"
)

// SessionReader loads the read model of one session.
type SessionReader interface {
	GetSessionDetail(ctx context.Context, sessionID string) (*store.Detail, error)
}

// Processor runs one guarded session recompute.
type Processor interface {
	Process(ctx context.Context, req processor.Request) (processor.Result, error)
}

// BulkEngine is the bulk job lifecycle.
type BulkEngine interface {
	Prepare(ctx context.Context, m processor.Mode, ids []string) (int, error)
	Run(ctx context.Context) (bulk.Summary, error)
	Cancel() error
	Acknowledge() error
	Snapshot() bulk.Snapshot
}

// SyncController drives the per-provider sync trackers.
type SyncController interface {
	SyncStatus(provider string) synctrack.Progress
	Scan(ctx context.Context, provider string) error
	Sync(ctx context.Context, provider string) error
	Reset(ctx context.Context, provider string) error
}

// Deps are the collaborators behind the routes. Status may be nil.
type Deps struct {
	Sessions  SessionReader
	Cache     *cache.Cache
	Processor Processor
	Bulk      BulkEngine
	Sync      SyncController
	Status    func() any
	// Background is the context bulk runs started over HTTP execute under.
	// Shutdown stops a run through the engine, between items, not through it.
	Background context.Context
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	if deps.Background == nil {
		deps.Background = context.Background()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))

		r.Get("/tempo/status", s.status)

		r.Get("/sessions/{id}", s.getSession)
		r.Post("/sessions/{id}/process", s.processSession)

		r.Get("/bulk", s.bulkStatus)
		r.Post("/bulk", s.startBulk)
		r.Post("/bulk/cancel", s.cancelBulk)
		r.Post("/bulk/ack", s.ackBulk)

		r.Get("/sync/{provider}", s.syncStatus)
		r.Post("/sync/{provider}/scan", s.syncScan)
		r.Post("/sync/{provider}/sync", s.syncStart)
		r.Post("/sync/{provider}/reset", s.syncReset)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, processor.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrInFlight),
		errors.Is(err, bulk.ErrJobActive),
		errors.Is(err, bulk.ErrInvalidTransition),
		errors.Is(err, synctrack.ErrNothingToSync),
		errors.Is(err, synctrack.ErrResetRequired):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"agent": "tempo"}
	if s.deps.Status != nil {
		body["status"] = s.deps.Status()
	}
	writeJSON(w, http.StatusOK, body)
}
