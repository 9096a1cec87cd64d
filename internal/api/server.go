// Package api assembles the control plane's HTTP surface: router, global
// middleware chain, and graceful shutdown, following the teacher's
// cmd/api/main.go router-assembly pattern split into a reusable type.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/videogen/internal/config"
	"github.com/ocx/videogen/internal/events"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/handlers"
	"github.com/ocx/videogen/internal/ledger"
	"github.com/ocx/videogen/internal/objectstore"
	"github.com/ocx/videogen/internal/queue"
	"github.com/ocx/videogen/internal/ratelimit"
	"github.com/ocx/videogen/internal/security"
	"github.com/ocx/videogen/internal/store"
	"github.com/ocx/videogen/internal/streaming"
)

// Dependencies collects every collaborator a handler needs. Server wires
// them into the router; it holds no business logic of its own.
type Dependencies struct {
	Config    *config.Config
	Store     store.Store
	Fabric    fabric.Gateway
	Ledger    *ledger.Ledger
	Queue     *queue.Queue
	Bus       *events.DurableBus
	Hub       *streaming.Hub
	Objects   objectstore.ObjectStore
	Validator *security.Validator
	Limiter   *ratelimit.Limiter
}

// Server wraps an http.Server with the videogen control plane's route
// table and middleware chain.
type Server struct {
	httpServer *http.Server
	cfg        *config.Config
}

// New builds the router and wraps it in an http.Server using the
// configured timeouts. It does not start listening.
func New(deps Dependencies) *Server {
	cfg := deps.Config
	router := mux.NewRouter()

	router.Use(handlers.RequestIDMiddleware)
	router.Use(handlers.LoggingMiddleware)
	router.Use(handlers.CORSMiddleware(cfg))

	uploadHandler := handlers.NewUploadHandler(cfg, deps.Store, deps.Objects, deps.Ledger, deps.Queue, deps.Limiter)
	jobsHandler := handlers.NewJobsHandler(deps.Store, deps.Fabric)
	cancelHandler := handlers.NewCancelHandler(deps.Store, deps.Fabric, deps.Queue)
	streamHandler := handlers.NewStreamHandler(deps.Store, deps.Validator, deps.Bus, deps.Hub)
	downloadHandler := handlers.NewDownloadHandler(deps.Store, deps.Objects)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Fabric, deps.Queue)

	// Health is unauthenticated so orchestrators/load balancers can probe it.
	router.Handle("/api/v1/health", healthHandler).Methods(http.MethodGet)

	authed := router.PathPrefix("/api/v1").Subrouter()
	authed.Use(handlers.AuthMiddleware(deps.Validator))

	authed.Handle("/upload-audio", uploadHandler).Methods(http.MethodPost)
	authed.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)
	authed.Handle("/jobs/{id}/cancel", cancelHandler).Methods(http.MethodPost)
	authed.Handle("/jobs/{id}/download", downloadHandler).Methods(http.MethodGet)

	// The stream endpoint authenticates itself (EventSource can't set
	// headers, so it also accepts the token as a query parameter) and is
	// therefore registered on the unauthenticated router rather than under
	// the AuthMiddleware subrouter.
	router.Handle("/api/v1/jobs/{id}/stream", streamHandler).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         cfg.Server.Interface + ":" + cfg.GetPort(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	return &Server{httpServer: httpServer, cfg: cfg}
}

// Run starts listening and blocks until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout. If ListenAndServe
// fails first, Run returns that error at once without a shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("videogen control plane starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down control plane")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
