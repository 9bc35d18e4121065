// Package httpapi exposes an editing session over HTTP: chain edits,
// compatibility queries, execution plans and commits, plus Prometheus
// metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Benny93/chainlab/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Server represents the editor API server
type Server struct {
	router  *mux.Router
	session *session.Session
	metrics *Metrics
	logger  *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics replaces the default metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates an API server over sess.
func NewServer(sess *session.Session, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		session: sess,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics("chainlab", func() float64 {
			return float64(len(sess.Chains()))
		})
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestMiddleware)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/catalog/modules", s.handleModules).Methods("GET")
	api.HandleFunc("/stored", s.handleStored).Methods("GET")

	api.HandleFunc("/chains", s.handleListChains).Methods("GET")
	api.HandleFunc("/chains", s.handleCreateChain).Methods("POST")
	api.HandleFunc("/chains/{id}", s.handleGetChain).Methods("GET")
	api.HandleFunc("/chains/{id}", s.handleDeleteChain).Methods("DELETE")

	api.HandleFunc("/chains/{id}/nodes", s.handleAddNode).Methods("POST")
	api.HandleFunc("/chains/{id}/nodes/{node}", s.handleRemoveNode).Methods("DELETE")
	api.HandleFunc("/chains/{id}/links", s.handleAddLink).Methods("POST")
	api.HandleFunc("/chains/{id}/links/{link}", s.handleRemoveLink).Methods("DELETE")

	api.HandleFunc("/chains/{id}/candidates", s.handleCandidates).Methods("GET")
	api.HandleFunc("/chains/{id}/free-inputs", s.handleFreeInputs).Methods("GET")
	api.HandleFunc("/chains/{id}/plan", s.handlePlan).Methods("GET")

	api.HandleFunc("/chains/{id}/clone", s.handleClone).Methods("POST")
	api.HandleFunc("/chains/{id}/lock", s.handleLock).Methods("POST")
	api.HandleFunc("/chains/{id}/unlock", s.handleUnlock).Methods("POST")
	api.HandleFunc("/chains/{id}/commit", s.handleCommit).Methods("POST")
}

// ListenAndServe serves the API on addr until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("editor API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
