// Package httpapi exposes health, metrics, and transform-meta status
// endpoints, using a chi router with standard logging/recovery/cors middleware.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/pipelake/internal/metastore"
)

// StepStatus summarizes one step's transform-meta health.
type StepStatus struct {
	Name          string `json:"name"`
	TotalRows     int    `json:"totalRows"`
	SuccessRows   int    `json:"successRows"`
	FailedRows    int    `json:"failedRows"`
}

// StatusSource answers /status by listing each registered step's transform
// meta, without the server needing to know about catalog/step internals.
type StatusSource interface {
	StepStatuses(ctx context.Context) ([]StepStatus, error)
}

// Server is the engine's health/metrics/status HTTP surface.
type Server struct {
	router *chi.Mux
	status StatusSource
	log    *slog.Logger
	srv    *http.Server
}

// New builds a Server bound to addr. status may be nil, in which case
// /status reports an empty list.
func New(addr string, status StatusSource, log *slog.Logger) *Server {
	s := &Server{router: chi.NewRouter(), status: status, log: log}
	s.routes()
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/metrics", promhttp.Handler().ServeHTTP)
	s.router.Get("/status", s.handleStatus)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, []StepStatus{})
		return
	}
	statuses, err := s.status.StepStatuses(r.Context())
	if err != nil {
		s.log.Error("status lookup failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the server; it blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// TransformMetaStatusSource adapts a set of named TransformMetaTables into
// a StatusSource.
type TransformMetaStatusSource struct {
	Tables map[string]*metastore.TransformMetaTable
}

func (t TransformMetaStatusSource) StepStatuses(ctx context.Context) ([]StepStatus, error) {
	var out []StepStatus
	for name, tm := range t.Tables {
		rows, err := tm.All(ctx)
		if err != nil {
			return nil, err
		}
		st := StepStatus{Name: name, TotalRows: len(rows)}
		for _, r := range rows {
			if r.IsSuccess {
				st.SuccessRows++
			} else {
				st.FailedRows++
			}
		}
		out = append(out, st)
	}
	return out, nil
}
