package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pruner-io/pruner/internal/tuning"
)

// Server exposes the tuning service plus health and metrics endpoints.
type Server struct {
	svc     *tuning.Service
	monitor *Monitor
	server  *http.Server
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(svc *tuning.Service, monitor *Monitor, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc:     svc,
		monitor: monitor,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("POST /api/v1/studies", s.handleCreateStudy)
	mux.HandleFunc("GET /api/v1/studies", s.handleListStudies)
	mux.HandleFunc("GET /api/v1/studies/{id}", s.handleGetStudy)
	mux.HandleFunc("DELETE /api/v1/studies/{id}", s.handleDeleteStudy)
	mux.HandleFunc("POST /api/v1/studies/{id}/state", s.handleSetStudyState)
	mux.HandleFunc("GET /api/v1/studies/{id}/operations", s.handleListOperations)

	mux.HandleFunc("POST /api/v1/studies/{id}/trials", s.handleCreateTrial)
	mux.HandleFunc("GET /api/v1/studies/{id}/trials", s.handleListTrials)
	mux.HandleFunc("GET /api/v1/studies/{id}/trials/{tid}", s.handleGetTrial)
	mux.HandleFunc("POST /api/v1/studies/{id}/trials/{tid}/measurements", s.handleAddMeasurement)
	mux.HandleFunc("POST /api/v1/studies/{id}/trials/{tid}/complete", s.handleCompleteTrial)
	mux.HandleFunc("POST /api/v1/studies/{id}/trials/{tid}/stop", s.handleStopTrial)

	// Collection-level custom verbs (AIP-136 style).
	mux.HandleFunc("POST /api/v1/studies/{id}/trials:suggest", s.handleSuggestTrials)
	mux.HandleFunc("POST /api/v1/studies/{id}/trials:checkStopping", s.handleCheckStopping)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /healthz/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
