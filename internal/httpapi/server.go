// Package httpapi exposes the ingestion and query surface over HTTP: job
// submission, status, cancellation, the SSE progress stream, and semantic
// queries.
package httpapi

import (
	"net/http"

	"citegraph/internal/jobs"
	"citegraph/internal/rag"
)

// Server wires the handlers to the job manager and resolver.
type Server struct {
	manager  *jobs.Manager
	resolver *rag.Resolver
	mux      *http.ServeMux
}

// NewServer builds the HTTP API.
func NewServer(manager *jobs.Manager, resolver *rag.Resolver) *Server {
	s := &Server{manager: manager, resolver: resolver, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /ingest", s.handleIngest)
	s.mux.HandleFunc("GET /jobs/{jobID}", s.handleJobStatus)
	s.mux.HandleFunc("POST /jobs/{jobID}/cancel", s.handleJobCancel)
	s.mux.HandleFunc("POST /jobs/{jobID}/retry", s.handleJobRetry)
	s.mux.HandleFunc("GET /jobs/{jobID}/stream", s.handleJobStream)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}
