package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Research jobs
	mux.HandleFunc("POST /research", s.app.ResearchHandler.SubmitHandler)
	mux.HandleFunc("GET /research/{job_id}", s.app.ResearchHandler.GetJobHandler)
	mux.HandleFunc("GET /research/{job_id}/{resource}", s.app.ResearchHandler.JobResourceHandler) // report
	mux.HandleFunc("POST /research/{job_id}/generate-pdf", s.app.ResearchHandler.GenerateJobPDFHandler)

	// Status stream
	mux.HandleFunc("GET "+wsRoutePrefix+"{job_id}", s.app.WSHandler.HandleStatusStream)

	// PDF artifacts
	mux.HandleFunc("POST /generate-pdf", s.app.ResearchHandler.GeneratePDFHandler)
	mux.HandleFunc("GET /research/pdf/{filename}", s.app.ResearchHandler.ServePDFHandler)

	// System
	mux.HandleFunc("GET /api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("GET /api/health", s.app.APIHandler.HealthHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
