// -----------------------------------------------------------------------
// Research Handler - job submission, status, reports and PDF artifacts
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/models"
	"github.com/ternarybob/dossier/internal/services/research"
)

// pdfRoutePrefix is where generated reports are served from
const pdfRoutePrefix = "/research/pdf/"

// ResearchService accepts jobs and exposes the in-memory job registry
type ResearchService interface {
	Submit(ctx context.Context, req models.ResearchRequest) (*research.SubmitResult, error)
	Get(jobID string) (models.JobRecord, error)
}

// ResearchHandler serves the research HTTP API
type ResearchHandler struct {
	service ResearchService
	store   interfaces.JobStore // nil means in-memory only
	pdf     interfaces.PDFService
	logger  arbor.ILogger
}

// NewResearchHandler creates the handler. store may be nil.
func NewResearchHandler(service ResearchService, store interfaces.JobStore, pdf interfaces.PDFService, logger arbor.ILogger) *ResearchHandler {
	return &ResearchHandler{
		service: service,
		store:   store,
		pdf:     pdf,
		logger:  logger,
	}
}

// GeneratePDFRequest is the body of POST /generate-pdf
type GeneratePDFRequest struct {
	ReportContent string `json:"report_content"`
	CompanyName   string `json:"company_name,omitempty"`
}

// SubmitHandler handles POST /research
func (h *ResearchHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ResearchRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, research.ErrInvalidRequest) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("company", req.Company).Msg("Failed to submit research job")
		WriteError(w, http.StatusInternalServerError, "Failed to start research")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// GetJobHandler handles GET /research/{job_id}: the stored job first, then the live record
func (h *ResearchHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	if h.store != nil {
		job, err := h.store.GetJob(r.Context(), jobID)
		if err == nil {
			WriteJSON(w, http.StatusOK, job)
			return
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job store lookup failed - using in-memory record")
		}
	}

	record, err := h.service.Get(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Research job not found")
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// GetReportHandler handles GET /research/{job_id}/report
func (h *ResearchHandler) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	report, _, err := h.lookupReport(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Report not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"report": report})
}

// JobResourceHandler handles GET /research/{job_id}/{resource}; only "report" exists
func (h *ResearchHandler) JobResourceHandler(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("resource") {
	case "report":
		h.GetReportHandler(w, r)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// GenerateJobPDFHandler handles POST /research/{job_id}/generate-pdf
func (h *ResearchHandler) GenerateJobPDFHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	report, company, err := h.lookupReport(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Report not found")
		return
	}

	h.writePDF(w, report, company)
}

// GeneratePDFHandler handles POST /generate-pdf from raw report content
func (h *ResearchHandler) GeneratePDFHandler(w http.ResponseWriter, r *http.Request) {
	var req GeneratePDFRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ReportContent) == "" {
		WriteError(w, http.StatusBadRequest, "report_content is required")
		return
	}

	h.writePDF(w, req.ReportContent, req.CompanyName)
}

// ServePDFHandler handles GET /research/pdf/{filename}
func (h *ResearchHandler) ServePDFHandler(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	path, err := h.pdf.ReportPath(filename)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "PDF not found")
			return
		}
		h.logger.Warn().Err(err).Str("filename", filename).Msg("Rejected PDF download")
		WriteError(w, http.StatusBadRequest, "Invalid filename")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}

func (h *ResearchHandler) writePDF(w http.ResponseWriter, report, company string) {
	filename, err := h.pdf.GenerateReportPDF(report, company)
	if err != nil {
		h.logger.Error().Err(err).Str("company", company).Msg("Failed to generate PDF")
		WriteError(w, http.StatusInternalServerError, "Failed to generate PDF")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"pdf_url": pdfRoutePrefix + filename,
	})
}

// lookupReport returns a completed job's report and company from the store, else the registry
func (h *ResearchHandler) lookupReport(ctx context.Context, jobID string) (string, string, error) {
	if h.store != nil {
		stored, err := h.store.GetReport(ctx, jobID)
		if err == nil {
			company := ""
			if job, err := h.store.GetJob(ctx, jobID); err == nil {
				company = job.Company
			} else if record, err := h.service.Get(jobID); err == nil {
				company = record.Company()
			}
			return stored.Report, company, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Report store lookup failed - using in-memory record")
		}
	}

	record, err := h.service.Get(jobID)
	if err != nil {
		return "", "", err
	}
	result := record.Result()
	if result == nil {
		return "", "", fmt.Errorf("job %s has no report: %w", jobID, interfaces.ErrNotFound)
	}
	return result.Report, result.Company, nil
}
