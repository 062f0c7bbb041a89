package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/jobs/state"
	"github.com/ternarybob/dossier/internal/models"
)

// DefaultNoReportError is the failure reason when the pipeline finishes without a report or error
const DefaultNoReportError = "No report found"

// process is the job body: pending -> processing -> completed|failed
func (s *Service) process(jobID string, req models.ResearchRequest) {
	ctx := s.ctx
	logger := s.logger.WithCorrelationId(jobID)

	if s.opts.StartDelay > 0 {
		timer := time.NewTimer(s.opts.StartDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			s.fail(ctx, jobID, ctx.Err().Error(), "Research cancelled before start")
			return
		}
	}

	if !s.transition(ctx, jobID, state.Mutation{Status: models.JobStatusProcessing}, "Starting research", nil) {
		return
	}

	input := interfaces.PipelineInput{
		JobID:      jobID,
		Company:    req.Company,
		URL:        req.CompanyURL,
		Industry:   req.Industry,
		HQLocation: req.HQLocation,
		Notifier:   s,
	}

	merged := models.State{}
	updates := 0
	for update, err := range s.pipeline.Run(ctx, input) {
		if err != nil {
			logger.Error().Err(err).Int("updates", updates).Msg("Research pipeline failed")
			s.fail(ctx, jobID, err.Error(), "Research failed: "+err.Error())
			return
		}
		merged.Merge(update)
		updates++
	}

	report := extractReport(merged)
	if report == "" {
		logger.Error().
			Strs("state_keys", merged.Keys()).
			Msg("Research completed without finding report")
		s.fail(ctx, jobID, noReportError(merged), "Research completed but no report was generated")
		return
	}

	logger.Info().Int("report_length", len(report)).Msg("Found report in final state")

	if s.store != nil {
		if err := s.store.StoreReport(ctx, jobID, report); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist report - continuing in memory")
		}
	}

	s.transition(ctx, jobID,
		state.Mutation{Status: models.JobStatusCompleted, Report: report},
		"Research completed successfully",
		&models.StatusResult{Report: report, Company: req.Company},
	)
}

// fail records a terminal failure unless the job already reached a terminal state
func (s *Service) fail(ctx context.Context, jobID, errMsg, message string) {
	if strings.TrimSpace(errMsg) == "" {
		errMsg = "unknown error"
	}
	s.transition(ctx, jobID, state.Mutation{Status: models.JobStatusFailed, Error: errMsg}, message, nil)
}

// transition updates the registry, mirrors the status to the durable store and
// broadcasts the event. It returns false when the registry rejects the mutation,
// in which case nothing is persisted or broadcast.
func (s *Service) transition(ctx context.Context, jobID string, m state.Mutation, message string, result *models.StatusResult) bool {
	record, err := s.registry.Update(jobID, m)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("status", string(m.Status)).
			Msg("Rejected job status transition")
		return false
	}

	if s.store != nil {
		// Detached from job cancellation so the terminal state still lands during shutdown
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := s.store.UpdateJob(storeCtx, jobID, m.Status, m.Error); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist job status - continuing in memory")
		}
		cancel()
	}

	event := models.NewStatusEvent(jobID, record.Status, message)
	event.Result = result
	event.Error = record.Error

	delivered := s.broadcaster.Broadcast(context.WithoutCancel(ctx), jobID, event)

	s.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(record.Status)).
		Int("delivered", delivered).
		Msg("Job status published")
	return true
}

// extractReport returns the report text from the merged pipeline state.
// The canonical location is the top-level "report" key; "editor.report" is
// accepted from pipelines whose final stage nests its output.
func extractReport(st models.State) string {
	if report := stringValue(st[models.StateKeyReport]); report != "" {
		return report
	}

	switch editor := st[models.StateKeyEditor].(type) {
	case models.State:
		return stringValue(editor[models.StateKeyReport])
	case map[string]interface{}:
		return stringValue(editor[models.StateKeyReport])
	}
	return ""
}

// noReportError derives the failure reason for a run that produced no report
func noReportError(st models.State) string {
	if msg := stringValue(st[models.StateKeyError]); msg != "" {
		return "Error: " + msg
	}
	return DefaultNoReportError
}

// stringValue returns v as text, or "" when v is blank or not textual
func stringValue(v interface{}) string {
	var text string
	switch val := v.(type) {
	case string:
		text = val
	case error:
		text = val.Error()
	case fmt.Stringer:
		text = val.String()
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}
