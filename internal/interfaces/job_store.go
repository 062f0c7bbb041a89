package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/dossier/internal/models"
)

// ErrNotFound is returned by JobStore implementations for unknown job ids or missing reports
var ErrNotFound = errors.New("not found")

// JobStore is the optional durable record of jobs and reports.
// The in-memory registry stays authoritative for live status; store failures are best-effort.
type JobStore interface {
	// CreateJob records a newly submitted job as pending
	CreateJob(ctx context.Context, jobID string, request models.ResearchRequest) error

	// UpdateJob records a status transition; errMsg is only persisted when non-empty
	UpdateJob(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error

	// StoreReport persists the report text of a completed job
	StoreReport(ctx context.Context, jobID string, report string) error

	// GetJob returns the stored job or ErrNotFound
	GetJob(ctx context.Context, jobID string) (*models.StoredJob, error)

	// GetReport returns the stored report or ErrNotFound
	GetReport(ctx context.Context, jobID string) (*models.StoredReport, error)

	// Close releases the underlying connection
	Close() error
}
