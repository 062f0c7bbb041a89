// -----------------------------------------------------------------------
// Postgres JobStore - research jobs and reports on pgx
// -----------------------------------------------------------------------

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS research_jobs (
    job_id      TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    company     TEXT NOT NULL,
    company_url TEXT NOT NULL DEFAULT '',
    industry    TEXT NOT NULL DEFAULT '',
    hq_location TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS research_jobs_status_idx ON research_jobs (status);
CREATE TABLE IF NOT EXISTS research_reports (
    job_id     TEXT PRIMARY KEY,
    report     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`

// JobStore implements interfaces.JobStore on a pgx connection pool
type JobStore struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.JobStore = (*JobStore)(nil)

// NewJobStore connects, verifies the connection and ensures the schema exists
func NewJobStore(ctx context.Context, logger arbor.ILogger, config *common.PostgresConfig) (*JobStore, error) {
	cfg, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if config.MaxConns > 0 {
		cfg.MaxConns = config.MaxConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info().
		Str("host", cfg.ConnConfig.Host).
		Str("database", cfg.ConnConfig.Database).
		Msg("Postgres job store initialized")

	return &JobStore{pool: pool, logger: logger}, nil
}

// CreateJob records a newly submitted job as pending
func (s *JobStore) CreateJob(ctx context.Context, jobID string, request models.ResearchRequest) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO research_jobs (job_id, status, company, company_url, industry, hq_location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		jobID, string(models.JobStatusPending), request.Company, request.CompanyURL,
		request.Industry, request.HQLocation, now)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// UpdateJob records a status transition; an empty errMsg keeps the stored error
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE research_jobs
		SET status = $2,
		    error = CASE WHEN $3::text = '' THEN error ELSE $3::text END,
		    updated_at = $4
		WHERE job_id = $1`,
		jobID, string(status), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
	}
	return nil
}

// StoreReport persists the report text, replacing any earlier report for the job
func (s *JobStore) StoreReport(ctx context.Context, jobID string, report string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO research_reports (job_id, report, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET report = EXCLUDED.report, created_at = EXCLUDED.created_at`,
		jobID, report, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	return nil
}

// GetJob returns the stored job or interfaces.ErrNotFound
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.StoredJob, error) {
	var (
		job    models.StoredJob
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, status, company, company_url, industry, hq_location, error, created_at, updated_at
		FROM research_jobs WHERE job_id = $1`, jobID).Scan(
		&job.ID, &status, &job.Company, &job.Request.CompanyURL, &job.Request.Industry,
		&job.Request.HQLocation, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.Request.Company = job.Company
	return &job, nil
}

// GetReport returns the stored report or interfaces.ErrNotFound
func (s *JobStore) GetReport(ctx context.Context, jobID string) (*models.StoredReport, error) {
	var report models.StoredReport
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, report, created_at FROM research_reports WHERE job_id = $1`, jobID).Scan(
		&report.JobID, &report.Report, &report.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report for job %s: %w", jobID, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &report, nil
}

// Close releases the pool
func (s *JobStore) Close() error {
	s.pool.Close()
	return nil
}
