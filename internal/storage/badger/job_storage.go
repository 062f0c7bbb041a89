package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/models"
)

// reportKeyPrefix namespaces raw report entries away from badgerhold's typed keys
const reportKeyPrefix = "report:"

// JobStore implements interfaces.JobStore on Badger. Job records go through
// badgerhold; report bodies are stored as raw JSON values so large reports are
// never decoded when only the job record is read.
type JobStore struct {
	db     *BadgerDB
	now    func() time.Time
	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore over an open database
func NewJobStore(db *BadgerDB, logger arbor.ILogger) *JobStore {
	return &JobStore{
		db:     db,
		now:    time.Now,
		logger: logger,
	}
}

// CreateJob records a newly submitted job as pending
func (s *JobStore) CreateJob(ctx context.Context, jobID string, request models.ResearchRequest) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	now := s.now().UTC()
	job := &models.StoredJob{
		ID:        jobID,
		Status:    models.JobStatusPending,
		Company:   request.Company,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.Store().Insert(jobID, job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s already exists", jobID)
		}
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// UpdateJob records a status transition in a single transaction
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	store := s.db.Store()
	err := store.Badger().Update(func(tx *badger.Txn) error {
		var job models.StoredJob
		if err := store.TxGet(tx, jobID, &job); err != nil {
			return err
		}
		job.Status = status
		if errMsg != "" {
			job.Error = errMsg
		}
		job.UpdatedAt = s.now().UTC()
		return store.TxUpdate(tx, jobID, &job)
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// StoreReport persists the report text of a completed job
func (s *JobStore) StoreReport(ctx context.Context, jobID string, report string) error {
	data, err := json.Marshal(models.StoredReport{
		JobID:     jobID,
		Report:    report,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	err = s.db.Store().Badger().Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(reportKeyPrefix+jobID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	s.logger.Debug().Str("job_id", jobID).Int("report_length", len(report)).Msg("Report persisted")
	return nil
}

// GetJob returns the stored job or interfaces.ErrNotFound
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.StoredJob, error) {
	var job models.StoredJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetReport returns the stored report or interfaces.ErrNotFound
func (s *JobStore) GetReport(ctx context.Context, jobID string) (*models.StoredReport, error) {
	var data []byte
	err := s.db.Store().Badger().View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(reportKeyPrefix + jobID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("report for job %s: %w", jobID, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report models.StoredReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// Close closes the underlying database
func (s *JobStore) Close() error {
	return s.db.Close()
}
