// -----------------------------------------------------------------------
// Job Registry - in-memory source of truth for live research job state
// -----------------------------------------------------------------------

package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/models"
)

var (
	// ErrDuplicateJob is returned by Create when the job id is already registered
	ErrDuplicateJob = errors.New("job already registered")
	// ErrUnknownJob is returned by Update when the job id is not registered
	ErrUnknownJob = errors.New("unknown job")
	// ErrNotFound is returned by Get for unknown job ids
	ErrNotFound = fmt.Errorf("job %w", interfaces.ErrNotFound)
	// ErrInvalidTransition is returned when a mutation would break the job lifecycle
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Mutation is a partial update applied by Update.
// Report is only accepted with JobStatusCompleted, Error only with JobStatusFailed.
type Mutation struct {
	Status models.JobStatus
	Report string
	Error  string
}

// Options configures retention of terminal records
type Options struct {
	MaxAge     time.Duration // evict terminal records idle longer than this (0 disables)
	MaxEntries int           // capacity bound, oldest terminal records evicted first (0 = unbounded)
	Schedule   string        // cron schedule for the eviction sweep ("" disables the sweep)
}

// Registry maps job ids to their current JobRecord. It performs no I/O.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*models.JobRecord
	opts   Options
	now    func() time.Time
	logger arbor.ILogger
	cron   *cron.Cron
}

// NewRegistry creates an empty registry
func NewRegistry(logger arbor.ILogger, opts Options) *Registry {
	return &Registry{
		jobs:   make(map[string]*models.JobRecord),
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// Create registers a new pending record for jobID
func (r *Registry) Create(jobID string, request models.ResearchRequest) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[jobID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}

	if r.opts.MaxEntries > 0 && len(r.jobs) >= r.opts.MaxEntries {
		evicted := r.evictOldestTerminalLocked(len(r.jobs) - r.opts.MaxEntries + 1)
		if evicted == 0 {
			r.logger.Warn().
				Int("tracked", len(r.jobs)).
				Int("max_entries", r.opts.MaxEntries).
				Msg("Job registry at capacity with no terminal jobs to evict")
		}
	}

	now := r.now()
	r.jobs[jobID] = &models.JobRecord{
		JobID:      jobID,
		Status:     models.JobStatusPending,
		Request:    request,
		CreatedAt:  now,
		LastUpdate: now,
	}
	return nil
}

// Update applies m to the record for jobID and returns the resulting snapshot
func (r *Registry) Update(jobID string, m Mutation) (models.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.jobs[jobID]
	if !exists {
		return models.JobRecord{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	if err := validateMutation(record.Status, m); err != nil {
		return *record, fmt.Errorf("job %s: %w", jobID, err)
	}

	record.Status = m.Status
	switch m.Status {
	case models.JobStatusCompleted:
		record.Report = m.Report
	case models.JobStatusFailed:
		record.Error = m.Error
	}
	record.LastUpdate = r.now()

	return *record, nil
}

func validateMutation(current models.JobStatus, m Mutation) error {
	if !current.CanTransitionTo(m.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, m.Status)
	}
	if m.Report != "" && m.Status != models.JobStatusCompleted {
		return fmt.Errorf("%w: report only allowed on completion", ErrInvalidTransition)
	}
	if m.Error != "" && m.Status != models.JobStatusFailed {
		return fmt.Errorf("%w: error only allowed on failure", ErrInvalidTransition)
	}
	if m.Status == models.JobStatusCompleted && m.Report == "" {
		return fmt.Errorf("%w: completion requires a report", ErrInvalidTransition)
	}
	if m.Status == models.JobStatusFailed && m.Error == "" {
		return fmt.Errorf("%w: failure requires an error message", ErrInvalidTransition)
	}
	return nil
}

// Get returns a copy of the record for jobID
func (r *Registry) Get(jobID string) (models.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.jobs[jobID]
	if !exists {
		return models.JobRecord{}, ErrNotFound
	}
	return *record, nil
}

// Len returns the number of tracked jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Evict removes terminal records older than MaxAge and enforces MaxEntries.
// Live (pending/processing) records are never evicted. Returns the number removed.
func (r *Registry) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	if r.opts.MaxAge > 0 {
		cutoff := r.now().Add(-r.opts.MaxAge)
		for id, record := range r.jobs {
			if record.Status.IsTerminal() && record.LastUpdate.Before(cutoff) {
				delete(r.jobs, id)
				removed++
			}
		}
	}

	if r.opts.MaxEntries > 0 && len(r.jobs) > r.opts.MaxEntries {
		removed += r.evictOldestTerminalLocked(len(r.jobs) - r.opts.MaxEntries)
	}

	return removed
}

func (r *Registry) evictOldestTerminalLocked(n int) int {
	if n <= 0 {
		return 0
	}

	terminal := make([]*models.JobRecord, 0, len(r.jobs))
	for _, record := range r.jobs {
		if record.Status.IsTerminal() {
			terminal = append(terminal, record)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].LastUpdate.Before(terminal[j].LastUpdate)
	})

	if n > len(terminal) {
		n = len(terminal)
	}
	for _, record := range terminal[:n] {
		delete(r.jobs, record.JobID)
	}
	return n
}

// Start schedules the eviction sweep. It is a no-op without a schedule or retention policy.
func (r *Registry) Start() error {
	if r.opts.Schedule == "" || (r.opts.MaxAge <= 0 && r.opts.MaxEntries <= 0) {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.opts.Schedule, r.sweep); err != nil {
		return fmt.Errorf("failed to schedule job eviction: %w", err)
	}
	c.Start()
	r.cron = c

	r.logger.Debug().
		Str("schedule", r.opts.Schedule).
		Dur("max_age", r.opts.MaxAge).
		Int("max_entries", r.opts.MaxEntries).
		Msg("Job registry eviction scheduled")
	return nil
}

// Stop halts the eviction sweep
func (r *Registry) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
		r.cron = nil
	}
}

func (r *Registry) sweep() {
	if removed := r.Evict(); removed > 0 {
		r.logger.Info().
			Int("evicted", removed).
			Int("remaining", r.Len()).
			Msg("Evicted expired research jobs")
	}
}
