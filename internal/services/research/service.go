// -----------------------------------------------------------------------
// Research Service - job submission and background execution
// -----------------------------------------------------------------------

package research

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/jobs/state"
	"github.com/ternarybob/dossier/internal/models"
)

// ErrInvalidRequest wraps validation failures at the submission boundary
var ErrInvalidRequest = errors.New("invalid research request")

// Broadcaster fans status events out to a job's subscribers
type Broadcaster interface {
	Broadcast(ctx context.Context, jobID string, event models.StatusEvent) int
}

// SubmitResult is returned synchronously from Submit
type SubmitResult struct {
	Status       string `json:"status"`
	JobID        string `json:"job_id"`
	Message      string `json:"message"`
	WebSocketURL string `json:"websocket_url"`
}

// Options configures the service
type Options struct {
	StartDelay time.Duration // grace period before a job starts so observers can attach
}

// Service accepts research jobs and runs each one as an independent background task
type Service struct {
	registry    *state.Registry
	broadcaster Broadcaster
	pipeline    interfaces.Pipeline
	store       interfaces.JobStore // nil means in-memory only
	validate    *validator.Validate
	tasks       *common.TaskGroup
	opts        Options
	logger      arbor.ILogger

	// ctx is the parent of every job run; cancelled only on Close
	ctx    context.Context
	cancel context.CancelFunc
}

// Compile-time assertion
var _ interfaces.Notifier = (*Service)(nil)

// NewService creates a research service. store may be nil.
func NewService(registry *state.Registry, broadcaster Broadcaster, pipeline interfaces.Pipeline, store interfaces.JobStore, opts Options, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		registry:    registry,
		broadcaster: broadcaster,
		pipeline:    pipeline,
		store:       store,
		validate:    newValidator(),
		tasks:       common.NewTaskGroup(logger),
		opts:        opts,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Submit registers a new job, starts it in the background and returns immediately
func (s *Service) Submit(ctx context.Context, req models.ResearchRequest) (*SubmitResult, error) {
	req = normalizeRequest(req)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}

	jobID := common.NewJobID()

	s.logger.Info().
		Str("job_id", jobID).
		Str("company", req.Company).
		Msg("Received research request")

	if s.store != nil {
		if err := s.store.CreateJob(ctx, jobID, req); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist new job - continuing in memory")
		}
	}

	if err := s.registry.Create(jobID, req); err != nil {
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	s.tasks.Go("research:"+jobID, func() {
		s.process(jobID, req)
	}, func(recovered interface{}, _ string) {
		s.fail(s.ctx, jobID, fmt.Sprintf("internal error: %v", recovered), "Research failed unexpectedly")
	})

	return &SubmitResult{
		Status:       "accepted",
		JobID:        jobID,
		Message:      "Research started. Connect to WebSocket for updates.",
		WebSocketURL: "/research/ws/" + jobID,
	}, nil
}

// Get returns the current in-memory record for jobID
func (s *Service) Get(jobID string) (models.JobRecord, error) {
	return s.registry.Get(jobID)
}

// Notify publishes an intermediate progress event for a running job
func (s *Service) Notify(ctx context.Context, jobID, stage, message string) {
	record, err := s.registry.Get(jobID)
	if err != nil || record.Status != models.JobStatusProcessing {
		return
	}

	event := models.NewStatusEvent(jobID, models.JobStatusProcessing, message)
	event.Stage = stage
	// A cancelled stage context must not fail the subscribers' sends
	s.broadcaster.Broadcast(context.WithoutCancel(ctx), jobID, event)
}

// Active returns the number of jobs still executing
func (s *Service) Active() int {
	return s.tasks.Active()
}

// Wait blocks until every running job has finished or ctx is done
func (s *Service) Wait(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

// Close cancels running jobs and waits for them to record their terminal state
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	return s.tasks.Wait(ctx)
}

func normalizeRequest(req models.ResearchRequest) models.ResearchRequest {
	req.Company = strings.TrimSpace(req.Company)
	req.CompanyURL = strings.TrimSpace(req.CompanyURL)
	req.Industry = strings.TrimSpace(req.Industry)
	req.HQLocation = strings.TrimSpace(req.HQLocation)
	return req
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
