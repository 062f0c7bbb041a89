package interfaces

import (
	"context"
	"iter"

	"github.com/ternarybob/dossier/internal/models"
)

// Notifier lets pipeline stages publish intermediate progress for a job
type Notifier interface {
	Notify(ctx context.Context, jobID, stage, message string)
}

// PipelineInput carries the originating request into a pipeline run
type PipelineInput struct {
	JobID      string
	Company    string
	URL        string
	Industry   string
	HQLocation string
	Notifier   Notifier
}

// Pipeline produces a lazy sequence of partial state maps for one research job.
// A non-nil error ends the run; the consumer stops iterating on the first error.
type Pipeline interface {
	Run(ctx context.Context, input PipelineInput) iter.Seq2[models.State, error]
}
