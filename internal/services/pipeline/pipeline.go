// -----------------------------------------------------------------------
// Research Pipeline - grounding, parallel research and editing stages
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/models"
)

// Stage names reported through the Notifier
const (
	StageGrounding = "grounding"
	StageResearch  = "research"
	StageEditor    = "editor"
)

// State keys yielded by the pipeline
const (
	StateKeyCompany   = "company"
	StateKeySite      = "site_scrape"
	StateKeyBriefings = "briefings"
)

// Options configures the pipeline
type Options struct {
	MaxParallelism int     // concurrent research topics (0 = one per topic)
	Topics         []Topic // research tracks (nil = DefaultTopics)
}

// Fetcher retrieves grounding material from a company website
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*SiteContent, error)
}

// ResearchPipeline produces a company report in three stages: grounding on the
// company website, parallel topic research, and an editor pass.
type ResearchPipeline struct {
	fetcher Fetcher
	llm     interfaces.LLMService
	opts    Options
	logger  arbor.ILogger
}

// Compile-time assertion
var _ interfaces.Pipeline = (*ResearchPipeline)(nil)

// NewResearchPipeline creates the pipeline. fetcher may be nil to skip grounding.
func NewResearchPipeline(fetcher Fetcher, llm interfaces.LLMService, opts Options, logger arbor.ILogger) *ResearchPipeline {
	if len(opts.Topics) == 0 {
		opts.Topics = DefaultTopics
	}
	return &ResearchPipeline{
		fetcher: fetcher,
		llm:     llm,
		opts:    opts,
		logger:  logger,
	}
}

// Run yields one partial state per completed stage. The final state carries "report".
// Iteration stops at the first error or when the consumer stops ranging.
func (p *ResearchPipeline) Run(ctx context.Context, input interfaces.PipelineInput) iter.Seq2[models.State, error] {
	return func(yield func(models.State, error) bool) {
		logger := p.logger.WithCorrelationId(input.JobID)
		startTime := time.Now()

		site := p.ground(ctx, input, logger)
		grounding := models.State{StateKeyCompany: input.Company}
		if site != nil {
			grounding[StateKeySite] = site
		}
		if !yield(grounding, nil) {
			return
		}

		briefings, err := p.research(ctx, input, site, logger)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(models.State{StateKeyBriefings: briefings}, nil) {
			return
		}

		report, err := p.edit(ctx, input, briefings)
		if err != nil {
			yield(nil, err)
			return
		}

		logger.Info().
			Str("company", input.Company).
			Int("report_length", len(report)).
			Dur("duration", time.Since(startTime)).
			Msg("Research pipeline finished")

		yield(models.State{models.StateKeyReport: report}, nil)
	}
}

// ground fetches the company website. Failures are reported and tolerated.
func (p *ResearchPipeline) ground(ctx context.Context, input interfaces.PipelineInput, logger arbor.ILogger) *SiteContent {
	if p.fetcher == nil || strings.TrimSpace(input.URL) == "" {
		return nil
	}

	p.notify(ctx, input, StageGrounding, fmt.Sprintf("Crawling website %s", input.URL))

	site, err := p.fetcher.Fetch(ctx, input.URL)
	if err != nil {
		logger.Warn().Err(err).Str("url", input.URL).Msg("Website grounding failed - continuing without site content")
		p.notify(ctx, input, StageGrounding, "Website could not be crawled, continuing with research")
		return nil
	}

	p.notify(ctx, input, StageGrounding, fmt.Sprintf("Website crawled: %s", site.Title))
	return site
}

// research runs every topic concurrently and returns the briefings by topic key
func (p *ResearchPipeline) research(ctx context.Context, input interfaces.PipelineInput, site *SiteContent, logger arbor.ILogger) (map[string]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	if p.opts.MaxParallelism > 0 {
		g.SetLimit(p.opts.MaxParallelism)
	}

	var mu sync.Mutex
	briefings := make(map[string]string, len(p.opts.Topics))

	for _, topic := range p.opts.Topics {
		g.Go(func() error {
			stage := StageResearch + ":" + topic.Key
			p.notify(gctx, input, stage, fmt.Sprintf("Researching %s", strings.ToLower(topic.Title)))

			text, err := p.llm.Generate(gctx, researcherSystemPrompt, researchPrompt(topic, input, site))
			if err != nil {
				return fmt.Errorf("%s research failed: %w", topic.Key, err)
			}

			mu.Lock()
			briefings[topic.Key] = text
			mu.Unlock()

			logger.Debug().
				Str("topic", topic.Key).
				Int("briefing_length", len(text)).
				Msg("Research topic completed")
			p.notify(gctx, input, stage, fmt.Sprintf("%s complete", topic.Title))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return briefings, nil
}

// edit compiles the briefings into the final markdown report
func (p *ResearchPipeline) edit(ctx context.Context, input interfaces.PipelineInput, briefings map[string]string) (string, error) {
	p.notify(ctx, input, StageEditor, "Compiling final report")

	report, err := p.llm.Generate(ctx, editorSystemPrompt, editorPrompt(input, p.opts.Topics, briefings))
	if err != nil {
		return "", fmt.Errorf("editor failed: %w", err)
	}

	report = strings.TrimSpace(report)
	if report != "" && !strings.HasPrefix(report, "# ") {
		report = fmt.Sprintf("# %s Research Report\n\n%s", input.Company, report)
	}
	return report, nil
}

func (p *ResearchPipeline) notify(ctx context.Context, input interfaces.PipelineInput, stage, message string) {
	if input.Notifier != nil {
		input.Notifier.Notify(ctx, input.JobID, stage, message)
	}
}
