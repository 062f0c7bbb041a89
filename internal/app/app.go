// -----------------------------------------------------------------------
// App - dependency wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/handlers"
	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/jobs/state"
	"github.com/ternarybob/dossier/internal/services/broadcast"
	"github.com/ternarybob/dossier/internal/services/llm"
	"github.com/ternarybob/dossier/internal/services/pdf"
	"github.com/ternarybob/dossier/internal/services/pipeline"
	"github.com/ternarybob/dossier/internal/services/research"
	"github.com/ternarybob/dossier/internal/storage"
)

// shutdownTimeout bounds how long Close waits for running jobs to record a terminal state
const shutdownTimeout = 10 * time.Second

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// JobStore is nil when storage type is memory
	JobStore interfaces.JobStore

	// Job tracking and status fan-out
	Registry         *state.Registry
	BroadcastManager *broadcast.Manager

	// Research
	LLMService      interfaces.LLMService
	Pipeline        *pipeline.ResearchPipeline
	ResearchService *research.Service
	PDFService      *pdf.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	ResearchHandler *handlers.ResearchHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	ctx := context.Background()

	if err := app.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("provider", app.LLMService.Name()).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initStorage(ctx context.Context) error {
	store, err := storage.NewJobStore(ctx, a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.JobStore = store
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	a.Registry = state.NewRegistry(a.Logger, state.Options{
		MaxAge:     common.ParseDurationOr(a.Config.Jobs.RetentionMaxAge, 0),
		MaxEntries: a.Config.Jobs.MaxEntries,
		Schedule:   a.Config.Jobs.EvictionSchedule,
	})
	if err := a.Registry.Start(); err != nil {
		return fmt.Errorf("failed to start job registry: %w", err)
	}

	a.BroadcastManager = broadcast.NewManager(a.Logger, broadcast.Options{
		SendTimeout:      common.ParseDurationOr(a.Config.WebSocket.SendTimeout, 5*time.Second),
		ProgressInterval: common.ParseDurationOr(a.Config.WebSocket.ProgressInterval, 0),
	})

	llmService, err := llm.NewLLMService(ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM service: %w", err)
	}
	a.LLMService = llmService

	fetcher := pipeline.NewWebsiteFetcher(pipeline.FetcherOptions{
		Timeout:   common.ParseDurationOr(a.Config.Research.FetchTimeout, 20*time.Second),
		UserAgent: a.Config.Research.UserAgent,
		MaxBytes:  int64(a.Config.Research.MaxSiteBytes),
		MaxChars:  a.Config.Research.MaxContextChars,
	}, a.Logger)

	a.Pipeline = pipeline.NewResearchPipeline(fetcher, a.LLMService, pipeline.Options{
		MaxParallelism: a.Config.Research.MaxParallelism,
	}, a.Logger)

	a.ResearchService = research.NewService(a.Registry, a.BroadcastManager, a.Pipeline, a.JobStore, research.Options{
		StartDelay: common.ParseDurationOr(a.Config.Research.StartDelay, time.Second),
	}, a.Logger)

	a.PDFService = pdf.NewService(a.Config.Reports.Dir, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.ResearchService, a.Logger)
	a.ResearchHandler = handlers.NewResearchHandler(a.ResearchService, a.JobStore, a.PDFService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.BroadcastManager, a.ResearchService, &a.Config.WebSocket, a.Config.Server.AllowedOrigins, a.Logger)
}

// Close stops running jobs, disconnects subscribers and releases storage
func (a *App) Close() error {
	if a.ResearchService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.ResearchService.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Int("active_jobs", a.ResearchService.Active()).Msg("Research jobs did not finish before shutdown")
		}
		cancel()
	}

	if a.BroadcastManager != nil {
		a.BroadcastManager.CloseAll()
	}

	if a.Registry != nil {
		a.Registry.Stop()
	}

	if a.JobStore != nil {
		if err := a.JobStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close job store")
		} else {
			a.Logger.Info().Msg("Job store closed")
		}
	}

	return nil
}
