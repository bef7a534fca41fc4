package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/moments-api/internal/config"
	"github.com/phrazzld/moments-api/internal/events"
	"github.com/phrazzld/moments-api/internal/inference"
	"github.com/phrazzld/moments-api/internal/pipeline"
	"github.com/phrazzld/moments-api/internal/platform/gemini"
	"github.com/phrazzld/moments-api/internal/platform/postgres"
	"github.com/phrazzld/moments-api/internal/platform/redis"
	"github.com/phrazzld/moments-api/internal/platform/thumbnail"
	"github.com/phrazzld/moments-api/internal/service"
	"github.com/phrazzld/moments-api/internal/service/auth"
	"github.com/phrazzld/moments-api/internal/task"
	goredis "github.com/redis/go-redis/v9"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	jwtService     auth.JWTService
	taskService    service.TaskService
	historyService service.HistoryService
	userService    service.UserService

	eventEmitter *events.InMemoryEventEmitter

	// worker is nil when this process only serves the API.
	worker *task.Worker

	// redisClient and notifier are nil when no redis URL is configured.
	redisClient *goredis.Client
	notifier    *redis.Notifier
}

// newApplication creates a new application instance with all dependencies initialized.
// The database connection must already be established.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	userStore := postgres.NewPostgresUserStore(db, logger)
	taskStore := postgres.NewPostgresTaskStore(db, logger)
	accountStore := postgres.NewPostgresAccountStore(db, logger)

	pipelines := pipeline.DefaultPipelines()
	app.eventEmitter = events.NewInMemoryEventEmitter(logger)

	if cfg.Worker.Enabled {
		registry, err := buildRegistry(ctx, cfg, logger, accountStore)
		if err != nil {
			return nil, err
		}
		if err := registry.Validate(pipelines); err != nil {
			return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
		}

		app.worker = task.NewWorker(taskStore, registry, task.WorkerConfig{
			PollInterval: cfg.Worker.PollInterval(),
		}, logger)
		app.eventEmitter.RegisterHandler(task.NewWakeOnCreate(app.worker, logger))
	}

	if cfg.Redis.URL != "" {
		app.redisClient, err = redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.notifier = redis.NewNotifier(app.redisClient, cfg.Redis.Channel, logger)
		app.eventEmitter.RegisterHandler(app.notifier)
		logger.Info("Redis task notifications enabled", "channel", cfg.Redis.Channel)
	}

	app.taskService = service.NewTaskService(taskStore, pipelines, app.eventEmitter, logger)
	app.historyService = service.NewHistoryService(accountStore, logger)
	app.userService = service.NewUserService(userStore, auth.NewBcryptVerifier(), logger)

	logger.Info("Application initialized successfully")
	return app, nil
}

// buildRegistry wires the moments_optimize handlers to their collaborators.
func buildRegistry(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	accounts *postgres.PostgresAccountStore,
) (*pipeline.Registry, error) {
	vision, text, err := buildModels(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	thumbs, err := thumbnail.NewStore(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize thumbnail store: %w", err)
	}

	handlers, err := pipeline.NewMomentsHandlers(pipeline.Dependencies{
		Vision:     vision,
		Text:       text,
		Credits:    accounts,
		History:    accounts,
		Thumbnails: thumbs,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline handlers: %w", err)
	}
	return pipeline.NewRegistry(handlers), nil
}

// buildModels selects the inference provider and puts a circuit breaker in
// front of each model.
func buildModels(
	ctx context.Context,
	cfg config.LLMConfig,
	logger *slog.Logger,
) (inference.VisionModel, inference.TextModel, error) {
	var (
		vision inference.VisionModel
		text   inference.TextModel
	)

	switch cfg.Provider {
	case "stub":
		vision, text = inference.StubModel{}, inference.StubModel{}
		logger.Warn("Using stub inference provider")
	case "gemini":
		client, err := gemini.NewClient(ctx, logger.With("component", "gemini"), cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize gemini client: %w", err)
		}
		vision, text = client, client
		logger.Info("Gemini client initialized",
			"vision_model", cfg.VisionModel,
			"text_model", cfg.TextModel)
	default:
		return nil, nil, fmt.Errorf("%w: unknown provider %q", inference.ErrInvalidConfig, cfg.Provider)
	}

	settings := inference.DefaultBreakerSettings()
	return inference.WithVisionBreaker(vision, settings, logger),
		inference.WithTextBreaker(text, settings, logger),
		nil
}

// Run starts the background loops and the HTTP server and blocks until ctx
// is canceled and everything has stopped.
func (app *application) Run(ctx context.Context) error {
	loopCtx, cancelLoops := context.WithCancel(ctx)
	var wg sync.WaitGroup
	app.startBackground(loopCtx, &wg)

	err := app.startHTTPServer(ctx, app.setupRouter())

	cancelLoops()
	wg.Wait()
	app.cleanup()

	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// startBackground launches the worker and the redis listener.
func (app *application) startBackground(ctx context.Context, wg *sync.WaitGroup) {
	if app.worker == nil {
		app.logger.Info("Task worker disabled in this process")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.worker.Run(ctx)
	}()

	if app.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.notifier.Listen(ctx, app.worker); err != nil {
				// Polling still picks tasks up.
				app.logger.Error("Redis listener stopped", "error", err)
			}
		}()
	}
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Error closing redis client", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
