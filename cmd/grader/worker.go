package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/content"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/prompt"
	"github.com/noah-isme/gema-grader/internal/queue"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the grading queue",
	Long:  "Runs the grading consumer slots and serves /health and /metrics on the ops port until SIGINT or SIGTERM.",
	RunE:  runWorker,
}

var workerSlots int

func init() {
	workerCmd.Flags().IntVar(&workerSlots, "slots", 0, "Number of concurrent consumer slots (overrides GRADER_WORKER_SLOTS)")

	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if workerSlots > 0 {
		cfg.WorkerSlots = workerSlots
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.WorkerSlots*2)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("grading events disabled")
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	source, err := content.NewGitHubSource(content.GitHubConfig{
		BaseURL:    cfg.ContentBaseURL,
		Repository: cfg.ContentRepository,
		Ref:        cfg.ContentRef,
		Token:      cfg.ContentToken,
		Timeout:    cfg.ContentTimeout,
	})
	if err != nil {
		return err
	}

	compiler, err := prompt.NewCompiler(cfg.PromptTemplatePath, cfg.DefaultLanguage)
	if err != nil {
		return err
	}

	providers, closeProviders, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProviders()

	validate := validator.New(validator.WithRequiredStructEnabled())
	jobs := queue.NewRedisQueue(redisClient, cfg.QueueKey, cfg.WorkerID, cfg.LeaseTTL)

	worker := service.NewGradingWorker(
		jobs,
		repository.NewExerciseSubmissionRepository(db),
		content.NewRubricResolver(source, redisClient, validate, logger, content.ResolverConfig{CacheTTL: cfg.RubricCacheTTL}),
		compiler,
		ai.NewFallbackClient(providers, cfg.ProviderTimeout, logger),
		service.NewResultValidator(validate),
		service.NewGradingEventPublisher(redisClient, natsConn, cfg.EventChannel),
		service.GradingWorkerConfig{
			Slots:          cfg.WorkerSlots,
			MaxAttempts:    cfg.MaxAttempts,
			DequeueWait:    cfg.DequeueWait,
			LeaseHeartbeat: cfg.LeaseTTL / 3,
		},
		logger.With().Str("worker_id", cfg.WorkerID).Logger(),
	)

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ServerHeader:          cfg.AppName,
		DisableStartupMessage: true,
	})
	redisProbe := func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}
	router.Register(app, cfg, router.Dependencies{
		Queue:  jobs,
		Probes: map[string]handler.Probe{
			"postgres": sqlDB.PingContext,
			"redis":    redisProbe,
		},
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Error().Err(err).Msg("ops listener stopped")
		}
	}()

	logger.Info().
		Strs("providers", cfg.EnabledProviders()).
		Str("queue", cfg.QueueKey).
		Str("ops_addr", cfg.HTTPAddress()).
		Msg("grader starting")

	runErr := worker.Run(ctx)
	shutdown(app, logger)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func buildProviders(ctx context.Context, cfg config.Config) ([]ai.Provider, func(), error) {
	var (
		providers []ai.Provider
		closers   []func() error
	)
	closeAll := func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}

	for _, name := range cfg.EnabledProviders() {
		switch name {
		case "gemini":
			gemini, err := ai.NewGeminiGrader(ctx, ai.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			providers = append(providers, gemini)
			closers = append(closers, gemini.Close)
		case "openai":
			openAI, err := ai.NewOpenAIGrader(ai.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL})
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			providers = append(providers, openAI)
		}
	}

	return providers, closeAll, nil
}

func shutdown(app *fiber.App, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("grader stopped")
}
