// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint/postgres"
	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint/redis"
	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint/sqlite"
	"github.com/capitalize-ai/scheduling-assistant/internal/classifier"
	"github.com/capitalize-ai/scheduling-assistant/internal/config"
	"github.com/capitalize-ai/scheduling-assistant/internal/domain"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/handler"
	"github.com/capitalize-ai/scheduling-assistant/internal/llm"
	natsclient "github.com/capitalize-ai/scheduling-assistant/internal/nats"
	"github.com/capitalize-ai/scheduling-assistant/internal/service"
	"github.com/capitalize-ai/scheduling-assistant/internal/workflow"
	"github.com/capitalize-ai/scheduling-assistant/pkg/codec"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
	"github.com/capitalize-ai/scheduling-assistant/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log.Info("starting API server",
		zap.String("checkpoint_backend", cfg.CheckpointBackend),
		zap.Bool("nats_events", cfg.NATSEventsEnabled))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "scheduling-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	checks := map[string]handler.ReadinessCheck{}

	var natsClient *natsclient.Client
	if cfg.NeedsNATS() {
		c, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer c.Close()
		natsClient = c
		checks["nats"] = func(context.Context) error {
			if !c.IsConnected() {
				return errors.New("NATS not connected")
			}
			return nil
		}
	}

	serializer, err := codec.New(codec.Format(cfg.CheckpointCodec), codec.Compression(cfg.CheckpointCompression))
	if err != nil {
		return fmt.Errorf("invalid checkpoint codec: %w", err)
	}
	store, closeStore, err := openStore(ctx, cfg, serializer, natsClient, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		return err
	}

	retries := uint64(cfg.CollaboratorRetries)
	var llmOpts []classifier.LLMOption
	if cfg.LLMModel != "" {
		llmOpts = append(llmOpts, classifier.WithModel(cfg.LLMModel))
	}
	intents := classifier.WithRetry(classifier.NewLLM(llmClient, llmOpts...), retries, log)

	// The bundled calendar is in-memory; a production deployment plugs its
	// calendar service in behind domain.Backend.
	calendar := domain.WithRetry(domain.NewMemory(domain.Workspace{ID: "default", Name: "Default"}), retries, log)

	g, err := workflow.Build(workflow.Deps{
		Classifier:          intents,
		Events:              calendar,
		Conflicts:           calendar,
		Resolver:            calendar,
		Chat:                llmClient,
		ChatModel:           cfg.LLMModel,
		Logger:              log,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to build workflow: %w", err)
	}

	exec, err := graph.NewExecutor(g, store,
		graph.WithLogger(log),
		graph.WithMaxSteps(cfg.MaxStepsPerTurn),
		graph.WithMaxLoops(cfg.MaxSlotFillingTurns),
		graph.WithBackend(cfg.CheckpointBackend))
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	svcOpts := []service.Option{service.WithLogger(log)}
	var events handler.EventSource
	if cfg.NATSEventsEnabled {
		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		svcOpts = append(svcOpts, service.WithPublisher(streamManager))
		events = streamManager
	}
	assistant := service.NewAssistantService(exec, store, svcOpts...)

	routerCfg := handler.RouterConfig{
		Threads:           handler.NewThreadHandler(assistant, log),
		Health:            handler.NewHealthHandler(checks),
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		CORSOrigins:       cfg.CORSOrigins,
	}
	if events != nil {
		routerCfg.Events = handler.NewEventsHandler(assistant, events, log)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// newLogger returns the JSON production logger, or the console logger when
// LOG_FORMAT=console.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.LogFormat == "console" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	provider := llm.Provider(cfg.DefaultLLM)
	key := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	// Fall back to whichever provider has a key.
	if key == "" {
		switch {
		case cfg.AnthropicAPIKey != "":
			provider, key = llm.ProviderAnthropic, cfg.AnthropicAPIKey
		case cfg.OpenAIAPIKey != "":
			provider, key = llm.ProviderOpenAI, cfg.OpenAIAPIKey
		default:
			return nil, errors.New("ANTHROPIC_API_KEY or OPENAI_API_KEY is required for intent classification")
		}
	}
	client, err := llm.NewClient(provider, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}

func openStore(ctx context.Context, cfg *config.Config, serializer *codec.Serializer, nc *natsclient.Client, checks map[string]handler.ReadinessCheck) (checkpoint.Store, func(), error) {
	noop := func() {}

	switch cfg.CheckpointBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithSerializer(serializer))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil

	case config.BackendPostgres:
		s, err := postgres.Connect(ctx, cfg.PostgresDSN, serializer)
		if err != nil {
			return nil, noop, err
		}
		checks["postgres"] = s.Ping
		return s, s.Close, nil

	case config.BackendRedis:
		s, err := redis.New(ctx, cfg.RedisAddr,
			redis.WithPassword(cfg.RedisPassword),
			redis.WithDB(cfg.RedisDB),
			redis.WithSerializer(serializer))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil

	case config.BackendNATS:
		s, err := natsclient.NewKVStore(ctx, nc, serializer)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	}

	return checkpoint.NewMemoryStore(), noop, nil
}
