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

	"github.com/contexthq/memory-engine/pkg/config"
	"github.com/contexthq/memory-engine/pkg/database"
	"github.com/contexthq/memory-engine/pkg/handlers"
	"github.com/contexthq/memory-engine/pkg/llm"
	"github.com/contexthq/memory-engine/pkg/middleware"
	"github.com/contexthq/memory-engine/pkg/repositories"
	"github.com/contexthq/memory-engine/pkg/retry"
	"github.com/contexthq/memory-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

// shutdownTimeout bounds how long in-flight requests may finish after a
// termination signal.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("memory-engine: " + err.Error() + "\n")
		os.Exit(2)
	}
}

func run() error {
	cfg, err := config.Load(Version)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("database", cfg.Database.Database),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The database may still be starting up alongside us; retry the initial
	// connection with backoff before giving up.
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return database.NewConnection(connectCtx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrationDB, err := database.OpenStdlib(cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	clients, err := llm.NewClients(&cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("create LLM clients: %w", err)
	}
	breaker := llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
	pool := llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger)

	// Repositories
	chatEvents := repositories.NewChatEventRepository(db)
	entities := repositories.NewEntityRepository(db)
	memories := repositories.NewMemoryRepository(db)
	summaries := repositories.NewSummaryRepository(db)
	domain := repositories.NewDomainRepository(db)

	// Services
	embedding := services.NewEmbeddingService(clients.Embedding, cfg.LLM.EmbeddingModel, logger)
	aliases := services.NewAliasService(memories, embedding, logger)
	extraction := services.NewEntityExtractionService(aliases, domain, logger)
	disambiguation := services.NewDisambiguationService(aliases, domain, logger)
	memoryService := services.NewMemoryService(memories, logger)
	classifier := services.NewMemoryClassifier(clients.Chat, logger)
	retrieval := services.NewRetrievalService(memoryService, summaries, domain, logger)
	consolidation := services.NewConsolidationService(memories, memoryService, summaries, domain, embedding, pool, logger)
	explain := services.NewExplainService(memories, entities, logger)

	pipeline := services.NewPipeline(services.PipelineDeps{
		Triage:         services.NewIntentTriage(),
		PII:            services.NewPIIDetector(),
		Extraction:     extraction,
		Disambiguation: disambiguation,
		Retrieval:      retrieval,
		MemoryService:  memoryService,
		Classifier:     classifier,
		Consolidation:  consolidation,
		Embedding:      embedding,
		ChatEvents:     chatEvents,
		Entities:       entities,
		Chat:           clients.Chat,
		Breaker:        breaker,
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(pipeline, logger).RegisterRoutes(mux)
	handlers.NewMemoryHandler(memoryService, consolidation, summaries, logger).RegisterRoutes(mux)
	handlers.NewEntitiesHandler(entities, logger).RegisterRoutes(mux)
	handlers.NewExplainHandler(explain, logger).RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: handler}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting memory-engine",
			zap.String("addr", addr),
			zap.String("version", cfg.Version),
		)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
