// memoryd is the persistent memory daemon: it owns the knowledge event log,
// retrieval, graph linking, and prompt composition, and exposes them over a
// thin HTTP facade.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"mnemo-backend/internal/config"
	"mnemo-backend/internal/embedding"
	"mnemo-backend/internal/interfaces/http/rest"
	"mnemo-backend/internal/observability"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/repository/ddb"
	memstore "mnemo-backend/internal/repository/memory"
	"mnemo-backend/internal/repository/sqlitevec"
	"mnemo-backend/internal/service/composer"
	"mnemo-backend/internal/service/conversation"
	"mnemo-backend/internal/service/graph"
	"mnemo-backend/internal/service/ledger"
	"mnemo-backend/internal/service/retrieval"
	"mnemo-backend/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	var metrics *observability.Collector
	if cfg.EnableMetrics {
		metrics = observability.NewCollector("mnemo")
	}

	if cfg.EnableTracing {
		shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName: "mnemo-backend",
			Environment: cfg.Environment,
			Endpoint:    cfg.OTLPEndpoint,
		})
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					logger.Warn("tracer shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	provider, err := embedding.NewProvider(embedding.Config{
		Provider:       cfg.EmbeddingProvider,
		GenAIAPIKey:    cfg.GenAIAPIKey,
		GenAIModel:     cfg.GenAIModel,
		OllamaEndpoint: cfg.OllamaEndpoint,
		OllamaModel:    cfg.OllamaModel,
	})
	if err != nil {
		logger.Fatal("failed to create embedding provider", zap.Error(err))
	}

	store, cleanup, err := newStore(ctx, cfg, provider.Dimensions())
	if err != nil {
		logger.Fatal("failed to create knowledge store", zap.Error(err))
	}
	if cleanup != nil {
		defer cleanup()
	}

	pool := worker.NewPool(cfg.WorkerCount, cfg.WorkerQueueDepth,
		time.Duration(cfg.WorkerTimeoutMS)*time.Millisecond, logger, metrics)

	linker := graph.NewLinker(store, logger)
	ledgerSvc := ledger.NewService(store, provider, linker, pool, logger, metrics)
	engine := retrieval.NewEngine(store, provider, logger, metrics)
	continuity := conversation.NewContinuityRetriever(engine, logger)
	comp := composer.NewComposer(logger)

	if cfg.DynamicConfigPath != "" {
		watcher, err := config.NewWatcher(cfg.DynamicConfigPath, logger)
		if err != nil {
			logger.Warn("dynamic config watcher disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
			watcher.OnChange(func(dc *config.DynamicConfig) {
				logger.Info("retrieval limits updated",
					zap.Float64("threshold", dc.Retrieval.Threshold),
					zap.Int("limit", dc.Retrieval.Limit))
			})
		}
	}

	handler := rest.NewHandler(ledgerSvc, engine, continuity, comp, logger)
	router := rest.NewRouter(handler, metrics, logger)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting memoryd",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.String("store", cfg.StoreBackend),
			zap.String("embeddingProvider", provider.Name()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// Drain queued side effects before the store goes away.
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

func newStore(ctx context.Context, cfg *config.Config, dims int) (repository.KnowledgeStore, func(), error) {
	switch cfg.StoreBackend {
	case "dynamodb":
		awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, err
		}
		return ddb.NewStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, ""), nil, nil
	case "sqlite":
		store, err := sqlitevec.NewStore(cfg.SQLitePath, dims)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return memstore.NewStore(), nil, nil
	}
}
