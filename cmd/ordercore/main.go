package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/merchlane/ordercore/internal/di"
	"github.com/merchlane/ordercore/internal/handlers"
	"github.com/merchlane/ordercore/internal/platform/config"
	pfirestore "github.com/merchlane/ordercore/internal/platform/firestore"
	"github.com/merchlane/ordercore/internal/platform/jobs"
	"github.com/merchlane/ordercore/internal/platform/observability"
	firestoreRepo "github.com/merchlane/ordercore/internal/repositories/firestore"
	"github.com/merchlane/ordercore/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("ordercore")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
	}

	var pubsubClient *pubsub.Client
	var publisher *jobs.PubSubEventPublisher
	if cfg.PubSub.OrderTopic != "" || cfg.PubSub.InventoryTopic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		var orderTopic, inventoryTopic *pubsub.Topic
		if cfg.PubSub.OrderTopic != "" {
			orderTopic = pubsubClient.Topic(cfg.PubSub.OrderTopic)
		}
		if cfg.PubSub.InventoryTopic != "" {
			inventoryTopic = pubsubClient.Topic(cfg.PubSub.InventoryTopic)
		}
		publisher, err = jobs.NewPubSubEventPublisher(orderTopic, inventoryTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
	}

	serviceLogger := logger.Named("services")
	logFn := func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		serviceLogger.Debug("service log", zFields...)
	}

	containerDeps := di.ContainerDeps{
		Config:       cfg,
		Repositories: registry,
		Build:        buildInfo,
		Logger:       logFn,
	}
	if publisher != nil {
		containerDeps.OrderEvents = publisher
		containerDeps.InventoryEvents = publisher
	}

	container, err := di.NewContainer(ctx, containerDeps)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}

	svcs := container.Services

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup

	sweepLogger := logger.Named("sweeps")
	startSweep(sweepCtx, &sweepWG, cfg.Orders.ProcessSweepInterval, func(runCtx context.Context) {
		result, err := svcs.Orders.ProcessPendingOrders(runCtx)
		if err != nil {
			sweepLogger.Error("pending sweep error", zap.Error(err))
			return
		}
		if result.Transitioned > 0 || result.Failed > 0 {
			sweepLogger.Info("pending sweep completed",
				zap.Int("eligible", result.Eligible),
				zap.Int("transitioned", result.Transitioned),
				zap.Int("failed", result.Failed))
		}
	})
	startSweep(sweepCtx, &sweepWG, cfg.Orders.ShipSweepInterval, func(runCtx context.Context) {
		result, err := svcs.Orders.ShipProcessingOrders(runCtx)
		if err != nil {
			sweepLogger.Error("shipping sweep error", zap.Error(err))
			return
		}
		if result.Transitioned > 0 || result.Failed > 0 {
			sweepLogger.Info("shipping sweep completed",
				zap.Int("eligible", result.Eligible),
				zap.Int("transitioned", result.Transitioned),
				zap.Int("failed", result.Failed))
		}
	})
	startSweep(sweepCtx, &sweepWG, cfg.Updates.FullUpdateInterval, func(runCtx context.Context) {
		result, err := svcs.Updates.ForceFullUpdate(runCtx)
		if err != nil {
			if errors.Is(err, services.ErrUpdateAlreadyInProgress) {
				return
			}
			sweepLogger.Error("full update error", zap.Error(err))
			return
		}
		sweepLogger.Info("full update completed",
			zap.Int("metrics_updated", result.Recalculate.Updated),
			zap.Int("scores_updated", result.Scores.Updated),
			zap.Duration("took", result.FinishedAt.Sub(result.StartedAt)))
	})

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	orderHandlers := handlers.NewOrderHandlers(svcs.Orders)
	inventoryHandlers := handlers.NewInventoryHandlers(svcs.Inventory)
	activityHandlers := handlers.NewActivityHandlers(svcs.Engagement)
	productHandlers := handlers.NewProductHandlers(svcs.Inventory, svcs.Scoring)
	opsHandlers := handlers.NewOpsHandlers(handlers.OpsHandlersDeps{
		Orders:     svcs.Orders,
		Engagement: svcs.Engagement,
		Scoring:    svcs.Scoring,
		Updates:    svcs.Updates,
	})

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(svcs.System)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithInventoryRoutes(inventoryHandlers.Routes),
		handlers.WithActivityRoutes(activityHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithOpsRoutes(opsHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ordercore api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

// startSweep runs fn on the given interval until ctx is cancelled. Each run
// gets its own timeout so a stuck pass cannot block the ticker forever.
func startSweep(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func buildInfoFromEnv(started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("ORDERCORE_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("ORDERCORE_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("ORDERCORE_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
