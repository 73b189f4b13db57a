package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clachance14/pipetrak/internal/batch"
	"github.com/clachance14/pipetrak/internal/bulk"
	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/config"
	"github.com/clachance14/pipetrak/internal/handler"
	"github.com/clachance14/pipetrak/internal/httpserver"
	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/offline"
	"github.com/clachance14/pipetrak/internal/optimistic"
	"github.com/clachance14/pipetrak/internal/reconcile"
	"github.com/clachance14/pipetrak/internal/repository"
	"github.com/clachance14/pipetrak/internal/service"
	"github.com/clachance14/pipetrak/internal/transport"
	"github.com/clachance14/pipetrak/pkg/db"
	"github.com/clachance14/pipetrak/pkg/logger"
	"github.com/clachance14/pipetrak/pkg/mq"
	"github.com/clachance14/pipetrak/pkg/redis"
)

func main() {
	cfg := config.Load()

	logger := logger.NewLogger()
	defer logger.Sync()

	logger.Info("Starting sync daemon...")

	// DB (local mirror)
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis (offline queue + snapshot dedup)
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	clk := clock.New()

	// Central server client, wrapped in a circuit breaker.
	httpClient := transport.NewHTTPClient(
		cfg.CentralServer.URL,
		time.Duration(cfg.CentralServer.TimeoutSeconds)*time.Second,
	)
	client := transport.NewBreakerClient(httpClient, clk, transport.DefaultBreakerConfig())

	offlineQueue := offline.NewQueue(rdb, cfg.Sync.ProjectScope, logger)
	monitor := offline.NewMonitor(logger)

	callbacks := optimistic.Callbacks{
		OnSuccess: func(intent model.UpdateIntent, confirmed model.Milestone) {
			logger.Debug("Update confirmed",
				zap.String("milestone_id", confirmed.ID),
				zap.String("intent_id", intent.IntentID),
			)
		},
		OnError: func(intent model.UpdateIntent, err error) {
			logger.Warn("Update failed permanently",
				zap.String("milestone_id", intent.MilestoneID),
				zap.String("intent_id", intent.IntentID),
				zap.Error(err),
			)
		},
		OnConflict: func(intent model.UpdateIntent, conflict model.ConflictRecord) {
			logger.Warn("Update conflicted with remote state",
				zap.String("milestone_id", conflict.MilestoneID),
				zap.String("intent_id", intent.IntentID),
			)
		},
	}

	store := optimistic.NewStore(
		client,
		clk,
		offlineQueue,
		monitor,
		callbacks,
		optimistic.Config{
			MaxRetries:    cfg.Sync.MaxRetries,
			RetryBase:     time.Duration(cfg.Sync.RetryBaseMS) * time.Millisecond,
			RetryCap:      time.Duration(cfg.Sync.RetryCapMS) * time.Millisecond,
			DisplayWindow: time.Duration(cfg.Sync.DisplayWindowMS) * time.Millisecond,
			SubmitTimeout: time.Duration(cfg.CentralServer.TimeoutSeconds) * time.Second,
		},
		logger,
	)

	scheduler := batch.NewScheduler(
		store.SubmitIntent,
		clk,
		batch.Config{
			Debounce: time.Duration(cfg.Sync.DebounceMS) * time.Millisecond,
			MaxWait:  time.Duration(cfg.Sync.MaxWaitMS) * time.Millisecond,
			MaxSize:  cfg.Sync.MaxBatchSize,
		},
		logger,
	)
	store.AttachScheduler(scheduler)

	bulkCfg := bulk.DefaultConfig()
	bulkCfg.ChunkSize = cfg.Sync.BulkChunkSize
	orchestrator := bulk.NewOrchestrator(client, clk, bulkCfg, logger)

	// Repositories and services
	milestoneRepo := repository.NewMilestoneRepository(dbConn, logger)
	syncService := service.NewSyncService(store, milestoneRepo, orchestrator, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := syncService.SeedFromMirror(ctx); err != nil {
		logger.Fatal("Failed to seed milestone state from mirror", zap.Error(err))
	}

	// Replay intents parked while the gateway was offline.
	store.FlushOffline(ctx)

	// Snapshot reconciler fed by the central server's event stream.
	deduper := reconcile.NewDeduper(rdb, 24*time.Hour, logger)
	reconciler := reconcile.NewReconciler(store, deduper, milestoneRepo, logger)

	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init DLQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()

	consumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		"milestone.updated.q",
		mq.RoutingKeyMilestoneUpdated,
		logger,
	)
	if err != nil {
		logger.Fatal("Snapshot consumer init failed", zap.Error(err))
	}
	defer consumer.Close()

	consumer.SetHandler(reconciler.HandleSnapshot)
	consumer.SetDLQ(dlqPublisher, func(err error) bool {
		retryable, _ := transport.IsRetryable(err)
		return !retryable
	})

	// Connectivity probe against the central server's health endpoint.
	probeClient := &http.Client{Timeout: 5 * time.Second}
	probe := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.CentralServer.URL+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := probeClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("central server unhealthy: %s", resp.Status)
		}
		return nil
	}
	go monitor.StartProbing(ctx, probe, time.Duration(cfg.Sync.ProbeIntervalSec)*time.Second)

	// HTTP surface
	milestoneHandler := handler.NewMilestoneHandler(syncService, logger)
	bulkHandler := handler.NewBulkHandler(syncService, logger)
	router := httpserver.NewRouter(milestoneHandler, bulkHandler, cfg.JWT.Secret, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("port", cfg.Server.Port))
		return router.Run(":" + cfg.Server.Port)
	})

	g.Go(func() error {
		return consumer.StartConsuming()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down, flushing pending batches")
		scheduler.Flush()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Sync daemon exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Sync daemon stopped")
}
