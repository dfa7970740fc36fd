package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/vacademy-io/notify-delivery-api/internal/channel"
	"github.com/vacademy-io/notify-delivery-api/internal/directory"
	"github.com/vacademy-io/notify-delivery-api/internal/handler"
	"github.com/vacademy-io/notify-delivery-api/internal/middleware"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/internal/repository"
	"github.com/vacademy-io/notify-delivery-api/internal/service"
	"github.com/vacademy-io/notify-delivery-api/pkg/cache"
	"github.com/vacademy-io/notify-delivery-api/pkg/config"
	"github.com/vacademy-io/notify-delivery-api/pkg/database"
	"github.com/vacademy-io/notify-delivery-api/pkg/jobs"
	"github.com/vacademy-io/notify-delivery-api/pkg/logger"
	corsmiddleware "github.com/vacademy-io/notify-delivery-api/pkg/middleware/cors"
	reqidmiddleware "github.com/vacademy-io/notify-delivery-api/pkg/middleware/requestid"
	"github.com/vacademy-io/notify-delivery-api/pkg/mq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	announcementRepo := repository.NewAnnouncementRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	configRepo := repository.NewDeliveryConfigRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	directoryClient := directory.NewClient(cfg.Directory, logr)
	contentClient := directory.NewContentClient(cfg.Directory, logr)

	senders := channel.Registry{
		models.MediumEmail:    channel.NewEmailSender(cfg.Channels),
		models.MediumWhatsApp: channel.NewWhatsAppSender(cfg.Channels),
		models.MediumPush:     channel.NewPushSender(cfg.Channels),
	}

	var dispatchQueue *jobs.Queue
	metrics := service.NewMetricsService(func() float64 {
		if dispatchQueue == nil {
			return 0
		}
		return float64(dispatchQueue.Depth())
	})

	hub := service.NewFanoutService(cacheRepo, ticketRepo, metrics, cfg.Fanout, logr)
	resolver := service.NewResolverService(directoryClient, logr)

	orchestrator := service.NewOrchestratorService(service.OrchestratorDeps{
		DB:            db,
		Announcements: announcementRepo,
		Specs:         recipientRepo,
		Configs:       configRepo,
		Tickets:       ticketRepo,
		Outbox:        outboxRepo,
		Resolver:      resolver,
		Cache:         cacheRepo,
		Events:        hub,
		Metrics:       metrics,
		CacheTTL:      cfg.Fanout.RecipientCacheTTL,
		Logger:        logr,
	})

	dispatcher := service.NewDispatchService(service.DispatchDeps{
		Tickets:       ticketRepo,
		Configs:       configRepo,
		Contents:      contentClient,
		Users:         directoryClient,
		Announcements: announcementRepo,
		Senders:       senders,
		Events:        hub,
		Metrics:       metrics,
		RatePerSecond: cfg.Channels.RatePerSecond,
		BatchSize:     cfg.Dispatch.BatchSize,
		Logger:        logr,
	})

	dispatchQueue = jobs.NewQueue("dispatch", service.DispatchJobHandler(dispatcher), jobs.QueueConfig{
		Workers:    cfg.Dispatch.Workers,
		BufferSize: cfg.Dispatch.BufferSize,
		MaxRetries: cfg.Dispatch.MaxRetries,
		RetryDelay: cfg.Dispatch.RetryDelay,
		Logger:     logr,
	})
	dispatchQueue.Start(ctx)
	defer dispatchQueue.Stop()

	relayDeps := service.OutboxRelayDeps{
		Outbox:     outboxRepo,
		Queue:      dispatchQueue,
		Dispatcher: dispatcher,
		Interval:   cfg.Dispatch.RelayInterval,
		BatchSize:  cfg.Dispatch.BatchSize,
		Logger:     logr,
	}

	var broker *mq.Client
	if cfg.Queue.Enabled {
		broker, err = mq.NewClient(cfg.Queue.URL, cfg.Queue.QueueName, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to rabbitmq", "error", err)
		}
		defer broker.Close()
		relayDeps.Publisher = broker

		go func() {
			if err := broker.Consume(ctx, service.DispatchMessageHandler(ctx, dispatcher)); err != nil && !errors.Is(err, context.Canceled) {
				logr.Sugar().Errorw("rabbitmq consumer stopped", "error", err)
			}
		}()
	}

	relay := service.NewOutboxRelay(relayDeps)
	go relay.Run(ctx)

	scheduler := service.NewSchedulerService(scheduleRepo, announcementRepo, orchestrator, cacheRepo,
		validator.New(), cfg.Scheduler.TickInterval, cfg.Scheduler.LockTTL, logr)
	go scheduler.Run(ctx)

	recovery := service.NewRecoveryService(announcementRepo, ticketRepo, dispatcher,
		cfg.Recovery.StuckAfter, cfg.Recovery.StartupWindow, logr)
	if cfg.Recovery.RecoverOnStartup {
		go func() {
			report, err := recovery.AutoRecoverOnStartup(ctx)
			if err != nil {
				logr.Sugar().Errorw("startup recovery failed", "error", err)
				return
			}
			logr.Sugar().Infow("startup recovery finished", "scanned", report.Scanned, "recovered", len(report.Recovered))
		}()
	}

	go hub.Run(ctx)

	interactions := service.NewInteractionService(ticketRepo, logr)

	deliveryHandler := handler.NewDeliveryHandler(orchestrator, recovery, interactions)
	scheduleHandler := handler.NewScheduleHandler(scheduler)
	streamHandler := handler.NewStreamHandler(hub)
	metricsHandler := handler.NewMetricsHandler(metrics, db, redisClient)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		announcements := api.Group("/announcements/:id")
		announcements.POST("/deliver", deliveryHandler.Deliver)
		announcements.POST("/restart", deliveryHandler.Restart)
		announcements.GET("/status", deliveryHandler.Status)
		announcements.POST("/read", deliveryHandler.Read)
		announcements.POST("/schedule", scheduleHandler.Schedule)
		announcements.GET("/schedule", scheduleHandler.Get)
		announcements.DELETE("/schedule", scheduleHandler.Cancel)

		api.GET("/stream", streamHandler.Stream)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
