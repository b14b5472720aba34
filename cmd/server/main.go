package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course-billing/config"
	"course-billing/internal/api"
	"course-billing/internal/broker"
	"course-billing/internal/notification"
	"course-billing/internal/paystack"
	"course-billing/internal/redisclient"
	"course-billing/internal/service"
	"course-billing/internal/store"
	"course-billing/internal/util"
	"course-billing/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting course billing service")

	tp, err := util.InitTracer(util.TracingConfig{
		ServiceName:    "course-billing",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBilling)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gateway := paystack.NewClient(
		cfg.Paystack.BaseURL,
		cfg.Paystack.SecretKey,
		time.Duration(cfg.Paystack.TimeoutSeconds)*time.Second,
	)

	orderService := service.NewOrderService(
		db,
		gateway,
		redisClient,
		eventPublisher,
		time.Duration(cfg.Billing.IdempotencyTTLHours)*time.Hour,
	).WithInitializeTimeout(time.Duration(cfg.Paystack.InitTimeoutSeconds) * time.Second)
	reconciler := service.NewReconciler(
		db,
		gateway,
		redisClient,
		eventPublisher,
		time.Duration(cfg.Billing.ReconcileLockSeconds)*time.Second,
	).WithAbandonAfter(time.Duration(cfg.Billing.AbandonAfterHours) * time.Hour)
	purchaseService := service.NewPurchaseService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notifier := notification.NewNotifier(
		cfg.Email.From,
		cfg.Email.FromName,
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPass,
	)
	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBilling, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, notifier)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	sweeper := worker.NewSweeper(
		reconciler,
		cfg.Billing.SweepCron,
		time.Duration(cfg.Billing.SweepMinAgeMinutes)*time.Minute,
		cfg.Billing.SweepBatch,
	)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start pending sweeper: %v", err)
	}

	limiter := api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 10*time.Minute)
	go limiter.RunCleanup(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		orderService,
		reconciler,
		purchaseService,
		cfg.Auth.JWTSecret,
		limiter,
		map[string]api.Pinger{
			"database": db,
			"redis":    redisClient,
		},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	sweeper.Stop()
	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		log.Printf("Error stopping notification worker: %v", err)
	}

	log.Println("Server exited")
}
