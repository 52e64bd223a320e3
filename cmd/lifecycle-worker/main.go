package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/wolfman30/booking-engine/cmd/mainconfig"
	"github.com/wolfman30/booking-engine/internal/app/bootstrap"
	"github.com/wolfman30/booking-engine/internal/bookings"
	"github.com/wolfman30/booking-engine/internal/config"
	"github.com/wolfman30/booking-engine/internal/events"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("lifecycle worker requires DATABASE_URL")
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	email, provider, _ := bootstrap.BuildEmailSender(ctx, cfg, logger)

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineDeps{
		DB:     pool,
		SQLDB:  sqlDB,
		Redis:  redisClient,
		Email:  email,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to wire booking engine", "error", err)
		os.Exit(1)
	}

	sweeper := bookings.NewSweeper(engine.Repository, engine.Lifecycle, cfg.CompletionGrace, logger.Component("sweeper")).
		WithInterval(cfg.SweepInterval)
	go sweeper.Start(ctx)

	if cfg.EventsQueueURL != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		publisher := events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.EventsQueueURL)
		relay := events.NewRelay(engine.Outbox, publisher, logger.Component("outbox"), cfg.OutboxPollInterval)
		go relay.Run(ctx)
	} else {
		logger.Warn("EVENTS_QUEUE_URL not set, outbox entries stay pending")
	}

	logger.Info("lifecycle worker started",
		"completion_grace", cfg.CompletionGrace,
		"sweep_interval", cfg.SweepInterval,
		"email_provider", provider,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("lifecycle worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
