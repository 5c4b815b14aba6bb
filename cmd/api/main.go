package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/api/handlers"
	"github.com/retail-insights/backend/internal/cache/redis"
	"github.com/retail-insights/backend/internal/engine/warehouse"
	"github.com/retail-insights/backend/internal/executor"
	"github.com/retail-insights/backend/internal/llm"
	"github.com/retail-insights/backend/internal/metrics"
	"github.com/retail-insights/backend/internal/middleware/ratelimit"
	"github.com/retail-insights/backend/internal/middleware/security"
	"github.com/retail-insights/backend/internal/middleware/validation"
	"github.com/retail-insights/backend/internal/notify"
	"github.com/retail-insights/backend/internal/orchestrator"
	"github.com/retail-insights/backend/internal/sqlgen"
	"github.com/retail-insights/backend/internal/storage/sqlite"
	"github.com/retail-insights/backend/internal/summarize"
	"github.com/retail-insights/backend/pkg/config"
	appLogger "github.com/retail-insights/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Retail Insights API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Engine.OutputLocation, 0o755); err != nil {
		appLogger.Fatal("Failed to create query output directory", zap.Error(err))
	}

	queryEngine := warehouse.New(
		sqliteClient.DB(),
		cfg.Engine.Database,
		cfg.Engine.OutputLocation,
		cfg.Engine.MaxConcurrent,
	)
	defer queryEngine.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	generator := sqlgen.NewGenerator(llmClient, sqlgen.DefaultSchema())

	exec := executor.New(queryEngine, executor.Config{
		Database:       cfg.Engine.Database,
		OutputLocation: cfg.Engine.OutputLocation,
		PollInterval:   cfg.Executor.PollInterval,
		Deadline:       cfg.Executor.Deadline,
		MaxAttempts:    cfg.Executor.MaxAttempts,
		MaxResultRows:  cfg.Executor.MaxResultRows,
		MaxResultBytes: cfg.Executor.MaxResultBytes,
		PollWorkers:    cfg.Executor.PollWorkers,
	}, sqliteClient)
	defer exec.Close()

	summarizer := summarize.NewSummarizer(llmClient, summarize.Config{
		MaxSampleRows:  cfg.Summarize.MaxSampleRows,
		MaxSampleBytes: cfg.Summarize.MaxSampleBytes,
	})

	var resultStore notify.ResultStore
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		resultStore = redisClient
	} else {
		appLogger.Warn("Redis disabled, delivery records are held in memory")
		resultStore = notify.NewMemoryStore()
	}

	sender := notify.NewSMTPSender(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort, cfg.Notify.Sender)
	dispatcher := notify.NewDispatcher(sender, resultStore, cfg.Notify.MaxAttempts)

	pipeline := orchestrator.New(sqliteClient, generator, exec, summarizer, dispatcher, orchestrator.Config{
		Workers:   cfg.Orchestrator.Workers,
		QueueSize: cfg.Orchestrator.QueueSize,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer limiter.Stop()
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	requestHandler := handlers.NewRequestHandler(sqliteClient, pipeline)
	wsHandler := handlers.NewWebSocketHandler(sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/requests", requestHandler.SubmitRequest)
	api.Get("/requests/:id", requestHandler.GetRequest)
	api.Get("/requests/:id/insight", requestHandler.GetInsight)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/requests/:id", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	pipeline.Stop()
	appLogger.Info("Server stopped")
}
