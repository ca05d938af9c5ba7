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

	"github.com/tenantbot/backend/internal/api/handlers"
	"github.com/tenantbot/backend/internal/cache/redis"
	"github.com/tenantbot/backend/internal/chat"
	"github.com/tenantbot/backend/internal/docanalysis"
	"github.com/tenantbot/backend/internal/ingestion/chunker"
	"github.com/tenantbot/backend/internal/ingestion/crawler"
	"github.com/tenantbot/backend/internal/ingestion/normalize"
	"github.com/tenantbot/backend/internal/ingestion/sources"
	"github.com/tenantbot/backend/internal/ingestion/writer"
	"github.com/tenantbot/backend/internal/llm"
	"github.com/tenantbot/backend/internal/metrics"
	"github.com/tenantbot/backend/internal/middleware/ratelimit"
	"github.com/tenantbot/backend/internal/middleware/security"
	"github.com/tenantbot/backend/internal/middleware/validation"
	"github.com/tenantbot/backend/internal/notify"
	"github.com/tenantbot/backend/internal/objectstore"
	"github.com/tenantbot/backend/internal/pipeline"
	"github.com/tenantbot/backend/internal/secrets"
	"github.com/tenantbot/backend/internal/storage/sqlite"
	"github.com/tenantbot/backend/internal/vector/milvus"
	"github.com/tenantbot/backend/pkg/config"
	appLogger "github.com/tenantbot/backend/pkg/logger"
	"github.com/tenantbot/backend/pkg/retry"
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

	appLogger.Info("Starting tenant chatbot API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionPrefix,
		cfg.Milvus.VectorDim,
		cfg.Ingestion.UpsertBatchSize,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	redisClient, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Endpoint,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.EmbeddingDim,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.FallbackEmbeddings,
	)

	artifactStore, err := objectstore.NewFSStore(cfg.ObjectStore.Root)
	if err != nil {
		appLogger.Fatal("Failed to create object store", zap.Error(err))
	}

	analyzer := docanalysis.NewClient(
		cfg.Analysis.Endpoint,
		cfg.Analysis.APIKey,
		cfg.Analysis.MaxPolls,
		time.Duration(cfg.Analysis.IntervalSec)*time.Second,
	)

	webCrawler := crawler.New(crawler.Config{
		BatchSize:    cfg.Ingestion.CrawlBatchSize,
		BatchDelay:   time.Duration(cfg.Ingestion.CrawlBatchDelayMS) * time.Millisecond,
		FetchTimeout: time.Duration(cfg.Ingestion.CrawlTimeoutSec) * time.Second,
	})

	sourceFactory := sources.NewFactory(webCrawler, secrets.NewViperResolver(), artifactStore, analyzer)
	embeddingWriter := writer.New(llmClient, milvusClient,
		time.Duration(cfg.Ingestion.EmbedDelayMS)*time.Millisecond)

	orchestrator, err := pipeline.NewOrchestrator(
		sourceFactory,
		normalize.New(),
		chunker.New(cfg.Ingestion.MaxChunkSize),
		embeddingWriter,
		sqliteClient,
		redisClient,
		notify.NewRedisNotifier(redisClient.Raw()),
		artifactStore,
		pipeline.WithRetryConfig(retry.Config{
			MaxAttempts:    cfg.Ingestion.RetryMaxAttempts,
			InitialDelay:   time.Duration(cfg.Ingestion.RetryInitialDelayS) * time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         appLogger.GetLogger(),
		}),
	)
	if err != nil {
		appLogger.Fatal("Failed to create pipeline orchestrator", zap.Error(err))
	}
	defer orchestrator.Close()

	chatEngine := chat.NewEngine(
		llmClient,
		milvusClient,
		llmClient,
		redisClient,
		sqliteClient,
		cfg.Chat.RelevanceThreshold,
		cfg.Chat.HistoryTurns,
		cfg.Chat.ApologyMessage,
		60,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Tenant-ID",
		AllowMethods: "GET, POST, PUT, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	ingestHandler := handlers.NewIngestHandler(orchestrator)
	chatHandler := handlers.NewChatHandler(chatEngine)
	runHandler := handlers.NewRunHandler(sqliteClient)
	tenantHandler := handlers.NewTenantHandler(sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(chatEngine)

	api := app.Group("/api/v1")

	api.Post("/ingest", limiter.IngestMiddleware(), ingestHandler.StartIngestion)
	api.Get("/runs/:id", limiter.Middleware(), runHandler.GetRun)
	api.Post("/chat", limiter.Middleware(), chatHandler.HandleChat)
	api.Put("/tenants/:id", limiter.Middleware(), tenantHandler.UpsertTenant)
	api.Get("/tenants/:id", limiter.Middleware(), tenantHandler.GetTenant)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := redisClient.Raw().Ping(c.Context()).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	api.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

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
	appLogger.Info("Server stopped")
}
