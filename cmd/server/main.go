package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/automlhub/api/internal/auth"
	"github.com/automlhub/api/internal/cache"
	"github.com/automlhub/api/internal/catalog"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/config"
	"github.com/automlhub/api/internal/handler"
	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/middleware"
	"github.com/automlhub/api/internal/observability"
	"github.com/automlhub/api/internal/service"
	"github.com/automlhub/api/internal/store"
	ws "github.com/automlhub/api/internal/websocket"
	"github.com/automlhub/api/internal/worker"
	"github.com/automlhub/api/internal/workflow"
	"github.com/automlhub/api/pkg/response"
)

// uploadLimit bounds multipart dataset uploads.
const uploadLimit = 512 * 1024 * 1024

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, closeLog := logging.Setup(cfg.Server.LogFile, logging.ParseLevel(cfg.Server.LogLevel))
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	redisUp := redisClient.Ping(ctx).Err() == nil
	if !redisUp {
		log.Warn("redis not available, rate limiting disabled", "addr", cfg.Redis.Addr)
		redisClient = nil
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		log.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	// Object storage (optional - falls back to process memory)
	var objects client.ObjectStore
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		s3Store, err := client.NewS3Store(&cfg.Storage)
		if err != nil {
			log.Error("failed to initialize object storage", "error", err)
			os.Exit(1)
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			log.Warn("bucket check failed", "bucket", s3Store.Bucket(), "error", err)
		}
		objects = s3Store
	} else {
		log.Info("object storage not configured, using in-memory store")
		objects = client.NewMemoryStore(cfg.Storage.Bucket)
	}

	compute := client.NewComputeClient(&cfg.Compute, log)
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	records := store.NewRecordStore(objects, cfg.Storage.ProjectFolder, log)
	jobLedger := ledger.New(records, compute, log,
		ledger.WithObserver(hub),
		ledger.WithMetrics(metrics),
	)
	cat := catalog.New(compute, cache.New(cfg.Cache.Size, cfg.Cache.TTL, metrics), log)
	fetcher := store.NewFetcher(objects, cfg.Fetcher.Interval, cfg.Fetcher.MaxAttempts, metrics, log)

	// Workflow dispatch: in-process goroutines, or an asynq queue
	var (
		dispatcher worker.Dispatcher
		local      *worker.LocalDispatcher
		asynqSrv   *asynq.Server
	)
	if strings.EqualFold(cfg.Worker.Mode, "asynq") {
		asynqClient := asynq.NewClient(worker.RedisOpt(&cfg.Redis))
		defer asynqClient.Close()
		dispatcher = worker.NewAsynqDispatcher(asynqClient)
		asynqSrv = worker.NewServer(cfg, log)
	} else {
		local = worker.NewLocalDispatcher(log)
		dispatcher = local
	}

	orch := workflow.New(workflow.Deps{
		Ledger:     jobLedger,
		Records:    records,
		Compute:    compute,
		Catalog:    cat,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     log,
	})
	if local != nil {
		local.Handle(orch.Handlers())
	}
	if asynqSrv != nil {
		mux := worker.NewServeMux(orch.Handlers())
		go func() {
			if err := asynqSrv.Run(mux); err != nil {
				log.Error("asynq worker error", "error", err)
			}
		}()
	}

	// Initialize validator
	validate := validator.New()

	// Initialize services
	projectService := service.NewProjectService(records, jobLedger, cat, compute, log)
	dataSetService := service.NewDataSetService(records, orch, compute, fetcher, log)
	modelService := service.NewModelService(records, orch, cat, compute, cfg.Serving.ResourcesDir, log)
	frameService := service.NewFrameService(cat, compute, log)

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var tokenVerifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Warn("JWKS verifier not initialized", "error", err)
		} else {
			defer jwksVerifier.Close()
			tokenVerifier = jwksVerifier
		}
	}

	var authenticate fiber.Handler
	if strings.EqualFold(cfg.JWT.Mode, "gateway") {
		// Behind a gateway: auth is handled by ForwardAuth, read X-User-* headers
		log.Info("gateway mode enabled, using header-based auth")
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		var authMiddleware *middleware.AuthMiddleware
		switch {
		case tokenVerifier != nil && cfg.JWT.Secret != "":
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(tokenVerifier, cfg.JWT.Secret)
		case tokenVerifier != nil:
			authMiddleware = middleware.NewAuthMiddleware(tokenVerifier)
		default:
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		authenticate = authMiddleware.Authenticate()
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    uploadLimit,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(middleware.Metrics(metrics))

	handler.Register(app, handler.Routes{
		Projects:     handler.NewProjectHandler(projectService, validate),
		DataSets:     handler.NewDataSetHandler(dataSetService, validate),
		Jobs:         handler.NewJobHandler(jobLedger),
		Models:       handler.NewModelHandler(modelService, validate),
		Frames:       handler.NewFrameHandler(frameService, validate),
		Auth:         handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret),
		Hub:          hub,
		RateLimiter:  middleware.NewRateLimiter(redisClient, log),
		RateLimit:    cfg.RateLimit,
		Authenticate: authenticate,
		Metrics:      metricsHandler,
		Health: func() fiber.Map {
			_, isS3 := objects.(*client.S3Store)
			return fiber.Map{
				"storage": isS3,
				"compute": compute.IsConfigured(),
				"redis":   redisUp,
				"worker":  cfg.Worker.Mode,
				"auth":    tokenVerifier != nil || cfg.JWT.Secret != "",
			}
		},
	})

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "worker", cfg.Worker.Mode)
	if err := app.Listen(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
	}

	if asynqSrv != nil {
		asynqSrv.Shutdown()
	}
	if local != nil {
		local.Wait()
	}
	jobLedger.Wait()
	log.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
