package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"churnboard/internal/ratelimit"
	"churnboard/internal/servicetoken"
	"churnboard/internal/util"
	"churnboard/pkg/ai"
	"churnboard/pkg/queue"
	"churnboard/pkg/storage"
	"churnboard/pkg/store"
	"churnboard/services/churn/internal/app"
	"churnboard/services/churn/internal/config"
	"churnboard/services/churn/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, closeLogs := util.InitLogger(cfg.LogLevel, "churn", cfg.LogsDir, "")
	defer closeLogs()

	records := openStore(cfg)
	objects := openObjects(cfg)

	var jobs queue.JobQueue = queue.NewInlineQueue()
	if cfg.RedisAddr != "" {
		redisQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     orDefault(cfg.QueueName, "churn:extract"),
			Group:      orDefault(cfg.QueueGroup, "churn-workers"),
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: cfg.RetryDelay(),
			Logger:     logger,
		})
		if err != nil {
			util.Fatal("failed to init job queue", "err", err)
		}
		defer redisQueue.Close()
		jobs = redisQueue
	}

	generator, err := ai.New(ai.Config{
		Provider: cfg.LLMProvider,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
	})
	if err != nil {
		logger.Warn("llm disabled; extraction and chat will fail", "err", err)
		generator = nil
	}

	appCore, err := app.New(app.Config{
		Store:             records,
		Objects:           objects,
		Queue:             jobs,
		Generator:         generator,
		OCRCommand:        cfg.OCRCommand,
		OCRTimeout:        cfg.OCRTimeout(),
		MaxUploadBytes:    cfg.MaxUploadBytes,
		UploadConcurrency: cfg.UploadConcurrency,
		Logger:            logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.RateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "churn:ratelimit", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
		defer limiter.Close()
	}
	clientIP, err := util.NewClientIPResolver(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trustedProxyCIDRs", "err", err)
	}

	var verifier *servicetoken.Verifier
	if cfg.ServiceJWTPublicKeyPath != "" || cfg.ServiceJWTVerifyPublicKeys != "" {
		keyMap, err := servicetoken.ParseVerifyPublicKeys(cfg.ServiceJWTVerifyPublicKeys)
		if err != nil {
			util.Fatal("invalid serviceJwtVerifyPublicKeys", "err", err)
		}
		verifier, err = servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
			PublicKeyPath:      cfg.ServiceJWTPublicKeyPath,
			VerifyPublicKeyMap: keyMap,
			DefaultKeyID:       cfg.ServiceJWTKeyID,
			Audience:           servicetoken.AudienceChurnAPI,
			AllowedIssuers:     cfg.ServiceJWTAllowedIssuers,
		})
		if err != nil {
			util.Fatal("failed to init service token verifier", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Limiter:        limiter,
		ClientIP:       clientIP,
		Verifier:       verifier,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	appCore.StartWorker(ctx, concurrency)

	g.Go(func() error {
		slog.Info("churn api listening", "addr", addr, "queue_concurrency", concurrency)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func openStore(cfg config.FileConfig) store.RecordStore {
	if cfg.DatabaseURL == "" {
		slog.Warn("databaseURL not set; records are kept in memory")
		return store.NewMemoryStore()
	}
	s, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init postgres store", "err", err)
	}
	return s
}

func openObjects(cfg config.FileConfig) storage.ObjectStore {
	if cfg.MinioEndpoint != "" {
		s, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		return s
	}
	s, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		util.Fatal("failed to init local storage", "err", err)
	}
	return s
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
