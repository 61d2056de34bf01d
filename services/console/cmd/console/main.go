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

	"churnboard/internal/servicetoken"
	"churnboard/internal/util"
	"churnboard/services/console/internal/app"
	"churnboard/services/console/internal/config"
	"churnboard/services/console/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, closeLogs := util.InitLogger(cfg.LogLevel, "console", cfg.LogsDir, "")
	defer closeLogs()

	requestTimeout, _ := config.ParseDuration("requestTimeout", cfg.RequestTimeout)
	tokenTTL, _ := config.ParseDuration("serviceJwtTtl", cfg.ServiceJWTTTL)

	var signer *servicetoken.Signer
	if cfg.ServiceJWTPrivateKeyPath != "" {
		issuer := cfg.ServiceJWTIssuer
		if issuer == "" {
			issuer = "console"
		}
		signer, err = servicetoken.NewSignerWithOptions(servicetoken.SignerOptions{
			PrivateKeyPath: cfg.ServiceJWTPrivateKeyPath,
			KeyID:          cfg.ServiceJWTKeyID,
			Issuer:         issuer,
			TTL:            tokenTTL,
		})
		if err != nil {
			util.Fatal("failed to init service token signer", "err", err)
		}
	}

	appCore, err := app.New(app.Config{
		ChurnAPIURL:       cfg.ChurnAPIURL,
		RequestTimeout:    requestTimeout,
		StagingDir:        cfg.StagingDir,
		PageSize:          cfg.PageSize,
		NoticeCapacity:    cfg.NoticeCapacity,
		BatchRefresh:      cfg.BatchRefresh,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		Signer:            signer,
		Logger:            logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCore.Start(ctx)

	httpServer := server.New(server.Config{
		App:            appCore,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("console listening", "addr", addr, "churn_api", cfg.ChurnAPIURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
