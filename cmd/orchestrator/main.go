// Package main is the entry point for the orchestrator service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comfystudio/orchestrator/internal/api"
	"github.com/comfystudio/orchestrator/internal/artifacts"
	"github.com/comfystudio/orchestrator/internal/comfy"
	"github.com/comfystudio/orchestrator/internal/config"
	"github.com/comfystudio/orchestrator/internal/jobstore"
	"github.com/comfystudio/orchestrator/internal/orchestrator"
	"github.com/comfystudio/orchestrator/internal/templatestore"
	"github.com/comfystudio/orchestrator/internal/validator"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting orchestrator",
		slog.String("port", cfg.Port),
		slog.String("comfy_host", cfg.ComfyHost),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize job store based on configuration
	var jobs jobstore.Store
	switch cfg.JobStoreType {
	case "redis":
		redisCfg := jobstore.DefaultRedisConfig()
		redisCfg.URL = cfg.RedisURL
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCfg.TTL = cfg.RedisTTL
		redisStore, err := jobstore.NewRedisStore(redisCfg)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to file store", "error", err)
			jobs = mustFileJobStore(cfg, logger)
		} else {
			jobs = redisStore
			logger.Info("using Redis job store", slog.String("url", cfg.RedisURL))
		}
	case "memory":
		jobs = jobstore.NewMemoryStore()
		logger.Info("using in-memory job store")
	default:
		jobs = mustFileJobStore(cfg, logger)
	}
	defer jobs.Close()

	// Template store is always file-backed; templates are edited on
	// disk and survive restarts.
	templates, err := templatestore.NewFileStore(cfg.TemplateDir, logger)
	if err != nil {
		logger.Error("failed to open template store", "error", err, "dir", cfg.TemplateDir)
		os.Exit(1)
	}
	defer templates.Close()

	// Artifact store
	var arts artifacts.Store
	if cfg.ArtifactStoreType == "s3" {
		s3Store, err := artifacts.NewS3Store(&artifacts.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UseSSL:          cfg.S3UseSSL,
			PathPrefix:      cfg.S3PathPrefix,
		})
		if err != nil {
			logger.Error("failed to init S3 artifact store", "error", err)
			os.Exit(1)
		}
		arts = s3Store
		logger.Info("using S3 artifact store", slog.String("bucket", cfg.S3Bucket))
	} else {
		localStore, err := artifacts.NewLocalStore(cfg.ArtifactDir)
		if err != nil {
			logger.Error("failed to init artifact store", "error", err, "dir", cfg.ArtifactDir)
			os.Exit(1)
		}
		arts = localStore
	}

	// ComfyUI client and progress tracker share one client id so the
	// push channel carries events for our submissions.
	engine := comfy.NewClient(&comfy.Config{
		Host:           cfg.ComfyHost,
		ClientID:       cfg.ClientID,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	tracker := comfy.NewTracker(cfg.ComfyHost, engine.ClientID(), logger)

	orch := orchestrator.New(&orchestrator.Config{
		Engine:       engine,
		Tracker:      tracker,
		Templates:    templates,
		Jobs:         jobs,
		Artifacts:    arts,
		TrackTimeout: cfg.TrackTimeout,
		Logger:       logger,
	})

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator - validation will be basic
		v = nil
	}

	// Initialize API handlers
	handlers := api.NewHandlers(templates, jobs, arts, orch, v, cfg, logger)
	server := api.NewServer(handlers)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func mustFileJobStore(cfg *config.Config, logger *slog.Logger) jobstore.Store {
	store, err := jobstore.NewFileStore(cfg.DataDir, logger)
	if err != nil {
		logger.Error("failed to open file job store", "error", err, "dir", cfg.DataDir)
		os.Exit(1)
	}
	logger.Info("using file job store", slog.String("dir", cfg.DataDir))
	return store
}
