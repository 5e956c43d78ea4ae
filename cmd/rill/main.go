package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rx3lixir/rill/internal/config"
	"github.com/rx3lixir/rill/internal/db"
	"github.com/rx3lixir/rill/internal/fanout"
	"github.com/rx3lixir/rill/internal/httpserver"
	"github.com/rx3lixir/rill/internal/notify"
	"github.com/rx3lixir/rill/internal/presence"
	"github.com/rx3lixir/rill/internal/unread"
	"github.com/rx3lixir/rill/internal/upload"
	"github.com/rx3lixir/rill/internal/ws"
	"github.com/rx3lixir/rill/pkg/jwt"
	"github.com/rx3lixir/rill/pkg/s3storage"
)

func main() {
	// Setting up logger
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           log.DebugLevel,
	})

	// Initializing global context instance
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initializing config manager
	cm, err := config.NewConfigManager("internal/config/config.yaml")
	if err != nil {
		logger.Error("Error getting config file", "error", err)
		os.Exit(1)
	}

	c := cm.GetConfig()

	// Validating configuration
	if err := c.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info(
		"Configuration loaded",
		"env", c.GeneralParams.Env,
		"http_addr", c.GeneralParams.HTTPaddress,
		"database", c.MainDBParams.Name,
		"cache", c.CacheParams.Host,
	)

	// Creating database connection pool
	pool, err := db.CreatePostgresPool(ctx, c.MainDBParams.GetDSN())
	if err != nil {
		logger.Error(
			"Failed to create postgres pool",
			"error", err,
			"db", c.MainDBParams.Name,
		)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("Database connection established", "db", c.MainDBParams.Name)

	// Creates database store
	store := db.NewPostgresStore(pool)

	// Initializing JWT service
	jwtService := jwt.NewService(
		c.GeneralParams.SecretKey,
		15*time.Minute,
		7*24*time.Hour,
	)

	logger.Info("JWT service initialized")

	// Initialize unread counters
	unreadCounter, err := unread.NewCounter(
		c.CacheParams.Host,
		c.CacheParams.Password,
	)
	if err != nil {
		logger.Error("Failed to create unread counter", "error", err)
		os.Exit(1)
	}
	defer unreadCounter.Close()

	logger.Info("Unread counter store initialized")

	// Initialize S3 client
	s3Client, err := s3storage.NewMinIOClient(
		c.S3Params.Endpoint,
		c.S3Params.AccessKeyID,
		c.S3Params.SecretAccessKey,
		c.S3Params.BucketName,
		c.S3Params.UseSSL,
	)
	if err != nil {
		logger.Error("Failed to create S3 client", "error", err)
		os.Exit(1)
	}

	logger.Info("S3 storage client initialized", "bucket", c.S3Params.BucketName)

	// Delivery core: presence, reassembly, gating, fan-out
	tracker := presence.NewTracker()

	reassembler := upload.NewReassembler(s3Client, logger, c.UploadParams.MaxFileBytes)
	go reassembler.RunSweeper(
		ctx,
		time.Duration(c.UploadParams.SweepSeconds)*time.Second,
		time.Duration(c.UploadParams.MaxAgeSeconds)*time.Second,
	)

	hub := ws.NewHub(logger)
	dispatcher := fanout.NewDispatcher(hub, logger)
	notifier := notify.NewNotifier(notify.NewGate(), tracker, store, store, dispatcher, logger)

	wsHandler := ws.NewHandler(
		hub,
		jwtService,
		store,
		store,
		store,
		reassembler,
		tracker,
		notifier,
		dispatcher,
		unreadCounter,
		logger,
	)

	// Creates HTTP server
	HTTPserver := httpserver.New(
		c.GeneralParams.HTTPaddress,
		wsHandler,
		tracker,
		reassembler,
		logger,
	)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	// Start the HTTP server in a gorutine
	go func() {
		serverErrors <- HTTPserver.Start()
	}()

	logger.Info("All servers started successfully")

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we recieve a signal or error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		// Give outstanding requests 10s to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("Shutting down HTTP server...")
		if err := HTTPserver.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}

		logger.Info("All servers stopped gracefully")
	}
}
