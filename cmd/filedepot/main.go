package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/handlers"
	"github.com/filedepot/filedepot/internal/middleware"
	"github.com/filedepot/filedepot/internal/session"
	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/storage/filesystem"
	"github.com/filedepot/filedepot/internal/storage/s3"
	"github.com/filedepot/filedepot/internal/upload"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting filedepot",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"session_backend", cfg.SessionBackend,
		"session_ttl_hours", cfg.SessionTTLHours,
		"max_file_size", cfg.MaxFileSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("database initialized", "path", cfg.DBPath)

	// Select storage backend
	var blobs storage.BlobStore
	switch cfg.StorageBackend {
	case "s3":
		blobs, err = s3.NewS3Store(ctx, s3.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		})
	default:
		blobs, err = filesystem.NewFilesystemStore(cfg.UploadDir)
	}
	if err != nil {
		slog.Error("failed to initialize storage backend", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}

	// Select session backend
	var sessions session.Store
	switch cfg.SessionBackend {
	case "dynamodb":
		awsCfg, loadErr := awsconfig.LoadDefaultConfig(ctx)
		if loadErr != nil {
			slog.Error("failed to load AWS config for session store", "error", loadErr)
			os.Exit(1)
		}
		sessions = session.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
	default:
		sessions = session.NewMemoryStore()
	}

	engine := upload.NewEngine(db, sessions, blobs, cfg)

	// Background cleanup sweeper
	sweeper := upload.NewSweeper(db, sessions, blobs, cfg)
	go sweeper.Run(ctx)

	startTime := time.Now()

	// Setup HTTP router
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload", handlers.SmallUploadHandler(engine, cfg.MaxSingleUploadSize))
	mux.HandleFunc("POST /api/upload/init", handlers.UploadInitHandler(engine))
	mux.HandleFunc("GET /api/upload/{uploadID}", handlers.UploadStatusHandler(engine))
	mux.HandleFunc("POST /api/upload/{uploadID}/complete", handlers.UploadCompleteHandler(engine))
	mux.HandleFunc("POST /api/upload/{uploadID}/chunk/{chunkNumber}/authorize", handlers.AuthorizeChunkHandler(engine))
	mux.HandleFunc("PUT /api/upload/{uploadID}/chunk/{chunkNumber}", handlers.WriteChunkHandler(engine, cfg.MaxChunkSize))
	mux.HandleFunc("POST /api/upload/{uploadID}/chunk/{chunkNumber}/ack", handlers.AckChunkHandler(engine))

	mux.HandleFunc("GET /api/files", handlers.ListFilesHandler(engine))
	mux.HandleFunc("GET /api/files/{fileID}", handlers.GetFileHandler(engine))
	mux.HandleFunc("GET /api/files/{fileID}/download", handlers.DownloadHandler(engine))
	mux.HandleFunc("DELETE /api/files/{fileID}", handlers.DeleteFileHandler(engine))

	mux.HandleFunc("GET /health", handlers.HealthHandler(db, startTime))
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.RecoveryMiddleware(middleware.LoggingMiddleware(mux))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}

	// Drain async chunk reclamations before closing the database.
	engine.Wait()

	slog.Info("shutdown complete")
}
