// Package main provides the RoadWatch accident detection service entry point
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/roadwatch/roadwatch/internal/analysis"
	"github.com/roadwatch/roadwatch/internal/api"
	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/core"
	"github.com/roadwatch/roadwatch/internal/database"
	"github.com/roadwatch/roadwatch/internal/events"
	"github.com/roadwatch/roadwatch/internal/logging"
)

const defaultAddress = "0.0.0.0"

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to config file")
		videoPath  = flag.String("video", "", "analyze a video file and exit")
		device     = flag.Int("device", -1, "analyze a capture device (e.g. 0 for the default webcam) and exit")
		streamURL  = flag.String("url", "", "analyze an IP camera stream and exit")
		duration   = flag.Int("duration", 0, "capture duration in seconds for live sources")
		maxFrames  = flag.Int("max-frames", 0, "stop after this many frames (0 = unbounded)")
		confThres  = flag.Float64("conf", 0, "detection confidence threshold override")
		iouThres   = flag.Float64("iou", 0, "accident IoU threshold override")
		growth     = flag.Float64("growth", 0, "area growth factor override")
	)
	flag.Parse()

	cfg := loadConfig(*configPath)

	logBuffer := logging.Setup(cfg.System.Logging.Level, cfg.System.Logging.Format)

	// One-shot mode: a source flag was given on the command line
	if *videoPath != "" || *device >= 0 || *streamURL != "" {
		req := analysis.RunRequest{
			Video:           *videoPath,
			URL:             *streamURL,
			ConfThreshold:   *confThres,
			IoUThreshold:    *iouThres,
			GrowthFactor:    *growth,
			MaxFrames:       *maxFrames,
			DurationSeconds: *duration,
		}
		if *device >= 0 {
			req.Device = device
		}

		if err := runOnce(cfg, req); err != nil {
			slog.Error("Analysis failed", "error", err)
			os.Exit(1)
		}
		return
	}

	serve(cfg, logBuffer)
}

// runOnce analyzes a single source and prints where the outputs went.
func runOnce(cfg *config.Config, req analysis.RunRequest) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := analysis.NewService(cfg, nil, nil)
	result, err := svc.RunOnce(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d frames, %d accident(s) detected\n", result.FramesProcessed, len(result.Events))
	fmt.Printf("Log: %s\n", result.CSVPath)
	for _, path := range result.SnapshotPaths {
		fmt.Printf("Snapshot: %s\n", path)
	}
	return nil
}

// serve runs the full service: database, event bus, and HTTP API.
func serve(cfg *config.Config, logBuffer *logging.RingBuffer) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Starting RoadWatch", "storage", cfg.System.StoragePath, "port", cfg.Server.Port)

	if err := os.MkdirAll(cfg.System.StoragePath, 0755); err != nil {
		slog.Error("Failed to create storage directory", "error", err)
		os.Exit(1)
	}

	dbCfg := database.DefaultConfig(cfg.System.StoragePath)
	if cfg.System.Database.Path != "" {
		dbCfg.Path = cfg.System.Database.Path
	}
	db, err := database.Open(dbCfg)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	eventBus, err := core.NewEventBus(core.EventBusConfig{
		Host: cfg.Bus.Host,
		Port: cfg.Bus.Port,
	}, slog.Default())
	if err != nil {
		slog.Error("Failed to create event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Stop()

	store := events.NewStore(db)
	svc := analysis.NewService(cfg, store, eventBus)

	server := api.NewServer(api.ServerConfig{
		Analysis:       svc,
		Store:          store,
		DB:             db,
		Bus:            eventBus,
		Logs:           logBuffer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// Pick up threshold and log level changes without a restart
	if cfg.GetPath() != "" {
		cfg.OnChange(func(c *config.Config) {
			lc := c.GetLogging()
			logging.Setup(lc.Level, lc.Format)
		})
		if err := cfg.Watch(); err != nil {
			slog.Warn("Config watch unavailable", "error", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", defaultAddress, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
}

// loadConfig resolves the config file, falling back to built-in defaults.
func loadConfig(path string) *config.Config {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path == "" {
		return config.Default()
	}

	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		slog.Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	return cfg
}
