package app

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/YannKr/wmmaker"
	"github.com/YannKr/wmmaker/internal/cleanup"
	"github.com/YannKr/wmmaker/internal/config"
	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/diskstat"
	"github.com/YannKr/wmmaker/internal/handler"
	"github.com/YannKr/wmmaker/internal/sse"
	"github.com/YannKr/wmmaker/internal/webhook"
	"github.com/YannKr/wmmaker/internal/worker"
)

func Run(ctx context.Context, cfg *config.Config) error {
	// Ensure data directories exist
	for _, dir := range []string{"", "originals", "watermarked", "images"} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0755); err != nil {
			return err
		}
	}
	if cfg.WatermarkImage == "" {
		slog.Warn("no WATERMARK_IMAGE configured; exports need an uploaded image")
	}

	// Open database
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database, wmmaker.MigrationFS); err != nil {
		return err
	}
	slog.Info("database ready")

	// Webhook callbacks, retried on their backoff schedule
	webhookDispatcher := &webhook.Dispatcher{DB: database, Secret: cfg.WebhookSecret}
	go webhookDispatcher.Run(ctx, 15*time.Second)
	defer webhookDispatcher.Wait()

	// Start cleanup scheduler
	cleaner := &cleanup.Cleaner{
		DB:        database,
		DataDir:   cfg.DataDir,
		Interval:  time.Duration(cfg.CleanupIntervalMins) * time.Minute,
		Retention: time.Duration(cfg.RetentionHours) * time.Hour,
	}
	cleaner.Start(ctx)
	defer cleaner.Stop()

	// Create SSE hub for real-time updates
	sseHub := sse.New()

	// Start worker pool
	pool := worker.NewPool(database, cfg, webhookDispatcher, sseHub)
	pool.Start(ctx)
	defer pool.Stop()

	templateFS, err := fs.Sub(wmmaker.TemplateFS, "templates")
	if err != nil {
		return err
	}
	staticFS, err := fs.Sub(wmmaker.StaticFS, "static")
	if err != nil {
		return err
	}

	// Uploads: 10 requests/minute, burst of 5
	uploadRL := handler.NewRateLimiter(10.0/60.0, 5)
	defer uploadRL.Stop()

	// Start disk stats cache
	diskCache := diskstat.New(cfg.DataDir, 60*time.Second)
	diskCache.Start()
	defer diskCache.Stop()

	h := handler.New(database, cfg, templateFS, sseHub)
	h.DiskCache = diskCache
	router := h.Routes(staticFS, uploadRL)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL, "workers", cfg.WorkerCount)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
