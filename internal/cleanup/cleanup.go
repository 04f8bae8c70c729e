package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/YannKr/wmmaker/internal/db"
)

type Cleaner struct {
	DB       *sql.DB
	DataDir  string
	Interval time.Duration
	// Retention is how long finished exports and their files are kept.
	Retention time.Duration
	Now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

func (c *Cleaner) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	slog.Info("cleanup scheduler started", "interval", c.Interval, "retention", c.Retention)
}

func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	slog.Info("cleanup scheduler stopped")
}

func (c *Cleaner) loop(ctx context.Context) {
	defer close(c.done)

	c.RunOnce()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

func (c *Cleaner) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// RunOnce removes finished exports older than the retention period together
// with their output files, then prunes settled webhook deliveries.
func (c *Cleaner) RunOnce() {
	cutoff := c.now().Add(-c.Retention)
	exports, err := db.ListExpiredExports(c.DB, cutoff)
	if err != nil {
		slog.Error("cleanup: list expired exports", "error", err)
	} else {
		for _, e := range exports {
			if e.OutputPath != "" {
				path := filepath.Join(c.DataDir, e.OutputPath)
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					slog.Warn("cleanup: remove export output", "path", path, "error", err)
					continue
				}
			}
			if e.ImagePath != "" {
				os.Remove(filepath.Join(c.DataDir, e.ImagePath))
			}
			if err := db.DeleteExport(c.DB, e.ID); err != nil {
				slog.Error("cleanup: delete export", "id", e.ID, "error", err)
				continue
			}
			slog.Info("cleanup: removed expired export", "export", e.ID, "video", e.VideoID)
		}
	}

	if n, err := db.PruneOldWebhookDeliveries(c.DB, c.now().AddDate(0, 0, -90)); err != nil {
		slog.Error("cleanup: prune webhook deliveries", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: pruned old webhook deliveries", "count", n)
	}
}
