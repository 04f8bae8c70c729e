package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/YannKr/wmmaker/internal/config"
	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/model"
	"github.com/YannKr/wmmaker/internal/sse"
	"github.com/YannKr/wmmaker/internal/watermark"
	"github.com/YannKr/wmmaker/internal/webhook"
)

// SSE event types published on the "video:<id>" topic.
const (
	EventProgress     = "progress"
	EventExportDone   = "export_done"
	EventExportFailed = "export_failed"
)

type Pool struct {
	database *sql.DB
	cfg      *config.Config
	webhook  *webhook.Dispatcher
	sseHub   *sse.Hub
	// PollInterval is how long an idle worker sleeps before polling again.
	PollInterval time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewPool(database *sql.DB, cfg *config.Config, webhookDispatcher *webhook.Dispatcher, sseHub *sse.Hub) *Pool {
	return &Pool{database: database, cfg: cfg, webhook: webhookDispatcher, sseHub: sseHub, PollInterval: 2 * time.Second}
}

func (p *Pool) Start(ctx context.Context) {
	if n, err := db.ResetStaleExports(p.database); err != nil {
		slog.Error("reset stale exports", "error", err)
	} else if n > 0 {
		slog.Warn("requeued exports interrupted by restart", "count", n)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	slog.Info("worker pool started", "workers", p.cfg.WorkerCount)
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := db.ClaimNextExport(p.database)
		if err != nil {
			slog.Error("claim export", "worker", id, "error", err)
			sleep(ctx, p.PollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, p.PollInterval)
			continue
		}

		slog.Info("processing export", "worker", id, "export", job.ID, "video", job.VideoID)
		p.RunJob(ctx, job)
	}
}

// RunJob processes one claimed export and records its outcome.
func (p *Pool) RunJob(ctx context.Context, job *model.Export) {
	report, err := p.processExport(ctx, job)
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the export; the next Start claims it again.
		slog.Warn("export interrupted, requeued", "export", job.ID, "error", err)
		if rerr := db.RequeueExport(p.database, job.ID); rerr != nil {
			slog.Error("requeue export", "export", job.ID, "error", rerr)
		}
		return
	}
	if err != nil {
		slog.Error("export failed", "export", job.ID, "error", err)
		if ferr := db.FailExport(p.database, job.ID, err.Error()); ferr != nil {
			slog.Error("record export failure", "export", job.ID, "error", ferr)
		}
		p.publish(job.VideoID, EventExportFailed, exportEvent{ExportID: job.ID, VideoID: job.VideoID, Error: err.Error()})
		p.webhook.Dispatch(job.ID, job.CallbackURL, webhook.EventExportFailed, exportEvent{
			ExportID: job.ID, VideoID: job.VideoID, Error: err.Error(),
		})
		return
	}

	slog.Info("export completed", "export", job.ID, "placements", len(report.Placements))
	done, err := db.GetExport(p.database, job.ID)
	if err != nil || done == nil {
		slog.Error("reload export", "export", job.ID, "error", err)
		return
	}
	evt := exportEvent{
		ExportID:   job.ID,
		VideoID:    job.VideoID,
		OutputPath: done.OutputPath,
		OutputSize: done.OutputSize,
		SHA256:     done.OutputSHA256,
		Placements: len(report.Placements),
	}
	p.publish(job.VideoID, EventExportDone, evt)
	p.webhook.Dispatch(job.ID, job.CallbackURL, webhook.EventExportCompleted, evt)
}

type exportEvent struct {
	ExportID   string `json:"export_id"`
	VideoID    string `json:"video_id"`
	Progress   int    `json:"progress,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	OutputSize int64  `json:"output_size,omitempty"`
	SHA256     string `json:"sha256,omitempty"`
	Placements int    `json:"placements,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (p *Pool) processExport(ctx context.Context, job *model.Export) (*watermark.Report, error) {
	video, err := db.GetVideo(p.database, job.VideoID)
	if err != nil {
		return nil, fmt.Errorf("load video %s: %w", job.VideoID, err)
	}
	if video == nil {
		return nil, fmt.Errorf("video %s not found", job.VideoID)
	}

	image := p.cfg.WatermarkImage
	if job.ImagePath != "" {
		image = filepath.Join(p.cfg.DataDir, job.ImagePath)
	}
	if image == "" {
		return nil, fmt.Errorf("no watermark image configured")
	}

	outDir := filepath.Join(p.cfg.DataDir, "watermarked", video.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	maker := &watermark.Maker{
		Exporter:     p.cfg.Exporter(outDir),
		Presets:      p.cfg.Scales.Presets(),
		RequireAudio: p.cfg.RequireAudio,
		Legacy:       job.Legacy,
	}

	lastPct := -1
	onProgress := func(pr watermark.Progress) {
		pct := int(pr.Percent)
		if pct == lastPct {
			return
		}
		lastPct = pct
		if err := db.UpdateExportProgress(p.database, job.ID, pct); err != nil {
			slog.Warn("update export progress", "export", job.ID, "error", err)
		}
		p.publish(job.VideoID, EventProgress, exportEvent{ExportID: job.ID, VideoID: job.VideoID, Progress: pct})
	}

	source := filepath.Join(p.cfg.DataDir, video.OriginalPath)
	out, err := maker.Make(ctx, source, image, rand.New(rand.NewSource(job.Seed)), onProgress)
	if err != nil {
		return nil, err
	}

	report, err := p.recordOutput(job, out)
	if err != nil {
		if rerr := os.Remove(out.Path); rerr != nil && !os.IsNotExist(rerr) {
			slog.Warn("remove unrecorded export output", "path", out.Path, "error", rerr)
		}
		return nil, err
	}
	return report, nil
}

// recordOutput stores the checksum, size and placement report of a finished
// export on its row.
func (p *Pool) recordOutput(job *model.Export, out *watermark.Output) (*watermark.Report, error) {
	sha, err := watermark.SHA256File(out.Path)
	if err != nil {
		return nil, fmt.Errorf("sha256: %w", err)
	}
	size, err := watermark.FileSize(out.Path)
	if err != nil {
		return nil, fmt.Errorf("filesize: %w", err)
	}

	report := watermark.NewReport(out.Composition)
	report.Seed = job.Seed
	report.Legacy = job.Legacy
	placements, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal placements: %w", err)
	}

	relPath, err := filepath.Rel(p.cfg.DataDir, out.Path)
	if err != nil {
		return nil, fmt.Errorf("relative output path: %w", err)
	}
	if err := db.CompleteExport(p.database, job.ID, relPath, sha, size, string(placements)); err != nil {
		return nil, fmt.Errorf("complete export: %w", err)
	}
	return &report, nil
}

func (p *Pool) publish(videoID, eventType string, evt exportEvent) {
	if p.sseHub == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("marshal sse event", "error", err)
		return
	}
	p.sseHub.Publish("video:"+videoID, sse.Event{Type: eventType, Data: string(data)})
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
