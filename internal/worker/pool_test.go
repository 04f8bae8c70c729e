package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YannKr/wmmaker/internal/config"
	"github.com/YannKr/wmmaker/internal/db"
	"github.com/YannKr/wmmaker/internal/model"
	"github.com/YannKr/wmmaker/internal/sse"
	"github.com/YannKr/wmmaker/internal/watermark"
	"github.com/YannKr/wmmaker/internal/webhook"
)

const fakeFFprobe = `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":1280,"height":720,"avg_frame_rate":"30/1"},
{"index":1,"codec_type":"audio","codec_name":"aac"}],
"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2","duration":"9.000000"}}
JSON
`

const fakeFFmpeg = `#!/bin/sh
out=""
for a in "$@"; do
  case "$a" in
    *.mp4|*.mov) out="$a" ;;
  esac
done
echo "out_time_us=4500000"
echo "progress=continue"
echo "progress=end"
printf 'watermarked' > "$out"
`

// gatedFFmpeg reports half the work, then waits for $WMMAKER_TEST_RELEASE to
// exist before finishing.
const gatedFFmpeg = `#!/bin/sh
out=""
for a in "$@"; do
  case "$a" in
    *.mp4|*.mov) out="$a" ;;
  esac
done
echo "out_time_us=4500000"
echo "progress=continue"
while [ ! -f "$WMMAKER_TEST_RELEASE" ]; do sleep 0.05; done
echo "progress=end"
printf 'watermarked' > "$out"
`

type fixture struct {
	cfg      *config.Config
	database *sql.DB
	hub      *sse.Hub
	pool     *Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools need a POSIX shell")
	}
	dataDir := t.TempDir()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "ffprobe"), []byte(fakeFFprobe), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "ffmpeg"), []byte(fakeFFmpeg), 0755))

	wm := filepath.Join(bin, "wm.png")
	img := image.NewNRGBA(image.Rect(0, 0, 40, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	f, err := os.Create(wm)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.FFmpegPath = filepath.Join(bin, "ffmpeg")
	cfg.FFprobePath = filepath.Join(bin, "ffprobe")
	cfg.WatermarkImage = wm

	database, err := db.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, os.DirFS("../..")))

	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "originals"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "originals", "v1.mp4"), []byte("src"), 0644))
	require.NoError(t, db.CreateVideo(database, &model.Video{
		ID: "v1", OriginalName: "clip.mp4", OriginalPath: "originals/v1.mp4", MimeType: "video/mp4",
		FileSize: 3, Duration: 9, Width: 1280, Height: 720, HasAudio: true,
	}))

	hub := sse.New()
	return &fixture{cfg: cfg, database: database, hub: hub, pool: NewPool(database, cfg, nil, hub)}
}

func (f *fixture) claim(t *testing.T, e *model.Export) *model.Export {
	t.Helper()
	require.NoError(t, db.EnqueueExport(f.database, e))
	job, err := db.ClaimNextExport(f.database)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestRunJobCompletes(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.hub.Subscribe("video:v1")
	defer unsub()

	job := f.claim(t, &model.Export{ID: "e1", VideoID: "v1", Seed: 7})
	f.pool.RunJob(context.Background(), job)

	done, err := db.GetExport(f.database, "e1")
	require.NoError(t, err)
	require.Equal(t, model.ExportCompleted, done.State, done.ErrorMessage)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, int64(len("watermarked")), done.OutputSize)
	assert.Regexp(t, `^watermarked/v1/WaterMarkVideo\d{14}\.mp4$`, filepath.ToSlash(done.OutputPath))
	assert.FileExists(t, filepath.Join(f.cfg.DataDir, done.OutputPath))

	var report watermark.Report
	require.NoError(t, json.Unmarshal([]byte(done.PlacementsJSON), &report))
	assert.Equal(t, int64(7), report.Seed)
	assert.Equal(t, watermark.Size{Width: 1280, Height: 720}, report.RenderSize)
	assert.NotEmpty(t, report.Placements)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{EventProgress, EventProgress, EventExportDone}, types)
}

func TestRunJobSameSeedSamePlan(t *testing.T) {
	f := newFixture(t)
	f.pool.RunJob(context.Background(), f.claim(t, &model.Export{ID: "e1", VideoID: "v1", Seed: 99}))
	f.pool.RunJob(context.Background(), f.claim(t, &model.Export{ID: "e2", VideoID: "v1", Seed: 99}))

	a, err := db.GetExport(f.database, "e1")
	require.NoError(t, err)
	b, err := db.GetExport(f.database, "e2")
	require.NoError(t, err)
	require.Equal(t, model.ExportCompleted, b.State, b.ErrorMessage)

	var ra, rb watermark.Report
	require.NoError(t, json.Unmarshal([]byte(a.PlacementsJSON), &ra))
	require.NoError(t, json.Unmarshal([]byte(b.PlacementsJSON), &rb))
	assert.Equal(t, ra.Placements, rb.Placements)
	assert.NotEqual(t, a.OutputPath, b.OutputPath)
}

func TestRunJobFailsWithoutImage(t *testing.T) {
	f := newFixture(t)
	f.cfg.WatermarkImage = ""
	events, unsub := f.hub.Subscribe("video:v1")
	defer unsub()

	f.pool.RunJob(context.Background(), f.claim(t, &model.Export{ID: "e1", VideoID: "v1"}))

	failed, err := db.GetExport(f.database, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExportFailed, failed.State)
	assert.Contains(t, failed.ErrorMessage, "no watermark image")

	evt := <-events
	assert.Equal(t, EventExportFailed, evt.Type)
}

func TestRunJobMissingFFmpeg(t *testing.T) {
	f := newFixture(t)
	f.cfg.FFmpegPath = filepath.Join(t.TempDir(), "missing-ffmpeg")

	f.pool.RunJob(context.Background(), f.claim(t, &model.Export{ID: "e1", VideoID: "v1"}))

	failed, err := db.GetExport(f.database, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExportFailed, failed.State)
	assert.Contains(t, failed.ErrorMessage, watermark.ErrExporterUnavailable.Error())
}

// gate swaps in the gated ffmpeg and returns a function that lets it finish.
func (f *fixture) gate(t *testing.T) (release func()) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.cfg.FFmpegPath, []byte(gatedFFmpeg), 0755))
	flag := filepath.Join(t.TempDir(), "release")
	t.Setenv("WMMAKER_TEST_RELEASE", flag)
	return func() { require.NoError(t, os.WriteFile(flag, nil, 0644)) }
}

func nextEvent(t *testing.T, events <-chan sse.Event) sse.Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(10 * time.Second):
		t.Fatal("no event published")
		return sse.Event{}
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("RunJob did not return")
	}
}

func TestRunJobShutdownRequeuesExport(t *testing.T) {
	f := newFixture(t)
	f.gate(t)

	var callbacks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callbacks.Add(1)
	}))
	defer srv.Close()
	dispatcher := &webhook.Dispatcher{DB: f.database}
	f.pool.webhook = dispatcher

	events, unsub := f.hub.Subscribe("video:v1")
	defer unsub()

	job := f.claim(t, &model.Export{ID: "e1", VideoID: "v1", Seed: 3, CallbackURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.pool.RunJob(ctx, job)
		close(done)
	}()

	require.Equal(t, EventProgress, nextEvent(t, events).Type)
	cancel()
	waitDone(t, done)
	dispatcher.Wait()

	e, err := db.GetExport(f.database, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExportPending, e.State)
	assert.Equal(t, 0, e.Progress)
	assert.Empty(t, e.ErrorMessage)
	for len(events) > 0 {
		assert.NotEqual(t, EventExportFailed, (<-events).Type)
	}
	assert.Zero(t, callbacks.Load())

	again, err := db.ClaimNextExport(f.database)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "e1", again.ID)
}

func TestRunJobRemovesOutputWhenExportVanishes(t *testing.T) {
	f := newFixture(t)
	release := f.gate(t)
	events, unsub := f.hub.Subscribe("video:v1")
	defer unsub()

	job := f.claim(t, &model.Export{ID: "e1", VideoID: "v1"})
	done := make(chan struct{})
	go func() {
		f.pool.RunJob(context.Background(), job)
		close(done)
	}()

	require.Equal(t, EventProgress, nextEvent(t, events).Type)
	require.NoError(t, db.DeleteExport(f.database, "e1"))
	release()
	waitDone(t, done)

	entries, err := os.ReadDir(filepath.Join(f.cfg.DataDir, "watermarked", "v1"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), watermark.DefaultFilePrefix), "left behind %s", e.Name())
	}
}
