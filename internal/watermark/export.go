package watermark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const DefaultFilePrefix = "WaterMarkVideo"

// Result is the outcome of an export: the output file on success, the
// underlying error otherwise.
type Result struct {
	Path string
	Err  error
}

func Success(path string) Result { return Result{Path: path} }

func Failure(err error) Result { return Result{Err: err} }

func (r Result) OK() bool { return r.Err == nil }

// Exporter renders a composition to a new file with ffmpeg.
type Exporter struct {
	Toolchain          Toolchain
	OutputDir          string
	FilePrefix         string
	Container          Container
	Preset             Preset
	OptimizeForNetwork bool
	// WorkDir holds the rendered layer images during an export. Empty means
	// the system temp dir.
	WorkDir string
	Now     func() time.Time
}

func NewExporter(tc Toolchain, outputDir string) *Exporter {
	return &Exporter{
		Toolchain:          tc,
		OutputDir:          outputDir,
		FilePrefix:         DefaultFilePrefix,
		Container:          ContainerMP4,
		Preset:             PresetHighest,
		OptimizeForNetwork: true,
	}
}

func (e *Exporter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Exporter) container() Container {
	if e.Container == "" {
		return ContainerMP4
	}
	return e.Container
}

// OutputPath reserves <OutputDir>/<prefix><yyyyMMddHHmmss><ext>. Exports
// started in the same second get a numeric suffix. The reservation is an
// empty file created under a lock shared with other processes.
func (e *Exporter) OutputPath() (string, error) {
	dir := e.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".wmexport.lock"))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("lock output dir: %w", err)
	}
	defer lock.Unlock()

	prefix := e.FilePrefix
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	base := prefix + e.now().Format("20060102150405")
	ext := e.container().Ext()

	for i := 0; ; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserve output file: %w", err)
		}
		f.Close()
		return path, nil
	}
}

// Export runs the export and blocks until ffmpeg exits. onProgress may be nil.
// On failure the partial output is removed and the process error is returned
// wrapped, together with the tail of the ffmpeg log.
func (e *Exporter) Export(ctx context.Context, c *Composition, onProgress func(Progress)) (string, error) {
	bin, err := exec.LookPath(e.Toolchain.ffmpeg())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExporterUnavailable, err)
	}

	workDir, err := os.MkdirTemp(e.WorkDir, "wmlayers-*")
	if err != nil {
		return "", fmt.Errorf("create layer dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	layers := c.Layers()
	files := make([]string, len(layers))
	for i, l := range layers {
		files[i], err = RenderLayer(l, workDir, fmt.Sprintf("layer-%03d.png", i))
		if err != nil {
			return "", err
		}
	}

	outputPath, err := e.OutputPath()
	if err != nil {
		return "", err
	}

	args := commandArgs(c, layers, files, outputPath, outputOptions{
		preset:             e.Preset,
		container:          e.container(),
		optimizeForNetwork: e.OptimizeForNetwork,
	})
	slog.Debug("ffmpeg export", "source", c.Asset.Path, "output", outputPath, "layers", len(layers), "args", args)

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{max: 8 << 10}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}
	if err := ParseProgress(stdout, c.Duration, onProgress); err != nil {
		slog.Warn("read ffmpeg progress", "error", err)
		// ffmpeg blocks on a full pipe; Wait only returns once it can exit.
		io.Copy(io.Discard, stdout)
	}
	if err := cmd.Wait(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg export: %w\noutput: %s", err, stderr.String())
	}
	return outputPath, nil
}

// ExportAsync runs Export in the background. The returned channel yields
// exactly one Result and is then closed.
func (e *Exporter) ExportAsync(ctx context.Context, c *Composition, onProgress func(Progress)) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		path, err := e.Export(ctx, c, onProgress)
		if err != nil {
			ch <- Failure(err)
			return
		}
		ch <- Success(path)
	}()
	return ch
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
