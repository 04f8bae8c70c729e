package watermark

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeFFmpegOK = `#!/bin/sh
out=""
for a in "$@"; do
  case "$a" in
    *.mp4|*.mov) out="$a" ;;
  esac
done
echo "out_time_us=4500000"
echo "progress=continue"
echo "out_time_us=9000000"
echo "progress=end"
printf 'watermarked' > "$out"
`

const fakeFFmpegFail = `#!/bin/sh
echo "Unrecognized option 'bogus'" >&2
exit 1
`

// fakeFFmpegFlood writes a progress line too long to scan, then keeps writing
// well past a pipe buffer before finishing.
const fakeFFmpegFlood = `#!/bin/sh
out=""
for a in "$@"; do
  case "$a" in
    *.mp4|*.mov) out="$a" ;;
  esac
done
head -c 100000 /dev/zero | tr '\0' 'x'
echo
head -c 300000 /dev/zero | tr '\0' 'y'
echo
echo "progress=end"
printf 'watermarked' > "$out"
`

func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func fixedClock() time.Time {
	return time.Date(2026, 10, 19, 14, 3, 7, 0, time.UTC)
}

func TestOutputPathNaming(t *testing.T) {
	e := NewExporter(Toolchain{}, t.TempDir())
	e.Now = fixedClock

	first, err := e.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, "WaterMarkVideo20261019140307.mp4", filepath.Base(first))

	second, err := e.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, "WaterMarkVideo20261019140307-1.mp4", filepath.Base(second))

	e.Container = ContainerMOV
	e.FilePrefix = "Snap"
	third, err := e.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, "Snap20261019140307.mov", filepath.Base(third))
}

func exportFixture(t *testing.T) (*Composition, string) {
	dir := t.TempDir()
	img := writeTestPNG(t, dir, 166, 64)
	c := NewComposition(testAsset(true))
	c.AddWatermarks(Watermark{Image: img, Frame: Rect{Origin: Point{24, 24}, Size: Size{166, 64}}, Begin: DefaultStart, Duration: 2 * time.Second})
	return c, dir
}

func TestExportSuccess(t *testing.T) {
	c, _ := exportFixture(t)
	out := t.TempDir()
	e := NewExporter(Toolchain{FFmpeg: fakeTool(t, fakeFFmpegOK)}, out)
	e.Now = fixedClock

	var reports []Progress
	path, err := e.Export(context.Background(), c, func(p Progress) { reports = append(reports, p) })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "WaterMarkVideo20261019140307.mp4"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "watermarked", string(data))

	require.Len(t, reports, 2)
	assert.Equal(t, 50.0, reports[0].Percent)
	assert.True(t, reports[1].Done)
}

func TestExportFailureRemovesOutput(t *testing.T) {
	c, _ := exportFixture(t)
	out := t.TempDir()
	e := NewExporter(Toolchain{FFmpeg: fakeTool(t, fakeFFmpegFail)}, out)

	_, err := e.Export(context.Background(), c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unrecognized option")

	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))

	matches, _ := filepath.Glob(filepath.Join(out, "*.mp4"))
	assert.Empty(t, matches)
}

func TestExportMissingBinary(t *testing.T) {
	c, _ := exportFixture(t)
	e := NewExporter(Toolchain{FFmpeg: filepath.Join(t.TempDir(), "no-such-ffmpeg")}, t.TempDir())
	_, err := e.Export(context.Background(), c, nil)
	assert.ErrorIs(t, err, ErrExporterUnavailable)
}

func TestExportAsyncDeliversOneResult(t *testing.T) {
	c, _ := exportFixture(t)
	e := NewExporter(Toolchain{FFmpeg: fakeTool(t, fakeFFmpegOK)}, t.TempDir())

	ch := e.ExportAsync(context.Background(), c, nil)
	res, ok := <-ch
	require.True(t, ok)
	assert.True(t, res.OK())
	assert.FileExists(t, res.Path)

	_, ok = <-ch
	assert.False(t, ok)

	failing := NewExporter(Toolchain{FFmpeg: fakeTool(t, fakeFFmpegFail)}, t.TempDir())
	res = <-failing.ExportAsync(context.Background(), c, nil)
	assert.False(t, res.OK())
	assert.Error(t, res.Err)
	assert.Empty(t, res.Path)
}

func TestExportSurvivesUnreadableProgress(t *testing.T) {
	c, _ := exportFixture(t)
	e := NewExporter(Toolchain{FFmpeg: fakeTool(t, fakeFFmpegFlood)}, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	select {
	case res := <-e.ExportAsync(ctx, c, nil):
		require.NoError(t, res.Err)
		assert.FileExists(t, res.Path)
	case <-time.After(20 * time.Second):
		t.Fatal("export stalled on undrained progress output")
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}
