package watermark

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAsset(audio bool) *Asset {
	a := &Asset{
		Path:     "in.mov",
		Duration: 9 * time.Second,
		Video:    Track{Index: 0, Kind: KindVideo, Width: 1280, Height: 720},
	}
	if audio {
		a.Audio = &Track{Index: 1, Kind: KindAudio, Codec: "aac"}
	}
	return a
}

func TestNewComposition(t *testing.T) {
	asset := testAsset(true)
	asset.Video.Rotation = 90

	c := NewComposition(asset)
	assert.Equal(t, 9*time.Second, c.Duration)
	assert.Zero(t, c.Start)
	assert.Equal(t, Size{720, 1280}, c.RenderSize)
	assert.Equal(t, 90, c.Rotation)
	assert.Equal(t, float64(DefaultFrameRate), c.FrameRate)
	assert.True(t, c.HasAudio())
	assert.False(t, NewComposition(testAsset(false)).HasAudio())
}

func TestLayersMergeSharedFrames(t *testing.T) {
	c := NewComposition(testAsset(false))
	ws, err := RandomWatermarks(c.RenderSize, c.Duration, "wm.png", rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	c.AddWatermarks(ws...)

	layers := c.Layers()
	require.Len(t, layers, 2)

	total := 0
	for _, l := range layers {
		total += len(l.Windows)
		for i := 1; i < len(l.Windows); i++ {
			assert.Less(t, l.Windows[i-1].End, l.Windows[i].Begin+time.Nanosecond)
		}
	}
	assert.Equal(t, len(ws), total)
}

func TestLayersSeparateOpacity(t *testing.T) {
	c := NewComposition(testAsset(false))
	frame := Rect{Size: Size{10, 10}}
	c.AddWatermarks(
		Watermark{Image: "a.png", Frame: frame, Begin: 0, Duration: time.Second},
		Watermark{Image: "a.png", Frame: frame, Begin: time.Second, Duration: time.Second, Opacity: 0.5},
		Watermark{Image: "a.png", Frame: frame, Begin: 2 * time.Second, Duration: time.Second, Opacity: 1},
		Watermark{Image: "a.png", Frame: frame, Begin: 3 * time.Second},
	)
	layers := c.Layers()
	require.Len(t, layers, 2)
	assert.Len(t, layers[0].Windows, 2)
	assert.Equal(t, 0.5, layers[1].Opacity)
}

func TestEnableExpr(t *testing.T) {
	assert.Equal(t, "0", EnableExpr(nil))

	expr := EnableExpr([]Window{
		{Begin: 10 * time.Millisecond, End: 2510 * time.Millisecond},
		{Begin: 5 * time.Second, End: 7250 * time.Millisecond},
	})
	assert.Equal(t, "gte(t,0.010)*lt(t,2.510)+gte(t,5.000)*lt(t,7.250)", expr)
	assert.Equal(t, 1, strings.Count(expr, "+"))
}

func TestWatermarksReturnsCopy(t *testing.T) {
	c := NewComposition(testAsset(false))
	c.AddWatermarks(Watermark{Image: "a.png"})
	ws := c.Watermarks()
	ws[0].Image = "b.png"
	assert.Equal(t, "a.png", c.Watermarks()[0].Image)
}

func TestNewReport(t *testing.T) {
	c := NewComposition(testAsset(true))
	ws, err := RandomWatermarks(c.RenderSize, c.Duration, "wm.png", rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	c.AddWatermarks(ws...)

	r := NewReport(c)
	assert.True(t, r.HasAudio)
	assert.Equal(t, 9.0, r.DurationSecs)
	require.Len(t, r.Placements, len(ws))
	assert.Equal(t, len(ws), r.Stats.Count)
	assert.InDelta(t, 0.01, r.Placements[0].BeginSecs, 1e-9)
	for i := 1; i < len(r.Placements); i++ {
		assert.InDelta(t, r.Placements[i-1].EndSecs, r.Placements[i].BeginSecs, 1e-9)
	}
}
