package watermark

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultFrameRate matches a frame duration of 1/30 s.
const DefaultFrameRate = 30

// Composition is the export timeline: the source video track (and audio
// track when present) inserted at time zero across the full duration, plus
// the watermark layers composited over the video.
type Composition struct {
	Asset    *Asset
	Start    time.Duration
	Duration time.Duration
	// RenderSize is the display size (rotation applied), not the coded size.
	// ffmpeg autorotates on decode, so presets and placements are computed in
	// this space even for rotated sources.
	RenderSize Size
	// Rotation is the display transform copied from the source video track.
	Rotation   int
	FrameRate  float64
	watermarks []Watermark
}

func NewComposition(asset *Asset) *Composition {
	return &Composition{
		Asset:      asset,
		Duration:   asset.Duration,
		RenderSize: asset.DisplaySize(),
		Rotation:   asset.Video.Rotation,
		FrameRate:  DefaultFrameRate,
	}
}

func (c *Composition) HasAudio() bool {
	return c.Asset.Audio != nil
}

func (c *Composition) AddWatermarks(ws ...Watermark) {
	c.watermarks = append(c.watermarks, ws...)
}

func (c *Composition) Watermarks() []Watermark {
	out := make([]Watermark, len(c.watermarks))
	copy(out, c.watermarks)
	return out
}

// Window is a half-open visibility interval.
type Window struct {
	Begin time.Duration
	End   time.Duration
}

// Layer is one overlay in the filter graph: an image drawn at Frame whenever
// the presentation time falls in one of its windows.
type Layer struct {
	Image   string
	Frame   Rect
	Opacity float64
	Windows []Window
}

type layerKey struct {
	image   string
	frame   Rect
	opacity float64
}

// Layers merges watermarks that share image, frame and opacity so the graph
// needs one overlay per distinct layer rather than one per window. Layers keep
// the order in which they first appear.
func (c *Composition) Layers() []Layer {
	index := make(map[layerKey]int)
	var layers []Layer
	for _, w := range c.watermarks {
		if w.Duration <= 0 {
			continue
		}
		k := layerKey{image: w.Image, frame: w.Frame, opacity: w.Alpha()}
		i, ok := index[k]
		if !ok {
			i = len(layers)
			index[k] = i
			layers = append(layers, Layer{Image: w.Image, Frame: w.Frame, Opacity: w.Alpha()})
		}
		layers[i].Windows = append(layers[i].Windows, Window{Begin: w.Begin, End: w.End()})
	}
	for i := range layers {
		sort.Slice(layers[i].Windows, func(a, b int) bool {
			return layers[i].Windows[a].Begin < layers[i].Windows[b].Begin
		})
	}
	return layers
}

// EnableExpr renders windows as an ffmpeg timeline expression that is
// non-zero exactly inside any window.
func EnableExpr(windows []Window) string {
	if len(windows) == 0 {
		return "0"
	}
	terms := make([]string, len(windows))
	for i, w := range windows {
		terms[i] = fmt.Sprintf("gte(t,%.3f)*lt(t,%.3f)", w.Begin.Seconds(), w.End.Seconds())
	}
	return strings.Join(terms, "+")
}
