package watermark

import (
	"fmt"
	"math"
)

// Size is a width/height pair in video pixels.
type Size struct {
	Width  float64 `json:"width" toml:"width"`
	Height float64 `json:"height" toml:"height"`
}

func (s Size) valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Landscape reports whether the size is wider than it is tall.
func (s Size) Landscape() bool {
	return s.Width > s.Height
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}

// Point is a top-left anchored position in video pixels.
type Point struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
}

// Rect is the on-screen frame of a watermark layer. The origin is the top-left
// corner of the video.
type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

// pixels rounds the frame to whole pixels for the overlay filter.
func (r Rect) pixels() (x, y, w, h int) {
	return int(math.Round(r.Origin.X)), int(math.Round(r.Origin.Y)),
		int(math.Round(r.Size.Width)), int(math.Round(r.Size.Height))
}
