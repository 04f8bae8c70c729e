package watermark

import (
	"errors"
	"time"
)

var (
	ErrNoVideoTrack        = errors.New("no video track")
	ErrNoAudioTrack        = errors.New("no audio track")
	ErrUnknownPosition     = errors.New("unknown watermark position")
	ErrInvalidVideoSize    = errors.New("invalid video size")
	ErrExporterUnavailable = errors.New("exporter unavailable")
)

// Watermark is an image layer shown only during [Begin, Begin+Duration).
// Outside its window the layer is fully transparent. Visibility is a step at
// a constant Opacity; there are no fades or keyframed animations.
type Watermark struct {
	Image    string        `json:"image"`
	Frame    Rect          `json:"frame"`
	Position string        `json:"position,omitempty"`
	Begin    time.Duration `json:"begin"`
	Duration time.Duration `json:"duration"`
	// Opacity while visible. Values outside (0,1] mean fully opaque.
	Opacity float64 `json:"opacity,omitempty"`
}

func (w Watermark) End() time.Duration {
	return w.Begin + w.Duration
}

// Alpha returns the effective opacity during the visible window.
func (w Watermark) Alpha() float64 {
	if w.Opacity <= 0 || w.Opacity > 1 {
		return 1
	}
	return w.Opacity
}

// VisibleAt reports whether the watermark is shown at presentation time t.
func (w Watermark) VisibleAt(t time.Duration) bool {
	return t >= w.Begin && t < w.End()
}
