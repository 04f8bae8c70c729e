package watermark

import (
	"fmt"
	"sort"
)

const (
	PositionLeftTop  = "leftTop"
	PositionRightTop = "rightTop"
)

// Scale describes watermark geometry designed against a baseline video size.
// Placing the watermark on a video of another size scales the baseline
// watermark size and anchors linearly: width by target-width / baseline-width,
// height by target-height / baseline-height.
type Scale struct {
	Name          string           `toml:"name"`
	VideoSize     Size             `toml:"video_size"`
	WatermarkSize Size             `toml:"watermark_size"`
	Positions     map[string]Point `toml:"positions"`
}

func NewScale(name string, videoSize, watermarkSize Size, positions map[string]Point) *Scale {
	p := make(map[string]Point, len(positions))
	for k, v := range positions {
		p[k] = v
	}
	return &Scale{Name: name, VideoSize: videoSize, WatermarkSize: watermarkSize, Positions: p}
}

// Horizontal16x9 is the landscape preset: a 166x64 watermark on 1280x720.
func Horizontal16x9() *Scale {
	return NewScale("horizontal16x9", Size{1280, 720}, Size{166, 64}, map[string]Point{
		PositionLeftTop:  {24, 24},
		PositionRightTop: {1090, 24},
	})
}

// Vertical9x16 is the portrait preset: a 166x64 watermark on 720x1280.
func Vertical9x16() *Scale {
	return NewScale("vertical9x16", Size{720, 1280}, Size{166, 64}, map[string]Point{
		PositionLeftTop:  {24, 24},
		PositionRightTop: {530, 24},
	})
}

// ScaleFor picks the landscape preset for videos wider than tall and the
// portrait preset otherwise (square videos included).
func ScaleFor(video Size) *Scale {
	return Presets{}.For(video)
}

// Presets lets callers replace the baseline scales. Nil fields fall back to
// the built-in presets.
type Presets struct {
	Horizontal *Scale
	Vertical   *Scale
}

func (p Presets) For(video Size) *Scale {
	if video.Landscape() {
		if p.Horizontal != nil {
			return p.Horizontal
		}
		return Horizontal16x9()
	}
	if p.Vertical != nil {
		return p.Vertical
	}
	return Vertical9x16()
}

func (s *Scale) AddPosition(name string, p Point) {
	if s.Positions == nil {
		s.Positions = make(map[string]Point)
	}
	s.Positions[name] = p
}

// PositionNames returns the anchor names in sorted order.
func (s *Scale) PositionNames() []string {
	names := make([]string, 0, len(s.Positions))
	for name := range s.Positions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scale) ScaledSize(video Size) Size {
	return Size{
		Width:  video.Width * s.WatermarkSize.Width / s.VideoSize.Width,
		Height: video.Height * s.WatermarkSize.Height / s.VideoSize.Height,
	}
}

func (s *Scale) ScaledPosition(video Size, name string) (Point, error) {
	p, ok := s.Positions[name]
	if !ok {
		return Point{}, fmt.Errorf("%w: %q in scale %s", ErrUnknownPosition, name, s.Name)
	}
	return Point{
		X: video.Width * p.X / s.VideoSize.Width,
		Y: video.Height * p.Y / s.VideoSize.Height,
	}, nil
}

func (s *Scale) ScaledFrame(video Size, name string) (Rect, error) {
	if !video.valid() {
		return Rect{}, fmt.Errorf("%w: %s", ErrInvalidVideoSize, video)
	}
	origin, err := s.ScaledPosition(video, name)
	if err != nil {
		return Rect{}, err
	}
	return Rect{Origin: origin, Size: s.ScaledSize(video)}, nil
}

// Validate checks that the baseline sizes can be scaled from.
func (s *Scale) Validate() error {
	if !s.VideoSize.valid() {
		return fmt.Errorf("scale %s: %w: baseline %s", s.Name, ErrInvalidVideoSize, s.VideoSize)
	}
	if !s.WatermarkSize.valid() {
		return fmt.Errorf("scale %s: invalid watermark size %s", s.Name, s.WatermarkSize)
	}
	for _, name := range []string{PositionLeftTop, PositionRightTop} {
		if _, ok := s.Positions[name]; !ok {
			return fmt.Errorf("scale %s: %w: %q", s.Name, ErrUnknownPosition, name)
		}
	}
	return nil
}
