package watermark

import (
	"fmt"
	"math/rand"
	"time"
)

const (
	// DefaultStart is where the first window opens.
	DefaultStart = 10 * time.Millisecond

	DefaultMinWindow = 2 * time.Second
	DefaultMaxWindow = 3 * time.Second

	LegacyMinWindow = 2 * time.Second
	LegacyMaxWindow = 6 * time.Second

	legacyMargin = 12.0 / 2
)

// Planner tiles a timeline with back-to-back watermark windows that alternate
// between a left and a right frame. Window lengths are drawn uniformly from
// [MinWindow, MaxWindow).
type Planner struct {
	Start     time.Duration
	MinWindow time.Duration
	MaxWindow time.Duration
	Rand      *rand.Rand
}

func DefaultPlanner(rng *rand.Rand) Planner {
	return Planner{Start: DefaultStart, MinWindow: DefaultMinWindow, MaxWindow: DefaultMaxWindow, Rand: rng}
}

func LegacyPlanner(rng *rand.Rand) Planner {
	return Planner{Start: DefaultStart, MinWindow: LegacyMinWindow, MaxWindow: LegacyMaxWindow, Rand: rng}
}

// Anchor is a named frame a window can be placed on.
type Anchor struct {
	Name  string
	Frame Rect
}

// Plan walks from Start to duration. Each window begins where the previous
// one ended; the first side is picked at random and sides then alternate.
func (p Planner) Plan(duration time.Duration, image string, left, right Anchor) []Watermark {
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	minW, maxW := p.MinWindow, p.MaxWindow
	if minW <= 0 {
		minW = DefaultMinWindow
	}
	if maxW < minW {
		maxW = minW
	}

	var out []Watermark
	current := p.Start
	onLeft := rng.Intn(2) == 0
	for current < duration {
		d := minW + time.Duration(rng.Float64()*float64(maxW-minW))
		anchor := right
		if onLeft {
			anchor = left
		}
		out = append(out, Watermark{
			Image:    image,
			Frame:    anchor.Frame,
			Position: anchor.Name,
			Begin:    current,
			Duration: d,
		})
		current += d
		onLeft = !onLeft
	}
	return out
}

// RandomWatermarks covers the whole video with 2-3 second windows alternating
// between the scaled leftTop and rightTop anchors of the preset matching the
// video's aspect ratio.
func RandomWatermarks(video Size, duration time.Duration, image string, rng *rand.Rand) ([]Watermark, error) {
	return PlanWithScale(ScaleFor(video), DefaultPlanner(rng), video, duration, image)
}

// PlanWithScale is RandomWatermarks with an explicit scale and planner.
func PlanWithScale(s *Scale, p Planner, video Size, duration time.Duration, image string) ([]Watermark, error) {
	left, err := s.ScaledFrame(video, PositionLeftTop)
	if err != nil {
		return nil, err
	}
	right, err := s.ScaledFrame(video, PositionRightTop)
	if err != nil {
		return nil, err
	}
	return p.Plan(duration, image,
		Anchor{Name: PositionLeftTop, Frame: left},
		Anchor{Name: PositionRightTop, Frame: right},
	), nil
}

// LegacyWatermarks is the older placement rule: 2-6 second windows, fixed
// points derived from the image size instead of a scale preset.
func LegacyWatermarks(video Size, duration time.Duration, image string, imageSize Size, rng *rand.Rand) ([]Watermark, error) {
	if !video.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVideoSize, video)
	}
	left := Rect{Origin: Point{X: legacyMargin, Y: legacyMargin}, Size: imageSize}
	right := Rect{
		Origin: Point{X: video.Width/2.0 - legacyMargin - imageSize.Width/2, Y: legacyMargin},
		Size:   imageSize,
	}
	return LegacyPlanner(rng).Plan(duration, image,
		Anchor{Name: PositionLeftTop, Frame: left},
		Anchor{Name: PositionRightTop, Frame: right},
	), nil
}
