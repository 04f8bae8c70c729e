package watermark

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Maker runs the whole pipeline for one source video: discover tracks, plan
// randomized watermarks over the full duration, build the composition and
// export it.
type Maker struct {
	Exporter     *Exporter
	Presets      Presets
	RequireAudio bool
	// Legacy switches to the older 2-6 second fixed-point placement.
	Legacy bool
}

type Output struct {
	Path        string
	Watermarks  []Watermark
	Composition *Composition
}

// Plan opens the source and computes its watermark placements without
// exporting anything.
func (m *Maker) Plan(ctx context.Context, source, image string, rng *rand.Rand) (*Composition, error) {
	asset, err := OpenAsset(ctx, m.Exporter.Toolchain, source, AssetOptions{RequireAudio: m.RequireAudio})
	if err != nil {
		return nil, err
	}
	comp := NewComposition(asset)

	var ws []Watermark
	if m.Legacy {
		imgSize, err := ImageSize(image)
		if err != nil {
			return nil, err
		}
		ws, err = LegacyWatermarks(comp.RenderSize, comp.Duration, image, imgSize, rng)
		if err != nil {
			return nil, err
		}
	} else {
		scale := m.Presets.For(comp.RenderSize)
		ws, err = PlanWithScale(scale, DefaultPlanner(rng), comp.RenderSize, comp.Duration, image)
		if err != nil {
			return nil, err
		}
	}
	comp.AddWatermarks(ws...)
	slog.Debug("watermarks planned", "source", source, "count", len(ws),
		"render_size", comp.RenderSize.String(), "rotation", comp.Rotation, "duration", comp.Duration)
	return comp, nil
}

func (m *Maker) Make(ctx context.Context, source, image string, rng *rand.Rand, onProgress func(Progress)) (*Output, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	comp, err := m.Plan(ctx, source, image, rng)
	if err != nil {
		return nil, err
	}
	path, err := m.Exporter.Export(ctx, comp, onProgress)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", source, err)
	}
	return &Output{Path: path, Watermarks: comp.Watermarks(), Composition: comp}, nil
}
