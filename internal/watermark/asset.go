package watermark

import (
	"context"
	"fmt"
	"time"
)

// Toolchain names the FFmpeg binaries. Empty fields resolve through PATH.
type Toolchain struct {
	FFmpeg  string
	FFprobe string
}

func (tc Toolchain) ffmpeg() string {
	if tc.FFmpeg == "" {
		return "ffmpeg"
	}
	return tc.FFmpeg
}

type AssetOptions struct {
	// RequireAudio fails OpenAsset when the container has no audio stream.
	RequireAudio bool
}

// Asset is a probed source video with its first video track and, when
// present, its first audio track.
type Asset struct {
	Path     string
	Format   string
	Duration time.Duration
	Video    Track
	Audio    *Track
}

func OpenAsset(ctx context.Context, tc Toolchain, path string, opts AssetOptions) (*Asset, error) {
	probe, err := Probe(ctx, tc.FFprobe, path)
	if err != nil {
		return nil, err
	}
	return NewAsset(path, probe, opts)
}

// NewAsset runs track discovery on an existing probe result.
func NewAsset(path string, probe *ProbeResult, opts AssetOptions) (*Asset, error) {
	video, ok := probe.FirstTrack(KindVideo)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoVideoTrack)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return nil, fmt.Errorf("%s: %w: %dx%d", path, ErrInvalidVideoSize, video.Width, video.Height)
	}
	a := &Asset{
		Path:     path,
		Format:   probe.Format,
		Duration: probe.Duration,
		Video:    video,
	}
	if a.Duration == 0 {
		a.Duration = video.Duration
	}
	if audio, ok := probe.FirstTrack(KindAudio); ok {
		a.Audio = &audio
	} else if opts.RequireAudio {
		return nil, fmt.Errorf("%s: %w", path, ErrNoAudioTrack)
	}
	return a, nil
}

// NaturalSize is the coded frame size before the display transform.
func (a *Asset) NaturalSize() Size {
	return Size{Width: float64(a.Video.Width), Height: float64(a.Video.Height)}
}

// DisplaySize is the frame size after the display rotation is applied.
func (a *Asset) DisplaySize() Size {
	s := a.NaturalSize()
	if a.Video.Rotation == 90 || a.Video.Rotation == 270 {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}
