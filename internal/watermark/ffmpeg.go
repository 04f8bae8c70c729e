package watermark

import (
	"fmt"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type Preset string

const (
	PresetHighest Preset = "highest"
	PresetMedium  Preset = "medium"
	PresetLow     Preset = "low"
)

type encoderSettings struct {
	crf      int
	speed    string
	audioBit string
}

var presetSettings = map[Preset]encoderSettings{
	PresetHighest: {crf: 18, speed: "slow", audioBit: "256k"},
	PresetMedium:  {crf: 23, speed: "medium", audioBit: "192k"},
	PresetLow:     {crf: 28, speed: "veryfast", audioBit: "128k"},
}

func ParsePreset(s string) (Preset, error) {
	if s == "" {
		return PresetHighest, nil
	}
	p := Preset(s)
	if _, ok := presetSettings[p]; !ok {
		return "", fmt.Errorf("unknown export preset %q", s)
	}
	return p, nil
}

type Container string

const (
	ContainerMP4 Container = "mp4"
	ContainerMOV Container = "mov"
)

func ParseContainer(s string) (Container, error) {
	switch Container(s) {
	case "", ContainerMP4:
		return ContainerMP4, nil
	case ContainerMOV:
		return ContainerMOV, nil
	}
	return "", fmt.Errorf("unknown export container %q", s)
}

func (c Container) Ext() string {
	return "." + string(c)
}

type outputOptions struct {
	preset             Preset
	container          Container
	optimizeForNetwork bool
}

// commandArgs builds the ffmpeg argument list for a composition. layerFiles
// holds the rendered PNG for each entry of layers.
func commandArgs(c *Composition, layers []Layer, layerFiles []string, outputPath string, opts outputOptions) []string {
	settings, ok := presetSettings[opts.preset]
	if !ok {
		settings = presetSettings[PresetHighest]
	}

	src := ffmpeg.Input(c.Asset.Path)
	video := src.Get("v:0")
	for i, l := range layers {
		x, y, _, _ := l.Frame.pixels()
		video = ffmpeg.Filter(
			[]*ffmpeg.Stream{video, ffmpeg.Input(layerFiles[i])},
			"overlay",
			ffmpeg.Args{},
			ffmpeg.KwArgs{
				"x":      x,
				"y":      y,
				"enable": EnableExpr(l.Windows),
			},
		)
	}
	frameRate := c.FrameRate
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	video = video.
		Filter("fps", ffmpeg.Args{strconv.FormatFloat(frameRate, 'f', -1, 64)}).
		Filter("format", ffmpeg.Args{"yuv420p"})

	streams := []*ffmpeg.Stream{video}
	kwargs := ffmpeg.KwArgs{
		"c:v":    "libx264",
		"crf":    settings.crf,
		"preset": settings.speed,
		"f":      string(opts.container),
	}
	if c.HasAudio() {
		streams = append(streams, src.Get("a:0"))
		kwargs["c:a"] = "aac"
		kwargs["b:a"] = settings.audioBit
	}
	if c.Duration > 0 {
		kwargs["t"] = strconv.FormatFloat(c.Duration.Seconds(), 'f', 3, 64)
	}
	if opts.optimizeForNetwork {
		kwargs["movflags"] = "+faststart"
	}

	args := []string{"-hide_banner", "-nostats", "-progress", "pipe:1"}
	return append(args, ffmpeg.Output(streams, outputPath, kwargs).OverWriteOutput().GetArgs()...)
}
