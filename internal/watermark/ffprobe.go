package watermark

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// Track is one elementary stream of a media container.
type Track struct {
	Index     int           `json:"index"`
	Kind      TrackKind     `json:"kind"`
	Codec     string        `json:"codec"`
	Width     int           `json:"width,omitempty"`
	Height    int           `json:"height,omitempty"`
	Rotation  int           `json:"rotation,omitempty"`
	FrameRate float64       `json:"frame_rate,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

type ProbeResult struct {
	Format   string        `json:"format"`
	Duration time.Duration `json:"duration"`
	Tracks   []Track       `json:"tracks"`
}

// FirstTrack returns the first stream of the given kind in container order.
func (p *ProbeResult) FirstTrack(kind TrackKind) (Track, bool) {
	for _, t := range p.Tracks {
		if t.Kind == kind {
			return t, true
		}
	}
	return Track{}, false
}

type ffprobeOutput struct {
	Streams []struct {
		Index        int               `json:"index"`
		CodecType    string            `json:"codec_type"`
		CodecName    string            `json:"codec_name"`
		Width        int               `json:"width"`
		Height       int               `json:"height"`
		RFrameRate   string            `json:"r_frame_rate"`
		AvgFrameRate string            `json:"avg_frame_rate"`
		Duration     string            `json:"duration"`
		Tags         map[string]string `json:"tags"`
		SideDataList []struct {
			SideDataType string  `json:"side_data_type"`
			Rotation     float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func Probe(ctx context.Context, ffprobe, filePath string) (*ProbeResult, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filePath, err)
	}
	return ParseProbe(output)
}

// ParseProbe decodes `ffprobe -print_format json -show_format -show_streams`.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{Format: parsed.Format.FormatName}
	result.Duration = parseSeconds(parsed.Format.Duration)
	for _, s := range parsed.Streams {
		kind := TrackKind(s.CodecType)
		if kind != KindVideo && kind != KindAudio {
			continue
		}
		t := Track{
			Index:    s.Index,
			Kind:     kind,
			Codec:    s.CodecName,
			Duration: parseSeconds(s.Duration),
		}
		if kind == KindVideo {
			t.Width = s.Width
			t.Height = s.Height
			t.FrameRate = parseRate(s.AvgFrameRate)
			if t.FrameRate == 0 {
				t.FrameRate = parseRate(s.RFrameRate)
			}
			for _, sd := range s.SideDataList {
				if sd.SideDataType == "Display Matrix" {
					t.Rotation = normalizeRotation(int(sd.Rotation))
				}
			}
			if t.Rotation == 0 {
				if v, err := strconv.Atoi(s.Tags["rotate"]); err == nil {
					t.Rotation = normalizeRotation(v)
				}
			}
		}
		result.Tracks = append(result.Tracks, t)
	}
	if result.Duration == 0 {
		for _, t := range result.Tracks {
			if t.Duration > result.Duration {
				result.Duration = t.Duration
			}
		}
	}
	return result, nil
}

func parseSeconds(s string) time.Duration {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// normalizeRotation maps any angle to [0, 360).
func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
