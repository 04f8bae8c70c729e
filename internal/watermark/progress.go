package watermark

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Progress is one ffmpeg progress report.
type Progress struct {
	OutTime time.Duration
	Percent float64
	Speed   string
	Done    bool
}

// ParseProgress reads the key=value blocks ffmpeg writes with -progress and
// calls fn at the end of each block. Percent is relative to total; with an
// unknown total only the final report carries 100.
func ParseProgress(r io.Reader, total time.Duration, fn func(Progress)) error {
	var cur Progress
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// Both keys carry microseconds.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				cur.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			cur.Speed = strings.TrimSpace(value)
		case "progress":
			cur.Done = value == "end"
			cur.Percent = percentOf(cur.OutTime, total)
			if cur.Done {
				cur.Percent = 100
			}
			if fn != nil {
				fn(cur)
			}
		}
	}
	return scanner.Err()
}

func percentOf(done, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
