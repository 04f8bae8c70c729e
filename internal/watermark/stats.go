package watermark

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// PlanStats summarizes a placement plan.
type PlanStats struct {
	Count      int            `json:"count"`
	First      time.Duration  `json:"first"`
	End        time.Duration  `json:"end"`
	Covered    time.Duration  `json:"covered"`
	MeanSecs   float64        `json:"mean_secs"`
	StdDevSecs float64        `json:"std_dev_secs"`
	MinSecs    float64        `json:"min_secs"`
	MaxSecs    float64        `json:"max_secs"`
	ByPosition map[string]int `json:"by_position"`
}

func Summarize(ws []Watermark) PlanStats {
	s := PlanStats{ByPosition: make(map[string]int)}
	if len(ws) == 0 {
		return s
	}
	lengths := make([]float64, len(ws))
	s.First = ws[0].Begin
	s.MinSecs = ws[0].Duration.Seconds()
	for i, w := range ws {
		secs := w.Duration.Seconds()
		lengths[i] = secs
		s.Covered += w.Duration
		if w.End() > s.End {
			s.End = w.End()
		}
		if w.Begin < s.First {
			s.First = w.Begin
		}
		if secs < s.MinSecs {
			s.MinSecs = secs
		}
		if secs > s.MaxSecs {
			s.MaxSecs = secs
		}
		s.ByPosition[w.Position]++
	}
	s.Count = len(ws)
	if len(lengths) == 1 {
		s.MeanSecs = lengths[0]
		return s
	}
	s.MeanSecs, s.StdDevSecs = stat.MeanStdDev(lengths, nil)
	return s
}
