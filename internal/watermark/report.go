package watermark

// Placement is the serialized form of one planned watermark window.
type Placement struct {
	Position  string  `json:"position"`
	BeginSecs float64 `json:"begin_secs"`
	EndSecs   float64 `json:"end_secs"`
	Frame     Rect    `json:"frame"`
}

// Report describes the placements of a composition for storage and display.
type Report struct {
	RenderSize   Size        `json:"render_size"`
	Rotation     int         `json:"rotation"`
	DurationSecs float64     `json:"duration_secs"`
	HasAudio     bool        `json:"has_audio"`
	Seed         int64       `json:"seed"`
	Legacy       bool        `json:"legacy,omitempty"`
	Placements   []Placement `json:"placements"`
	Stats        PlanStats   `json:"stats"`
}

func NewReport(c *Composition) Report {
	ws := c.Watermarks()
	r := Report{
		RenderSize:   c.RenderSize,
		Rotation:     c.Rotation,
		DurationSecs: c.Duration.Seconds(),
		HasAudio:     c.HasAudio(),
		Placements:   make([]Placement, len(ws)),
		Stats:        Summarize(ws),
	}
	for i, w := range ws {
		r.Placements[i] = Placement{
			Position:  w.Position,
			BeginSecs: w.Begin.Seconds(),
			EndSecs:   w.End().Seconds(),
			Frame:     w.Frame,
		}
	}
	return r
}
