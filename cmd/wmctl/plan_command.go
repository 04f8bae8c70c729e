package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/YannKr/wmmaker/internal/config"
	"github.com/YannKr/wmmaker/internal/watermark"
)

type planOptions struct {
	image  string
	seed   int64
	legacy bool
}

func (o *planOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.image, "image", "", "Watermark image (defaults to watermark_image from config)")
	cmd.Flags().Int64Var(&o.seed, "seed", 0, "Placement seed (random when unset)")
	cmd.Flags().BoolVar(&o.legacy, "legacy", false, "Use the legacy 2-6s fixed-point placement")
}

// resolve fills in the image from config and picks a seed when none was given.
func (o *planOptions) resolve(cmd *cobra.Command, cfg *config.Config) (string, int64, error) {
	image := o.image
	if image == "" {
		image = cfg.WatermarkImage
	}
	if image == "" {
		return "", 0, fmt.Errorf("no watermark image: pass --image or set watermark_image")
	}
	seed := o.seed
	if !cmd.Flags().Changed("seed") {
		seed = time.Now().UnixNano()
	}
	return image, seed, nil
}

func newMaker(cfg *config.Config, outputDir string, legacy bool) *watermark.Maker {
	return &watermark.Maker{
		Exporter:     cfg.Exporter(outputDir),
		Presets:      cfg.Scales.Presets(),
		RequireAudio: cfg.RequireAudio,
		Legacy:       legacy,
	}
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var opts planOptions
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "plan <video>",
		Short: "Show the watermark placements for a video without exporting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			image, seed, err := opts.resolve(cmd, cfg)
			if err != nil {
				return err
			}

			comp, err := newMaker(cfg, "", opts.legacy).Plan(cmd.Context(), args[0], image, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			report := watermark.NewReport(comp)
			report.Seed = seed
			report.Legacy = opts.legacy

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprint(out, renderReport(report))
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the placement report as JSON")
	return cmd
}

func renderReport(r watermark.Report) string {
	rows := make([][]string, 0, len(r.Placements))
	for i, p := range r.Placements {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			p.Position,
			formatSecs(p.BeginSecs),
			formatSecs(p.EndSecs),
			fmt.Sprintf("%.0f,%.0f", p.Frame.Origin.X, p.Frame.Origin.Y),
			fmt.Sprintf("%.0fx%.0f", p.Frame.Size.Width, p.Frame.Size.Height),
		})
	}
	s := fmt.Sprintf("Render size: %s (rotation %d)\nDuration:    %ss\nSeed:        %d\n",
		r.RenderSize, r.Rotation, formatSecs(r.DurationSecs), r.Seed)
	s += renderTable(
		[]string{"#", "Position", "Begin", "End", "Origin", "Size"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
	) + "\n"

	st := r.Stats
	positions := make([]string, 0, len(st.ByPosition))
	for name := range st.ByPosition {
		positions = append(positions, name)
	}
	sort.Strings(positions)
	statRows := [][]string{
		{"windows", strconv.Itoa(st.Count)},
		{"covered", st.Covered.String()},
		{"mean", formatSecs(st.MeanSecs) + "s"},
		{"std dev", formatSecs(st.StdDevSecs) + "s"},
		{"shortest", formatSecs(st.MinSecs) + "s"},
		{"longest", formatSecs(st.MaxSecs) + "s"},
	}
	for _, name := range positions {
		statRows = append(statRows, []string{name, strconv.Itoa(st.ByPosition[name])})
	}
	s += renderTable([]string{"Statistic", "Value"}, statRows, []columnAlignment{alignLeft, alignRight}) + "\n"
	return s
}

func formatSecs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
