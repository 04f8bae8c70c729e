package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/YannKr/wmmaker/internal/watermark"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <video>",
		Short: "List the tracks of a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probe, err := watermark.Probe(cmd.Context(), cfg.FFprobePath, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Format:   %s\n", probe.Format)
			fmt.Fprintf(out, "Duration: %s\n", probe.Duration)
			if asset, err := watermark.NewAsset(args[0], probe, watermark.AssetOptions{}); err == nil {
				fmt.Fprintf(out, "Display:  %s\n", asset.DisplaySize())
			} else {
				fmt.Fprintf(out, "Display:  %v\n", err)
			}

			rows := make([][]string, 0, len(probe.Tracks))
			for _, t := range probe.Tracks {
				size, rotation, fps := "", "", ""
				if t.Kind == watermark.KindVideo {
					size = fmt.Sprintf("%dx%d", t.Width, t.Height)
					rotation = strconv.Itoa(t.Rotation)
					fps = strconv.FormatFloat(t.FrameRate, 'f', 2, 64)
				}
				rows = append(rows, []string{
					strconv.Itoa(t.Index), string(t.Kind), t.Codec, size, rotation, fps, t.Duration.String(),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Kind", "Codec", "Size", "Rotation", "FPS", "Duration"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}
