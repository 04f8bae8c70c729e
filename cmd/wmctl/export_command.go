package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/YannKr/wmmaker/internal/watermark"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var opts planOptions
	var outputDir string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "export <video>",
		Short: "Overlay randomized watermarks and export a new video",
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
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			onProgress := progressReporter(cmd.ErrOrStderr(), quiet)
			maker := newMaker(cfg, outputDir, opts.legacy)
			slog.Info("export started", "source", args[0], "seed", seed, "legacy", opts.legacy)

			out, err := maker.Make(cmd.Context(), args[0], image, rand.New(rand.NewSource(seed)), onProgress)
			if err != nil {
				return err
			}
			size, _ := watermark.FileSize(out.Path)
			slog.Info("export finished", "output", out.Path, "size", humanize.Bytes(uint64(size)),
				"watermarks", len(out.Watermarks))
			fmt.Fprintln(cmd.OutOrStdout(), out.Path)
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "Directory for the exported file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

// progressReporter draws a bar when w is a terminal and logs whole-percent
// steps otherwise.
func progressReporter(w io.Writer, quiet bool) func(watermark.Progress) {
	if quiet {
		return nil
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("watermarking"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		)
		return func(p watermark.Progress) {
			_ = bar.Set(int(p.Percent))
			if p.Done {
				_ = bar.Finish()
			}
		}
	}

	last := -10
	return func(p watermark.Progress) {
		pct := int(p.Percent)
		if pct/10 == last/10 && !p.Done {
			return
		}
		last = pct
		slog.Info("export progress", "percent", pct, "out_time", p.OutTime, "speed", p.Speed)
	}
}
