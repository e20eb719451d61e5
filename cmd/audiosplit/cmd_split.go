package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alnah/go-audiosplit/internal/ffmpeg"
	"github.com/alnah/go-audiosplit/internal/format"
	"github.com/alnah/go-audiosplit/internal/plan"
	"github.com/alnah/go-audiosplit/internal/split"
)

// splitCmd creates the one-shot split command.
func splitCmd() *cobra.Command {
	var (
		output   string
		unit     string
		target   int
		parallel int
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "split <audio-file>",
		Short: "Split an audio file into segments",
		Long: `Split an audio file into segments by target duration or size.

The file is probed with ffmpeg, divided into contiguous ranges, and each
range is encoded independently. If an encoding strategy fails, the next
one in the ladder is tried, ending with uncompressed WAV.`,
		Example: `  audiosplit split talk.mp3 --seconds 600
  audiosplit split album.flac --megabytes 24 -o ./parts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			if output == "" {
				output = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "_segments"
			}

			u, err := plan.ParseUnit(unit)
			if err != nil {
				return fmt.Errorf("%w: %w", split.ErrInvalidParameters, err)
			}

			ffmpegPath, err := ffmpeg.Resolve()
			if err != nil {
				return err
			}

			log := zerolog.Nop()
			if verbose {
				log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
			}

			cfg := split.DefaultConfig(ffmpegPath)
			cfg.MaxParallel = parallel
			splitter, err := split.New(cfg, split.WithLogger(log))
			if err != nil {
				return err
			}

			m, err := splitter.Split(cmd.Context(), inputPath, output,
				plan.Request{Unit: u, Target: target})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, seg := range m.Segments {
				fmt.Fprintf(out, "%s  %s  %s\n",
					seg.Filename, format.Size(seg.SizeBytes),
					format.Duration(seg.Range.Duration()))
			}
			for _, f := range m.Failures {
				fmt.Fprintf(out, "FAILED %s: %s\n", f.Range, f.Err)
			}
			fmt.Fprintf(out, "%d segment(s), %s total in %s\n",
				m.SegmentCount, format.Size(m.TotalSizeBytes),
				m.ProcessingTime.Round(10*time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default <input>_segments)")
	cmd.Flags().StringVarP(&unit, "unit", "u", string(plan.UnitSeconds), "target unit: seconds or megabytes")
	cmd.Flags().IntVarP(&target, "target", "t", 600, "target segment size in the chosen unit")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "max concurrent encodes (0 = CPU count)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")

	return cmd
}
