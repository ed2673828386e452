package project

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/spf13/cobra"
)

func NewExportCommand(overrides Overrides) *cobra.Command {
	var (
		kind      string
		output    string
		fps       float64
		timestamp bool
		noMarkers bool
		start     float64
		end       float64
	)

	cmd := &cobra.Command{
		Use:   "export [project.cdb] [files...]",
		Short: "Export the play range as video, gif or image sequence",
		Long: `Export the frames of the play range with markers and an optional
time caption. Unset flags fall back to the export options of the project.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			values := maps.Clone(overrides)
			if values == nil {
				values = Overrides{}
			}
			flags := cmd.Flags()
			if flags.Changed("type") {
				values[options.KeyExportType] = kind
			}
			if flags.Changed("output") {
				key := options.KeyExportVideo
				if values[options.KeyExportType] == "images" {
					key = options.KeyExportImage
				}
				values[key] = output
			}
			if flags.Changed("fps") {
				values[options.KeyExportFPS] = strconv.FormatFloat(fps, 'f', -1, 64)
			}
			if flags.Changed("timestamp") {
				values[options.KeyExportTimestamp] = strconv.FormatBool(timestamp)
			}
			if flags.Changed("no-markers") {
				values[options.KeyExportMarkers] = strconv.FormatBool(!noMarkers)
			}
			if flags.Changed("start") {
				values[options.KeyPlayStart] = strconv.FormatFloat(start, 'f', -1, 64)
			}
			if flags.Changed("end") {
				values[options.KeyPlayEnd] = strconv.FormatFloat(end, 'f', -1, 64)
			}

			s, logger, err := open(ctx, "export", args, values)
			if err != nil {
				return err
			}

			res, err := s.Export(ctx, func(done, total int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\rExporting frame %d/%d", done, total)
			})
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				closeSession(context.WithoutCancel(ctx), s, logger)
				return fmt.Errorf("export failed after %d frames: %w", res.Frames, err)
			}

			var size uint64
			for _, file := range res.Files {
				if info, err := os.Stat(file); err == nil {
					size += uint64(info.Size())
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d frames to %d file(s), %s\n", res.Frames, len(res.Files), humanize.Bytes(size))

			return closeSession(context.WithoutCancel(ctx), s, logger)
		},
	}

	cmd.Flags().StringVar(&kind, "type", "video", "output format (video, gif, images)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file; a %d pattern for images")
	cmd.Flags().Float64Var(&fps, "fps", 25, "frames per second of video and gif output")
	cmd.Flags().BoolVar(&timestamp, "timestamp", false, "draw a time caption")
	cmd.Flags().BoolVar(&noMarkers, "no-markers", false, "do not draw markers")
	cmd.Flags().Float64Var(&start, "start", 0, "first frame, fractions below 1 are relative")
	cmd.Flags().Float64Var(&end, "end", 1, "last frame, fractions up to 1 are relative")

	return cmd
}
