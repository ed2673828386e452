package project

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func NewCheckCommand(overrides Overrides) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check project.cdb",
		Short: "Verify and repair marker consistency",
		Long: `Verify partner links, one track point per frame and non-empty tracks.
Violations are repaired unless -debug=true is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := requireProject(args[0]); err != nil {
				return err
			}
			s, logger, err := open(ctx, "check", args, overrides)
			if err != nil {
				return err
			}

			report, err := s.Check(ctx)
			if err != nil {
				closeSession(ctx, s, logger)
				return err
			}
			if report.Empty() {
				fmt.Fprintln(cmd.OutOrStdout(), "No problems found")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d unpaired markers, %d duplicate track points, %d empty tracks\n",
					len(report.Unpaired), len(report.DuplicatePoints), report.EmptyTracks)
			}
			if err := s.Save(ctx); err != nil {
				return err
			}
			return closeSession(ctx, s, logger)
		},
	}

	return cmd
}
