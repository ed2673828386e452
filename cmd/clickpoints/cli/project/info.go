package project

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/clickpoints/pkg/db/migrations"
	"github.com/spf13/cobra"
)

func NewInfoCommand(overrides Overrides) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info project.cdb",
		Short: "Print statistics of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := requireProject(args[0]); err != nil {
				return err
			}
			s, logger, err := open(ctx, "info", args, overrides)
			if err != nil {
				return err
			}
			defer closeSession(ctx, s, logger)

			w := cmd.OutOrStdout()
			sum, err := s.Summary(ctx)
			if err != nil {
				return err
			}
			printSummary(w, sum)

			rt, err := s.RealTime(ctx)
			if err != nil {
				return err
			}
			if first, last, ok := rt.Bounds(); ok {
				fmt.Fprintf(w, "Recorded: %s to %s (%s)\n",
					first.Format("2006-01-02 15:04:05"), last.Format("2006-01-02 15:04:05"),
					last.Sub(first).Round(time.Second))
				for _, b := range rt.Blocks() {
					fmt.Fprintf(w, "  frames %d-%d  %s to %s\n", b.First, b.Last,
						b.Start.Format("15:04:05"), b.End.Format("15:04:05"))
				}
			}

			statuses, err := migrations.NewMigrator(s.Context().Store.DB()).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "Schema:")
			for _, st := range statuses {
				mark := " "
				if st.Applied {
					mark = "x"
				}
				fmt.Fprintf(w, "  [%s] %d %s\n", mark, st.Version, st.Description)
			}
			return nil
		},
	}

	return cmd
}
