package project

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/clickpoints/internal/session"
	"github.com/spf13/cobra"
)

func NewOpenCommand(overrides Overrides) *cobra.Command {
	var (
		jump   int
		watch  bool
		saveAs string
		noLock bool
	)

	cmd := &cobra.Command{
		Use:   "open [project.cdb] [files...]",
		Short: "Open a project and the given frames",
		Long: `Open a project, add the given files and print a summary.

With --watch the process stays running and adds the files of later
invocations until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, logger, err := loadConfig("clickpoints")
			if err != nil {
				return err
			}

			var lock *session.Lock
			if !noLock {
				l, err := session.AcquireLock(cfg.TmpDir, absolute(args), logger.Named("lock"))
				if err != nil {
					return err
				}
				lock = l
				defer lock.Release()
			}

			s, err := openWith(ctx, cfg, logger, args, overrides)
			if err != nil {
				return err
			}

			if jump >= 0 {
				if _, err := s.JumpTo(ctx, jump); err != nil {
					logger.Error("Unable to load frame %d: %v", jump, err)
				}
			}

			if watch && lock != nil {
				logger.Info("Watching for forwarded files, press Ctrl+C to stop")
				if err := s.Watch(ctx, lock); err != nil {
					logger.Error("Watch stopped: %v", err)
				}
			}

			shutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout(cfg.ShutdownTimeout))
			defer cancelShutdown()

			if saveAs != "" {
				if err := s.SaveAs(shutdown, saveAs); err != nil {
					return err
				}
			}

			sum, err := s.Summary(shutdown)
			if err != nil {
				return err
			}
			if !sum.Temporary {
				if err := s.Save(shutdown); err != nil {
					return err
				}
			}
			printSummary(cmd.OutOrStdout(), sum)

			return closeSession(shutdown, s, logger)
		},
	}

	cmd.Flags().IntVar(&jump, "jump", 0, "sort index of the frame to load, -1 to load none")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and add files forwarded by later invocations")
	cmd.Flags().StringVar(&saveAs, "save-as", "", "save the project to this file")
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "do not forward to or register as the running instance")

	return cmd
}

func shutdownTimeout(value string) time.Duration {
	timeout, err := time.ParseDuration(value)
	if err != nil {
		return 10 * time.Second
	}
	return timeout
}

func printSummary(w io.Writer, sum session.Summary) {
	project := sum.Project
	if sum.Temporary {
		project += " (temporary)"
	}
	fmt.Fprintf(w, "Project: %s\n", project)
	fmt.Fprintf(w, "Frames:  %s\n", humanize.Comma(int64(sum.Frames)))
	if sum.Current >= 0 {
		fmt.Fprintf(w, "Current: %d\n", sum.Current)
	}

	tables := make([]string, 0, len(sum.Counts))
	for table := range sum.Counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Fprintf(w, "  %-16s %s\n", table, humanize.Comma(sum.Counts[table]))
	}
}
