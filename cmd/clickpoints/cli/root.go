package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand creates the root command. run is executed when no
// subcommand is given.
func NewRootCommand(info VersionInfo, run *cobra.Command) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "clickpoints [project.cdb] [files...]",
		Short: "ClickPoints image annotation",
		Long: `Open image sequences, videos and annotation projects.

Frames can be given as files, directories, glob patterns and frame lists.
Project options are overridden with -key=value, e.g. -fps=10.`,
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(path)
		},
	}

	cmd.PersistentFlags().StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().Bool("no-color", false, "Disables colored command output")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.no_color", cmd.PersistentFlags().Lookup("no-color"))

	if run != nil {
		// arguments not naming a subcommand are files to open
		cmd.Args = cobra.ArbitraryArgs
		cmd.RunE = run.RunE
		cmd.Flags().AddFlagSet(run.Flags())
	}

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	return cmd
}
