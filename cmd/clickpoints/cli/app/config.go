package app

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	config "github.com/mwantia/clickpoints/internal/config/app"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management utilities",
		Long: `Manage the ClickPoints configuration.

The process configuration (log, buffer, temporary directory, undo) is read
from config.yaml and CLICKPOINTS_* environment variables. Project options are
stored in each project and listed by 'config options'.`,
	}

	cmd.AddCommand(newConfigGenerateCommand())
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigOptionsCommand())

	return cmd
}

func newConfigGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir, _ := cmd.Flags().GetString("output")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			filename := filepath.Join(outputDir, "config.yaml")
			if _, err := os.Stat(filename); err == nil && !overwrite {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipping %s (file exists, use --overwrite to replace)\n", filename)
				return nil
			}

			data, err := yaml.Marshal(config.GetDefault())
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(filename, data, 0644); err != nil {
				return fmt.Errorf("failed to write config file %s: %w", filename, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", filename)
			return nil
		},
	}

	cmd.Flags().String("output", ".", "output directory for the configuration file")
	cmd.Flags().Bool("overwrite", false, "overwrite an existing file")

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newConfigOptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the project options and their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tKEY\tTYPE\tDEFAULT\tDESCRIPTION")
			for _, def := range options.Defaults() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", def.Category, def.Key, def.Kind, def.Default, def.Help)
			}
			return w.Flush()
		},
	}
}
