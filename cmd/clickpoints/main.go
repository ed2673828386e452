package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mwantia/clickpoints/cmd/clickpoints/cli"
	"github.com/mwantia/clickpoints/cmd/clickpoints/cli/app"
	"github.com/mwantia/clickpoints/cmd/clickpoints/cli/project"
	"github.com/mwantia/clickpoints/internal/session"
	"github.com/mwantia/clickpoints/pkg/options"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	// -key=value option overrides are not cobra flags
	overrides, args := options.ParseArgs(os.Args[1:])
	if args == nil {
		args = []string{}
	}

	info := cli.VersionInfo{
		Version: version,
		Commit:  commit,
	}
	root := cli.NewRootCommand(info, project.NewOpenCommand(overrides))
	root.SetArgs(args)

	root.AddCommand(cli.NewVersionCommand(info))

	root.AddCommand(project.NewOpenCommand(overrides))
	root.AddCommand(project.NewExportCommand(overrides))
	root.AddCommand(project.NewInfoCommand(overrides))
	root.AddCommand(project.NewCheckCommand(overrides))
	root.AddCommand(app.NewConfigCommand())

	if err := root.Execute(); err != nil {
		if errors.Is(err, session.ErrAlreadyRunning) {
			os.Exit(-1)
		}
		fmt.Println(err)
		os.Exit(1)
	}
}
