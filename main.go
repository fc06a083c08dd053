package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gantryci/gantry/clicommand"
	"github.com/gantryci/gantry/version"
	"github.com/urfave/cli"
)

const appHelpTemplate = `Usage:

  {{.Name}} <command> [options...]

Available commands are:

  {{range .Commands}}{{.Name}}{{with .ShortName}}, {{.}}{{end}}{{ "\t" }}{{.Usage}}
  {{end}}
Use "{{.Name}} <command> --help" for more information about a command.

`

func printVersion(c *cli.Context) {
	fmt.Fprintf(c.App.Writer, "%s version %s\n", c.App.Name, version.FullVersion())
}

func main() {
	cli.AppHelpTemplate = appHelpTemplate
	cli.VersionPrinter = printVersion

	app := cli.NewApp()
	app.Name = "gantry"
	app.Version = version.Version()
	app.Usage = "A local-first CI pipeline runner"
	app.Commands = []cli.Command{
		clicommand.RunCommand,
		clicommand.ValidateCommand,
		clicommand.HistoryCommand,
		clicommand.CacheCommand,
	}
	app.CommandNotFound = func(c *cli.Context, command string) {
		fmt.Fprintf(c.App.Writer, "%s: %q is not a command. See '%s --help'\n", c.App.Name, command, c.App.Name)
		os.Exit(1)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", app.Name, err)

		// Failed builds report their state through the exit code.
		var exitErr *clicommand.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code())
		}
		os.Exit(1)
	}
}
