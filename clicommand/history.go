package clicommand

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gantryci/gantry/internal/history"
	"github.com/gantryci/gantry/logger"
	"github.com/urfave/cli"
)

const historyDescription = `Usage:

    gantry history [options...]

Description:

Lists builds recorded in the local history store, newest first.

Example:

    $ gantry history
    $ gantry history --branch master --state failed --limit 5`

type HistoryConfig struct {
	GlobalConfig

	HistoryPath string `cli:"history-path" normalize:"filepath"`
	Slug        string `cli:"slug"`
	Branch      string `cli:"branch"`
	State       string `cli:"state"`
	Limit       int    `cli:"limit"`
	ShowJobs    bool   `cli:"jobs"`
}

var HistoryCommand = cli.Command{
	Name:        "history",
	Usage:       "List recorded builds",
	Description: historyDescription,
	Flags: append(globalFlags(),
		cli.StringFlag{
			Name:   "history-path",
			Value:  "~/.gantry/history",
			Usage:  "Where the build history store lives",
			EnvVar: "GANTRY_HISTORY_PATH",
		},
		cli.StringFlag{
			Name:   "slug",
			Usage:  "Only show builds of this pipeline",
			EnvVar: "GANTRY_SLUG",
		},
		cli.StringFlag{
			Name:   "branch",
			Usage:  "Only show builds of this branch",
			EnvVar: "GANTRY_BRANCH",
		},
		cli.StringFlag{
			Name:  "state",
			Usage: "Only show builds in this state (passed, failed, errored or skipped)",
		},
		cli.IntFlag{
			Name:  "limit",
			Value: 20,
			Usage: "How many builds to show",
		},
		cli.BoolFlag{
			Name:  "jobs",
			Usage: "Also list each build's jobs",
		},
	),
	Action: actionFunc(listHistory),
}

func listHistory(ctx context.Context, cfg HistoryConfig, l logger.Logger) error {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Warn("Closing history store: %v", err)
		}
	}()

	builds, err := store.List(ctx, history.Query{
		Slug:   cfg.Slug,
		Branch: cfg.Branch,
		State:  cfg.State,
		Limit:  cfg.Limit,
	})
	if err != nil {
		return err
	}

	if len(builds) == 0 {
		l.Info("No recorded builds")
		return nil
	}

	return writeHistory(os.Stdout, builds, cfg.ShowJobs)
}

func writeHistory(w io.Writer, builds []history.Build, showJobs bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "PIPELINE\tBUILD\tBRANCH\tSTATE\tDURATION\tWHEN")
	for _, b := range builds {
		fmt.Fprintf(tw, "%s\t#%d\t%s\t%s\t%s\t%s\n",
			b.Slug, b.Number, b.Branch, b.State,
			b.Duration().Round(time.Millisecond),
			humanize.Time(b.StartedAt),
		)
		if !showJobs {
			continue
		}
		for _, j := range b.Jobs {
			fmt.Fprintf(tw, "  %s\t\t\t%s\t%s\texit %d\n",
				j.Name, j.State, j.Duration().Round(time.Millisecond), j.ExitStatus)
		}
	}

	return tw.Flush()
}
