package clicommand

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/logger"
	"github.com/urfave/cli"
)

const cachePruneDescription = `Usage:

    gantry cache prune [options...]

Description:

Deletes cache archives from the local cache store. By default every archive
is removed; --older-than keeps archives that were saved recently.

Example:

    # Remove everything
    $ gantry cache prune

    # Remove archives not saved in the last two weeks
    $ gantry cache prune --older-than 336h`

type CachePruneConfig struct {
	GlobalConfig

	CachePath string        `cli:"cache-path" normalize:"filepath"`
	OlderThan time.Duration `cli:"older-than"`
}

var CacheCommand = cli.Command{
	Name:  "cache",
	Usage: "Manage the local cache store",
	Subcommands: []cli.Command{
		{
			Name:        "prune",
			Usage:       "Delete cache archives",
			Description: cachePruneDescription,
			Flags: append(globalFlags(),
				cli.StringFlag{
					Name:   "cache-path",
					Value:  "~/.gantry/cache",
					Usage:  "Where cache archives are stored",
					EnvVar: "GANTRY_CACHE_PATH",
				},
				cli.DurationFlag{
					Name:  "older-than",
					Usage: "Only delete archives last saved more than this long ago",
				},
			),
			Action: actionFunc(pruneCache),
		},
	},
}

func pruneCache(ctx context.Context, cfg CachePruneConfig, l logger.Logger) error {
	res, err := cache.Prune(cfg.CachePath, cfg.OlderThan)
	if err != nil {
		return fmt.Errorf("pruning cache: %w", err)
	}

	if res.Removed == 0 {
		l.Info("Nothing to prune")
		return nil
	}

	l.Info("Removed %d archive(s), freeing %s", res.Removed, humanize.Bytes(uint64(res.Reclaimed)))
	return nil
}
