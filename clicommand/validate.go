package clicommand

import (
	"context"
	"fmt"
	"os"

	"github.com/gantryci/gantry/env"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/logger"
	"github.com/gantryci/gantry/stdin"
	"github.com/urfave/cli"
)

const validateDescription = `Usage:

    gantry validate [options...] [file]

Description:

Parses and validates a pipeline descriptor without running anything. If no
file is given, the command reads .gantry.yml, or standard input when a
descriptor is piped in.

Exits 0 when the descriptor is valid. Unknown top-level keys are reported as
warnings, not errors.

Example:

    $ gantry validate
    $ gantry validate ci/pipeline.yml
    $ ./generate-pipeline | gantry validate`

type ValidateConfig struct {
	GlobalConfig

	File            string `cli:"arg:0" label:"descriptor path"`
	NoInterpolation bool   `cli:"no-interpolation"`
}

var ValidateCommand = cli.Command{
	Name:        "validate",
	Usage:       "Parse and validate a pipeline descriptor",
	Description: validateDescription,
	Flags: append(globalFlags(),
		cli.BoolFlag{
			Name:   "no-interpolation",
			Usage:  "Skip ${VAR} interpolation before validating",
			EnvVar: "GANTRY_NO_INTERPOLATION",
		},
	),
	Action: actionFunc(validatePipeline),
}

func validatePipeline(ctx context.Context, cfg ValidateConfig, l logger.Logger) error {
	var (
		p    *pipeline.Pipeline
		name string
		err  error
	)

	switch {
	case cfg.File != "":
		name = cfg.File
		p, err = pipeline.ParseFile(cfg.File)

	case stdin.IsReadable():
		name = "(stdin)"
		l.Debug("Reading pipeline descriptor from stdin")
		p, err = pipeline.Parse(os.Stdin)

	default:
		name = pipeline.DefaultFilename
		p, err = pipeline.ParseFile(pipeline.DefaultFilename)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}

	for _, w := range p.Warnings() {
		l.Warn("%s", w)
	}

	if !cfg.NoInterpolation {
		if err := p.Interpolate(env.FromSlice(os.Environ())); err != nil {
			return fmt.Errorf("interpolating %s: %w", name, err)
		}
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline %s: %w", name, err)
	}

	jobs, err := p.Jobs()
	if err != nil {
		return fmt.Errorf("expanding the env matrix of %s: %w", name, err)
	}

	l.Info("%s is valid (%d jobs)", name, len(jobs))
	for _, j := range jobs {
		if j.AllowFailure {
			l.Info("  #%d %s (failure allowed)", j.Index, j.Name)
		} else {
			l.Info("  #%d %s", j.Index, j.Name)
		}
	}

	return nil
}
