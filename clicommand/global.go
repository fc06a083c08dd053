// Package clicommand holds the definitions of gantry's CLI commands.
package clicommand

import (
	"context"
	"fmt"
	"os"

	"github.com/gantryci/gantry/cliconfig"
	"github.com/gantryci/gantry/logger"
	"github.com/oleiade/reflections"
	"github.com/urfave/cli"
)

var (
	DebugFlag = cli.BoolFlag{
		Name:   "debug",
		Usage:  "Enable debug mode",
		EnvVar: "GANTRY_DEBUG",
	}

	LogLevelFlag = cli.StringFlag{
		Name:   "log-level",
		Value:  "notice",
		Usage:  "Set the log level, either debug, info, notice, warn or error",
		EnvVar: "GANTRY_LOG_LEVEL",
	}

	NoColorFlag = cli.BoolFlag{
		Name:   "no-color",
		Usage:  "Don't show colors in logging",
		EnvVar: "GANTRY_NO_COLOR",
	}

	LogFormatFlag = cli.StringFlag{
		Name:   "log-format",
		Value:  "text",
		Usage:  "The format to use for the logger output, either text or json",
		EnvVar: "GANTRY_LOG_FORMAT",
	}

	ConfigFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "Path to a configuration file",
		EnvVar: "GANTRY_CONFIG",
	}
)

// GlobalConfig is the config fields every command carries, matching
// globalFlags.
type GlobalConfig struct {
	Debug     bool   `cli:"debug"`
	LogLevel  string `cli:"log-level"`
	LogFormat string `cli:"log-format"`
	NoColor   bool   `cli:"no-color"`
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		DebugFlag,
		LogLevelFlag,
		LogFormatFlag,
		NoColorFlag,
	}
}

// DefaultConfigFilePaths returns the locations to search for a config file
// when --config isn't passed.
func DefaultConfigFilePaths() []string {
	return []string{
		"gantry.cfg",
		"$HOME/.gantry/gantry.cfg",
	}
}

// CreateLogger builds a logger from the config's global fields. The config
// may be any struct with GlobalConfig embedded.
func CreateLogger(cfg any) logger.Logger {
	var printer logger.Printer

	format, _ := reflections.GetField(cfg, "LogFormat")
	switch format {
	case "json":
		printer = logger.NewJSONPrinter(os.Stderr)
	default:
		p := logger.NewTextPrinter(os.Stderr)
		if noColor, err := reflections.GetField(cfg, "NoColor"); err == nil && noColor == true {
			p.Colors = false
		}
		printer = p
	}

	l := logger.NewConsoleLogger(printer, os.Exit)

	if levelStr, err := reflections.GetField(cfg, "LogLevel"); err == nil {
		if s, ok := levelStr.(string); ok && s != "" {
			level, err := logger.LevelFromString(s)
			if err != nil {
				l.Fatal("%v", err)
			}
			l.SetLevel(level)
		}
	}

	// --debug wins over --log-level.
	if debug, err := reflections.GetField(cfg, "Debug"); err == nil && debug == true {
		l.SetLevel(logger.DEBUG)
	}

	return l
}

// setupLoggerAndConfig loads the given command config struct from the cli
// context and builds the logger the command should use. Config load warnings
// are logged once the logger exists.
func setupLoggerAndConfig[T any](c *cli.Context) (cfg T, l logger.Logger, err error) {
	loader := cliconfig.Loader{
		CLI:                    c,
		Config:                 &cfg,
		DefaultConfigFilePaths: DefaultConfigFilePaths(),
	}

	warnings, err := loader.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("loading config: %w", err)
	}

	l = CreateLogger(&cfg)

	for _, warning := range warnings {
		l.Warn("%s", warning)
	}

	return cfg, l, nil
}

// actionFunc adapts a command body to a urfave/cli action, wiring up the
// config load and logger creation.
func actionFunc[T any](body func(context.Context, T, logger.Logger) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		cfg, l, err := setupLoggerAndConfig[T](c)
		if err != nil {
			return err
		}
		return body(context.Background(), cfg, l)
	}
}
