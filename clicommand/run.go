package clicommand

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gantryci/gantry/buildapi"
	"github.com/gantryci/gantry/env"
	"github.com/gantryci/gantry/internal/build"
	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/history"
	"github.com/gantryci/gantry/internal/osutil"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/logger"
	"github.com/gantryci/gantry/metrics"
	"github.com/gantryci/gantry/process"
	"github.com/urfave/cli"
)

const runDescription = `Usage:

    gantry run [options...] [file]

Description:

Runs the build described by a pipeline descriptor (.gantry.yml by default):
evaluates the branch trigger filter, expands the env matrix into jobs, runs
each job's install and script phases in a subprocess shell, and aggregates
the job results into a build result, honouring the allow-failures list.

The exit code reports the build state: 0 when the build passed or the branch
filter skipped it, 1 when it failed, and 2 when a job errored before its
script phase.

Example:

    $ gantry run

    # Build a different descriptor on an explicit branch, four jobs at a time
    $ gantry run --branch master --concurrency 4 ci/pipeline.yml`

type RunConfig struct {
	GlobalConfig

	File string `cli:"arg:0" label:"descriptor path"`

	Branch        string `cli:"branch"`
	Slug          string `cli:"slug"`
	Repository    string `cli:"repository"`
	BuildPath     string `cli:"build-path" normalize:"filepath"`
	CleanCheckout bool   `cli:"clean-checkout"`
	Concurrency   int    `cli:"concurrency"`

	NoCache      bool   `cli:"no-cache"`
	CachePath    string `cli:"cache-path" normalize:"filepath"`
	ArtifactPath string `cli:"artifact-path" normalize:"filepath"`
	NoHistory    bool   `cli:"no-history"`
	HistoryPath  string `cli:"history-path" normalize:"filepath"`

	RunnerName               string   `cli:"runner-name"`
	Timestamps               bool     `cli:"timestamps"`
	NoPTY                    bool     `cli:"no-pty"`
	CancelSignal             string   `cli:"cancel-signal"`
	SignalGracePeriodSeconds int      `cli:"signal-grace-period-seconds"`
	DisableWarningsFor       []string `cli:"disable-warnings-for" normalize:"list"`

	BuildAPISocket string `cli:"build-api-socket" normalize:"filepath"`

	MetricsDatadog     bool   `cli:"metrics-datadog"`
	MetricsDatadogHost string `cli:"metrics-datadog-host"`
}

var RunCommand = cli.Command{
	Name:        "run",
	Usage:       "Run the build described by a pipeline descriptor",
	Description: runDescription,
	Flags: append(globalFlags(),
		cli.StringFlag{
			Name:   "branch",
			Usage:  "The branch being built. Defaults to the checked-out git branch",
			EnvVar: "GANTRY_BRANCH",
		},
		cli.StringFlag{
			Name:   "slug",
			Usage:  "Identifies the pipeline in caches, history and logs. Defaults to the working directory name",
			EnvVar: "GANTRY_SLUG",
		},
		cli.StringFlag{
			Name:   "repository",
			Usage:  "A git repository to check out for each job. When unset, jobs run in the working directory",
			EnvVar: "GANTRY_REPOSITORY",
		},
		cli.StringFlag{
			Name:   "build-path",
			Value:  "~/.gantry/builds",
			Usage:  "Where job checkouts live when --repository is set",
			EnvVar: "GANTRY_BUILD_PATH",
		},
		cli.BoolFlag{
			Name:   "clean-checkout",
			Usage:  "Remove any existing checkout before cloning",
			EnvVar: "GANTRY_CLEAN_CHECKOUT",
		},
		cli.IntFlag{
			Name:   "concurrency",
			Value:  1,
			Usage:  "How many jobs may run at once",
			EnvVar: "GANTRY_CONCURRENCY",
		},
		cli.BoolFlag{
			Name:   "no-cache",
			Usage:  "Skip restoring and saving the descriptor's cache paths",
			EnvVar: "GANTRY_NO_CACHE",
		},
		cli.StringFlag{
			Name:   "cache-path",
			Value:  "~/.gantry/cache",
			Usage:  "Where cache archives are stored",
			EnvVar: "GANTRY_CACHE_PATH",
		},
		cli.StringFlag{
			Name:   "artifact-path",
			Usage:  "Where artifact globs are collected to. Empty disables collection",
			EnvVar: "GANTRY_ARTIFACT_PATH",
		},
		cli.BoolFlag{
			Name:   "no-history",
			Usage:  "Don't record the build in the local history store",
			EnvVar: "GANTRY_NO_HISTORY",
		},
		cli.StringFlag{
			Name:   "history-path",
			Value:  "~/.gantry/history",
			Usage:  "Where the build history store lives",
			EnvVar: "GANTRY_HISTORY_PATH",
		},
		cli.StringFlag{
			Name:   "runner-name",
			Usage:  "Name of this runner. Defaults to gantry plus a generated name",
			EnvVar: "GANTRY_RUNNER_NAME",
		},
		cli.BoolFlag{
			Name:   "timestamps",
			Usage:  "Prepend timestamps to each line of job output",
			EnvVar: "GANTRY_TIMESTAMPS",
		},
		cli.BoolFlag{
			Name:   "no-pty",
			Usage:  "Run job phases without a PTY",
			EnvVar: "GANTRY_NO_PTY",
		},
		cli.StringFlag{
			Name:   "cancel-signal",
			Value:  "SIGTERM",
			Usage:  "The signal jobs receive when the build is cancelled",
			EnvVar: "GANTRY_CANCEL_SIGNAL",
		},
		cli.IntFlag{
			Name:   "signal-grace-period-seconds",
			Value:  9,
			Usage:  "How long jobs have after the cancel signal before they are killed",
			EnvVar: "GANTRY_SIGNAL_GRACE_PERIOD_SECONDS",
		},
		cli.StringSliceFlag{
			Name:   "disable-warnings-for",
			Value:  &cli.StringSlice{},
			Usage:  "A list of warning IDs to disable",
			EnvVar: "GANTRY_DISABLE_WARNINGS_FOR",
		},
		cli.StringFlag{
			Name:   "build-api-socket",
			Usage:  "Serve the build API on this Unix socket while the build runs",
			EnvVar: "GANTRY_BUILD_API_SOCKET",
		},
		cli.BoolFlag{
			Name:   "metrics-datadog",
			Usage:  "Send build and job metrics to a DogStatsD agent",
			EnvVar: "GANTRY_METRICS_DATADOG",
		},
		cli.StringFlag{
			Name:   "metrics-datadog-host",
			Value:  "127.0.0.1:8125",
			Usage:  "The DogStatsD instance to send metrics to",
			EnvVar: "GANTRY_METRICS_DATADOG_HOST",
		},
	),
	Action: actionFunc(runBuild),
}

func runBuild(ctx context.Context, cfg RunConfig, l logger.Logger) error {
	file := cfg.File
	if file == "" {
		file = pipeline.DefaultFilename
	}

	p, err := pipeline.ParseFile(file)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}

	for _, w := range p.Warnings() {
		l.Warn("%s", w)
	}

	if err := p.Interpolate(env.FromSlice(os.Environ())); err != nil {
		return fmt.Errorf("interpolating %s: %w", file, err)
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline %s: %w", file, err)
	}

	branch := cfg.Branch
	if branch == "" {
		if branch, err = gitBranch(ctx); err != nil {
			return fmt.Errorf("resolving the current branch: %w (set one with --branch)", err)
		}
		l.Debug("Resolved branch %q from the git checkout", branch)
	}

	slug := cfg.Slug
	if slug == "" {
		slug = defaultSlug(cfg.Repository)
	}

	cancelSignal, err := process.ParseSignal(cfg.CancelSignal)
	if err != nil {
		return fmt.Errorf("parsing cancel-signal: %w", err)
	}

	conf := build.RunnerConfig{
		Pipeline:          p,
		Slug:              slug,
		Branch:            branch,
		Repository:        cfg.Repository,
		BuildPath:         cfg.BuildPath,
		CleanCheckout:     cfg.CleanCheckout,
		ArtifactPath:      cfg.ArtifactPath,
		Concurrency:       cfg.Concurrency,
		RunnerName:        cfg.RunnerName,
		Timestamps:        cfg.Timestamps,
		Debug:             cfg.Debug,
		RunInPTY:          !cfg.NoPTY,
		CancelSignal:      cancelSignal,
		SignalGracePeriod: time.Duration(cfg.SignalGracePeriodSeconds) * time.Second,
		DisabledWarnings:  cfg.DisableWarningsFor,
	}

	if !cfg.NoCache && len(p.Cache.Paths) > 0 {
		store, err := cache.New(l, cache.Config{
			Dir:    cfg.CachePath,
			Slug:   slug,
			Branch: branch,
		})
		if err != nil {
			return fmt.Errorf("opening cache store: %w", err)
		}
		conf.CacheStore = store
	}

	if !cfg.NoHistory {
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				l.Warn("Closing history store: %v", err)
			}
		}()
		conf.History = store
	}

	if cfg.MetricsDatadog {
		collector := metrics.NewCollector(l, metrics.CollectorConfig{
			Datadog:     true,
			DatadogHost: cfg.MetricsDatadogHost,
		})
		if err := collector.Start(); err != nil {
			return fmt.Errorf("starting metrics collector: %w", err)
		}
		defer func() {
			if err := collector.Stop(); err != nil {
				l.Warn("Stopping metrics collector: %v", err)
			}
		}()
		conf.Metrics = collector.Scope(metrics.Tags{"slug": slug, "branch": branch})
	}

	runner, err := build.NewRunner(l, conf)
	if err != nil {
		return err
	}

	if cfg.BuildAPISocket != "" {
		apiServer, token, err := buildapi.NewServer(runner,
			buildapi.WithSocketPath(cfg.BuildAPISocket),
			buildapi.WithLogger(l, cfg.Debug),
		)
		if err != nil {
			return fmt.Errorf("creating build API server: %w", err)
		}
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("starting build API server: %w", err)
		}
		l.Debug("Build API token: %s", token)
		defer func() {
			if err := apiServer.Stop(); err != nil {
				l.Warn("Stopping build API server: %v", err)
			}
		}()
	}

	// Cancel the build on SIGINT/SIGTERM. The jobs get the configured cancel
	// signal and the grace period before being killed.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		sig, open := <-signals
		if !open {
			return
		}
		l.Warn("Received %v, cancelling the build", sig)
		if err := runner.Cancel(); err != nil {
			l.Warn("Cancelling the build: %v", err)
		}
	}()

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if code := result.ExitCode(); code != 0 {
		return NewExitError(code, fmt.Errorf("build %s", result.State))
	}
	return nil
}

// gitBranch asks git for the current branch name.
func gitBranch(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --abbrev-ref HEAD: %w", err)
	}
	branch := strings.TrimSpace(string(out))
	if branch == "" {
		return "", fmt.Errorf("git rev-parse --abbrev-ref HEAD returned nothing")
	}
	return branch, nil
}

// defaultSlug derives a pipeline slug from the repository URL or, when no
// repository is configured, the working directory name.
func defaultSlug(repository string) string {
	if repository != "" {
		base := filepath.Base(strings.TrimSuffix(repository, "/"))
		return strings.TrimSuffix(base, ".git")
	}
	wd, err := os.Getwd()
	if err != nil {
		return "build"
	}
	if home, err := osutil.UserHomeDir(); err == nil && wd == home {
		return "build"
	}
	return filepath.Base(wd)
}
