// Package job runs a single CI job as a sequence of phases: prepare the
// working directory, restore caches, run the install and script command
// lists, save caches, run the after phases, and collect artifacts.
package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gantryci/gantry/env"
	"github.com/gantryci/gantry/internal/shell"
	"github.com/gantryci/gantry/metrics"
)

// Executor runs one job to completion.
type Executor struct {
	ExecutorConfig

	shell *shell.Shell

	// Generated phase scripts, removed in tearDown
	cleanupFiles []string

	// A channel to track cancellation
	cancelMu  sync.Mutex
	cancelCh  chan struct{}
	cancelled bool
}

// New returns a new executor instance
func New(conf ExecutorConfig) *Executor {
	return &Executor{
		ExecutorConfig: conf,
		cancelCh:       make(chan struct{}),
	}
}

// Run the job and report how it went.
func (e *Executor) Run(ctx context.Context) (res Result) {
	res = Result{State: StatePassed, StartedAt: time.Now()}
	defer func() { res.FinishedAt = time.Now() }()

	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}

	// Create a context to use for cancelation of the job
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Check if not nil to allow for tests to overwrite shell.
	if e.shell == nil {
		sh, err := shell.New(
			shell.WithDebug(e.Debug),
			shell.WithEnv(env.FromSlice(os.Environ())),
			shell.WithLogger(shell.NewWriterLogger(e.Stdout, true, e.DisabledWarnings)),
			shell.WithInterruptSignal(e.CancelSignal),
			shell.WithPTY(e.RunInPTY),
			shell.WithStdout(e.Stdout),
			shell.WithSignalGracePeriod(e.SignalGracePeriod),
		)
		if err != nil {
			fmt.Fprintf(e.Stdout, "Error creating shell: %v\n", err)
			res.State = StateErrored
			res.ExitStatus = 1
			return res
		}
		e.shell = sh
	}

	go func() {
		select {
		case <-e.cancelCh:
			e.shell.Commentf("Received cancellation signal, interrupting")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Once ctx is cancelled, some tasks still run during the signal grace
	// period. These use graceCtx.
	graceCtx := withGracePeriod(ctx, e.SignalGracePeriod)

	defer e.tearDown()

	if err := e.setUp(); err != nil {
		e.shell.Errorf("Error setting up job: %v", err)
		res.State = StateErrored
		res.ExitStatus = shell.ExitCode(err)
		return res
	}

	if e.Repository != "" {
		if err := e.checkoutPhase(ctx); err != nil {
			e.shell.Errorf("Error checking out repository: %v", err)
			res.State = StateErrored
			res.ExitStatus = shell.ExitCode(err)
			return res
		}
	}

	e.cacheRestorePhase(ctx)

	// A nonzero exit before the script phase means the job never got as far
	// as testing anything, which is an error rather than a failure.
	for _, p := range []struct {
		name     string
		commands []string
	}{
		{"before_install", e.BeforeInstall},
		{"install", e.Install},
		{"before_script", e.BeforeScript},
	} {
		if err := e.runPhase(ctx, p.name, p.commands); err != nil {
			e.shell.Errorf("The %s phase errored: %v", p.name, err)
			res.State = StateErrored
			res.ExitStatus = shell.ExitCode(err)
			return res
		}
	}

	scriptErr := e.runPhase(ctx, "script", e.Script)
	if scriptErr != nil {
		res.State = StateFailed
		res.ExitStatus = shell.ExitCode(scriptErr)
		e.shell.Errorf("The script phase failed with exit status %d", res.ExitStatus)
	}

	// The after phases can inspect how the script went.
	if scriptErr == nil {
		e.shell.Env.Set("GANTRY_TEST_RESULT", "0")
	} else {
		e.shell.Env.Set("GANTRY_TEST_RESULT", "1")
	}

	// Dependencies installed fine even when the tests didn't pass, so the
	// cache is worth keeping either way.
	e.cacheSavePhase(graceCtx)

	if scriptErr == nil {
		e.runOptionalPhase(ctx, "after_success", e.AfterSuccess)
	} else {
		e.runOptionalPhase(ctx, "after_failure", e.AfterFailure)
	}
	e.runOptionalPhase(ctx, "after_script", e.AfterScript)

	// The artifacts might be relevant for debugging job failures, so this
	// can run during the grace period.
	if err := e.artifactPhase(graceCtx); err != nil {
		e.shell.Errorf("Error collecting artifacts: %v", err)
		if res.State == StatePassed {
			res.State = StateErrored
			res.ExitStatus = shell.ExitCode(err)
		}
	}

	return res
}

// Cancel interrupts the job. The running phase is signalled and, after the
// signal grace period, killed.
func (e *Executor) Cancel() error {
	// Closing e.cancelCh broadcasts to any goroutine receiving that the job
	// is being cancelled/stopped.
	// Double-closing a channel is a panic, so guard it with a bool and a mutex.
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelled {
		return errors.New("already cancelled")
	}
	e.cancelled = true
	close(e.cancelCh)
	return nil
}

// setUp changes to the job's working directory and exports the build
// environment.
func (e *Executor) setUp() error {
	if e.Repository == "" && e.Dir != "" {
		if err := e.shell.Chdir(e.Dir); err != nil {
			return err
		}
	}

	e.shell.Env.Set("CI", "true")
	e.shell.Env.Set("GANTRY", "true")
	e.shell.Env.Set("GANTRY_BUILD_ID", e.BuildID)
	e.shell.Env.Set("GANTRY_JOB_ID", e.JobID)
	e.shell.Env.Set("GANTRY_JOB_NAME", e.JobName)
	e.shell.Env.Set("GANTRY_BRANCH", e.Branch)
	e.shell.Env.Set("GANTRY_RUNNER", e.RunnerName)

	buildDir := e.Dir
	if buildDir == "" {
		buildDir = e.shell.Getwd()
	}
	e.shell.Env.Set("GANTRY_BUILD_DIR", buildDir)

	for _, kv := range e.JobEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%q is not a KEY=value assignment", kv)
		}
		e.shell.Env.Set(k, v)
	}

	// Disable any interactive Git/SSH prompting
	e.shell.Env.Set("GIT_TERMINAL_PROMPT", "0")

	if e.Debug {
		e.shell.Headerf("Build environment variables")
		for _, envar := range e.shell.Env.ToSlice() {
			if strings.HasPrefix(envar, "GANTRY") || strings.HasPrefix(envar, "CI") || strings.HasPrefix(envar, "PATH") {
				e.shell.Printf("%s", strings.ReplaceAll(envar, "\n", "\\n"))
			}
		}
	}

	return nil
}

func (e *Executor) tearDown() {
	for _, f := range e.cleanupFiles {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			e.shell.Warningf("Failed to remove %s: %v", f, err)
		}
	}
}

// runPhase renders the phase's commands into a generated script and runs it
// in a single subprocess. Phases with no commands are skipped.
func (e *Executor) runPhase(ctx context.Context, phase string, commands []string) error {
	if len(commands) == 0 {
		return nil
	}

	if phase == "script" {
		e.shell.Headerf("Running build script")
	} else {
		e.shell.Headerf("Running %s commands", strings.ReplaceAll(phase, "_", " "))
	}

	start := time.Now()
	defer func() {
		if e.Metrics != nil {
			e.Metrics.Timing("job.phase.duration", time.Since(start), metrics.Tags{"phase": phase})
		}
	}()

	script, err := writeScriptFile(phase, commands)
	if err != nil {
		return fmt.Errorf("writing %s script: %w", phase, err)
	}
	e.cleanupFiles = append(e.cleanupFiles, script)

	if e.Debug {
		contents, err := os.ReadFile(script)
		if err != nil {
			return err
		}
		e.shell.Commentf("Wrote %s script %s\n%s", phase, script, contents)
	}

	// Bash and CMD.EXE phrase a missing command differently.
	const notFoundPosix = "command not found"
	const notFoundBatch = "is not recognized as an internal or external command"
	smelt := map[string]bool{notFoundPosix: false, notFoundBatch: false}

	err = e.shell.RunScript(ctx, script, nil, shell.WithStringSearch(smelt))
	if err != nil && (smelt[notFoundPosix] || smelt[notFoundBatch]) {
		e.shell.OptionalWarningf("missing-command",
			"A %s command wasn't found. Double check that it is installed and in PATH",
			strings.ReplaceAll(phase, "_", " "))
	}
	return err
}

// runOptionalPhase runs a phase whose outcome never changes the job result.
func (e *Executor) runOptionalPhase(ctx context.Context, phase string, commands []string) {
	if err := e.runPhase(ctx, phase, commands); err != nil {
		e.shell.Warningf("The %s commands failed: %v", phase, err)
	}
}
