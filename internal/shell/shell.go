// Package shell provides a cross-platform virtual shell abstraction for
// executing commands.
//
// It is intended for internal use by gantry only.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/gantryci/gantry/env"
	"github.com/gantryci/gantry/internal/replacer"
	"github.com/gantryci/gantry/logger"
	"github.com/gantryci/gantry/process"
	"github.com/gofrs/flock"
)

const lockRetryDuration = time.Second

// ErrShellNotStarted is returned when the shell has not started a process.
var ErrShellNotStarted = errors.New("shell not started")

// Shell represents a virtual shell, handles logging, executing commands and
// provides hooks for capturing output and exit conditions.
//
// Provides a lowest-common denominator abstraction over macOS, Linux and
// Windows.
type Shell struct {
	Logger

	// The running environment for the shell.
	Env *env.Environment

	// If set, the command arg vectors are appended to the slice as they are
	// executed (or would be executed, as in dry-run mode).
	commandLog *[][]string

	// Whether to run the shell in debug mode.
	debug bool

	// Whether to actually execute commands.
	dryRun bool

	// The signal to use to interrupt the process.
	interruptSignal process.Signal

	// The currently-running or last-run process.
	proc atomic.Pointer[process.Process]

	// Whether commands run under a PTY.
	pty bool

	// Amount of time to wait between sending the interrupt signal and SIGKILL.
	signalGracePeriod time.Duration

	// stdin is an optional input stream for the next command. It remains
	// unexported on the assumption that it's not useful except via
	// CloneWithStdin to get a clone prepared for a single command that needs
	// input.
	stdin io.Reader

	// Where stdout (and usually stderr) of the process is written, like a
	// real shell that displays both in the same stream. Defaults to
	// [os.Stdout].
	Writer io.Writer

	// Current working directory that shell commands get executed in.
	wd string
}

type NewShellOpt = func(*Shell)

func WithCommandLog(log *[][]string) NewShellOpt { return func(s *Shell) { s.commandLog = log } }
func WithDebug(d bool) NewShellOpt               { return func(s *Shell) { s.debug = d } }
func WithDryRun(d bool) NewShellOpt              { return func(s *Shell) { s.dryRun = d } }
func WithEnv(e *env.Environment) NewShellOpt     { return func(s *Shell) { s.Env = e } }
func WithLogger(l Logger) NewShellOpt            { return func(s *Shell) { s.Logger = l } }
func WithPTY(pty bool) NewShellOpt               { return func(s *Shell) { s.pty = pty } }
func WithStdout(w io.Writer) NewShellOpt         { return func(s *Shell) { s.Writer = w } }
func WithWD(wd string) NewShellOpt               { return func(s *Shell) { s.wd = wd } }

func WithInterruptSignal(sig process.Signal) NewShellOpt {
	return func(s *Shell) { s.interruptSignal = sig }
}

func WithSignalGracePeriod(d time.Duration) NewShellOpt {
	return func(s *Shell) { s.signalGracePeriod = d }
}

// New returns a new Shell. The default stdout is [os.Stdout], the default
// logger writes to [os.Stderr], the initial working directory is the result
// of calling [os.Getwd], and the default environment variable set is read
// from [os.Environ].
func New(opts ...NewShellOpt) (*Shell, error) {
	// Start with an empty shell.
	shell := &Shell{}

	// Apply all the options to it.
	for _, opt := range opts {
		opt(shell)
	}

	// Set defaults for the important options, if not provided.
	if shell.Logger == nil {
		shell.Logger = &WriterLogger{Writer: os.Stderr, Ansi: true}
	}
	if shell.Env == nil {
		shell.Env = env.FromSlice(os.Environ())
	}
	if shell.Writer == nil {
		shell.Writer = os.Stdout
	}
	if shell.wd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to find current working directory: %w", err)
		}
		shell.wd = wd
	}

	return shell, nil
}

// CloneWithStdin returns a copy of the Shell with the provided [io.Reader]
// set as the Stdin for the next command. The copy should be discarded after
// one command. For example:
//
//	sh.CloneWithStdin(strings.NewReader("hello world")).Command("cat").Run(ctx)
func (s *Shell) CloneWithStdin(r io.Reader) *Shell {
	// Can't copy struct like `newsh := *s` because atomics can't be copied.
	return &Shell{
		Logger:            s.Logger,
		Env:               s.Env,
		stdin:             r, // our new stdin
		Writer:            s.Writer,
		wd:                s.wd,
		interruptSignal:   s.interruptSignal,
		signalGracePeriod: s.signalGracePeriod,
	}
}

// Getwd returns the current working directory of the shell.
func (s *Shell) Getwd() string {
	return s.wd
}

// Chdir changes the working directory of the shell.
func (s *Shell) Chdir(path string) error {
	// If the path isn't absolute, prefix it with the current working directory.
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.wd, path)
	}

	s.Promptf("cd %s", shellwords.Quote(path))

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to change working directory: %q does not exist", path)
	}

	s.wd = path
	return nil
}

// AbsolutePath returns the absolute path to an executable based on the PATH
// and PATHEXT of the Shell.
func (s *Shell) AbsolutePath(executable string) (string, error) {
	// Is the path already absolute?
	if path.IsAbs(executable) {
		return executable, nil
	}

	envPath, _ := s.Env.Get("PATH")
	fileExtensions, _ := s.Env.Get("PATHEXT") // For searching .exe, .bat, etc on Windows

	// Use our custom lookPath that takes a specific path
	absolutePath, err := LookPath(executable, envPath, fileExtensions)
	if err != nil {
		return "", err
	}

	// Since the path returned by LookPath is relative to the current working
	// directory, we need to get the absolute version of that.
	return filepath.Abs(absolutePath)
}

// Interrupt interrupts the running process, if there is one.
func (s *Shell) Interrupt() { s.proc.Load().Interrupt() }

// Terminate terminates the running process, if there is one.
func (s *Shell) Terminate() { s.proc.Load().Terminate() }

// WaitStatus returns the WaitStatus of the shell's process.
//
// The shell must have started at least one process.
func (s *Shell) WaitStatus() (process.WaitStatus, error) {
	p := s.proc.Load()
	if p == nil {
		return nil, ErrShellNotStarted
	}
	return p.WaitStatus(), nil
}

// Unlocker implementations are things that can be unlocked, such as a
// cross-process lock. This interface exists for implementation-hiding.
type Unlocker interface {
	Unlock() error
}

// LockFile creates a cross-process file-based lock. To set a timeout on
// attempts to acquire the lock, pass a context with a timeout.
func (s *Shell) LockFile(ctx context.Context, path string) (Unlocker, error) {
	// + "f" to ensure that flocks never share a filename with the resource
	// being locked.
	absolutePathToLock, err := filepath.Abs(path + "f")
	if err != nil {
		return nil, fmt.Errorf("failed to find absolute path to lock %q: %w", path, err)
	}

	lock := flock.New(absolutePathToLock)

retryLoop:
	for {
		// Keep trying the lock until we get it
		gotLock, err := lock.TryLock()
		switch {
		case err != nil:
			s.Commentf("Could not acquire lock on %q (%v)", absolutePathToLock, err)
			return nil, err

		case !gotLock:
			s.Commentf("Could not acquire lock on %q (locked by another process)", absolutePathToLock)

		default:
			break retryLoop
		}

		s.Commentf("Trying again in %v...", lockRetryDuration)
		timer := time.NewTimer(lockRetryDuration)
		defer timer.Stop()

		select {
		case <-timer.C:
			// Ready to retry!

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return lock, nil
}

// Command represents a command that can be run in the shell.
type Command struct {
	shell *Shell
	name  string
	args  []string
}

// Command returns a Command for later running.
func (s *Shell) Command(name string, args ...string) Command {
	return Command{shell: s, name: name, args: args}
}

type runConfig struct {
	showPrompt   bool
	extraEnv     *env.Environment
	stringSearch map[string]bool
}

type RunCommandOpt = func(*runConfig)

// ShowPrompt controls whether the command is echoed to the shell logger
// before it runs. The default for Run is true.
func ShowPrompt(show bool) RunCommandOpt {
	return func(c *runConfig) { c.showPrompt = show }
}

// WithExtraEnv runs the command with additional environment variables set on
// top of the shell's environment.
func WithExtraEnv(environ *env.Environment) RunCommandOpt {
	return func(c *runConfig) { c.extraEnv = environ }
}

// WithStringSearch searches the command output (both stdout and stderr) for
// the keys of found. When the command completes, found[key] is true for each
// key that appeared in the output. Searching does not alter the output.
func WithStringSearch(found map[string]bool) RunCommandOpt {
	return func(c *runConfig) { c.stringSearch = found }
}

// searchWriter wraps w so that found[needle] flips to true for each needle
// that appears in the stream. The output passes through unaltered.
func searchWriter(w io.Writer, found map[string]bool) *replacer.Replacer {
	needles := make([]string, 0, len(found))
	for needle := range found {
		needles = append(needles, needle)
	}
	return replacer.New(w, needles, func(b []byte) []byte {
		found[string(b)] = true
		return b
	})
}

// Run runs the command, writing stdout and stderr to the shell's writer, and
// returns an error if it fails.
func (c Command) Run(ctx context.Context, opts ...RunCommandOpt) error {
	cfg := runConfig{showPrompt: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.showPrompt {
		formatted := process.FormatCommand(c.name, c.args)
		if c.shell.stdin == nil {
			c.shell.Promptf("%s", formatted)
		} else {
			// bash-syntax-compatible indication that input is coming from somewhere
			c.shell.Promptf("%s < /dev/stdin", formatted)
		}
	}

	cmdCfg, err := c.shell.buildCommand(c.name, c.args...)
	if err != nil {
		c.shell.Errorf("Error building command: %v", err)
		return err
	}

	if cfg.extraEnv != nil {
		environ := env.FromSlice(cmdCfg.Env)
		environ.Merge(cfg.extraEnv)
		cmdCfg.Env = environ.ToSlice()
	}

	stdout, stderr := c.shell.Writer, c.shell.Writer

	var search *replacer.Replacer
	if cfg.stringSearch != nil {
		search = searchWriter(c.shell.Writer, cfg.stringSearch)
		stdout, stderr = search, search
	}

	runErr := c.shell.executeCommand(ctx, cmdCfg, stdout, stderr, c.shell.pty)

	if search != nil {
		// Release any held-back bytes now the stream is complete.
		if err := search.Flush(); err != nil && runErr == nil {
			runErr = err
		}
	}

	return runErr
}

// RunAndCaptureStdout runs the command and captures stdout to a string.
// Stderr is discarded. If the shell is in debug mode then the command is
// echoed to the logger first. A PTY is never used when capturing.
func (c Command) RunAndCaptureStdout(ctx context.Context, opts ...RunCommandOpt) (string, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if c.shell.debug {
		c.shell.Promptf("%s", process.FormatCommand(c.name, c.args))
	}

	cmdCfg, err := c.shell.buildCommand(c.name, c.args...)
	if err != nil {
		return "", err
	}

	if cfg.extraEnv != nil {
		environ := env.FromSlice(cmdCfg.Env)
		environ.Merge(cfg.extraEnv)
		cmdCfg.Env = environ.ToSlice()
	}

	var sb strings.Builder
	if err := c.shell.executeCommand(ctx, cmdCfg, &sb, nil, false); err != nil {
		return "", err
	}

	return strings.TrimSpace(sb.String()), nil
}

// RunScript is like Run, but the target is an interpreted script which has
// some extra checks to ensure it gets to the correct interpreter. Extra
// environment vars can also be passed to the script. Both stdout and stderr
// are directed to the shell's writer. Run options that affect output, such
// as [WithStringSearch], apply; ones that affect the prompt do not, since
// RunScript never echoes the command.
func (s *Shell) RunScript(ctx context.Context, path string, extra *env.Environment, opts ...RunCommandOpt) error {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var command string
	var args []string

	// We apply a variety of "feature detection checks" to figure out how we
	// should best run the script.

	isSh := filepath.Ext(path) == "" || filepath.Ext(path) == ".sh"
	isWindows := runtime.GOOS == "windows"
	isPwsh := filepath.Ext(path) == ".ps1"

	switch {
	case isWindows && isSh:
		if s.debug {
			s.Commentf("Attempting to run %s with Bash for Windows", path)
		}
		// Find Bash, either part of Cygwin or MSYS. Must be in the path.
		bashPath, err := s.AbsolutePath("bash.exe")
		if err != nil {
			return fmt.Errorf("error finding bash.exe, needed to run scripts: %w. "+
				"Is Git for Windows installed and correctly in your PATH variable?", err)
		}
		command = bashPath
		args = []string{filepath.ToSlash(path)}

	case isWindows && isPwsh:
		if s.debug {
			s.Commentf("Attempting to run %s with Powershell", path)
		}
		command = "powershell.exe"
		args = []string{"-file", path}

	case !isWindows && isSh:
		// If the script contains a shebang line, it can be run directly, with
		// the shebang line choosing the interpreter. Note that it isn't
		// necessarily a shell script in that case.
		sb, err := shebangLine(path)
		if err == nil && sb != "" {
			command = path
			args = nil
			break
		}

		// Bash was the default, so must remain the default.
		shPath, err := s.AbsolutePath("bash")
		if err != nil {
			// Minimal container images often ship without bash. Scripts that
			// assume Bash features will break under sh; warn and carry on.
			s.Warningf("Couldn't find bash (%v). Attempting to fall back to sh.", err)
			shPath, err = s.AbsolutePath("sh")
			if err != nil {
				return fmt.Errorf("error finding a shell, needed to run scripts: %w", err)
			}
		}
		command = shPath
		args = []string{path}

	default:
		// Something else.
		command = path
		args = nil
	}

	cmdCfg, err := s.buildCommand(command, args...)
	if err != nil {
		s.Errorf("Error building command: %v", err)
		return err
	}

	// Combine the two env sets, letting the extra vars overwrite the shell's.
	environ := env.FromSlice(cmdCfg.Env)
	environ.Merge(extra)
	cmdCfg.Env = environ.ToSlice()

	stdout, stderr := s.Writer, s.Writer

	var search *replacer.Replacer
	if cfg.stringSearch != nil {
		search = searchWriter(s.Writer, cfg.stringSearch)
		stdout, stderr = search, search
	}

	runErr := s.executeCommand(ctx, cmdCfg, stdout, stderr, s.pty)

	if search != nil {
		// Release any held-back bytes now the stream is complete.
		if err := search.Flush(); err != nil && runErr == nil {
			runErr = err
		}
	}

	return runErr
}

// buildCommand returns a command that can later be executed.
func (s *Shell) buildCommand(name string, arg ...string) (process.Config, error) {
	// Always use absolute path as Windows has a hard time finding executables
	// in its path.
	absPath, err := s.AbsolutePath(name)
	if err != nil {
		return process.Config{}, err
	}

	return process.Config{
		Path:              absPath,
		Args:              arg,
		Env:               append(s.Env.ToSlice(), "PWD="+s.wd),
		Stdin:             s.stdin,
		Dir:               s.wd,
		InterruptSignal:   s.interruptSignal,
		SignalGracePeriod: s.signalGracePeriod,
	}, nil
}

// executeCommand executes a command.
//
// To ignore an output stream, you can use either nil or io.Discard:
//
//	s.executeCommand(ctx, cmd, nil, nil, pty)        // ignore both
//	s.executeCommand(ctx, cmd, writer, nil, pty)     // ignore stderr
//	s.executeCommand(ctx, cmd, writer, writer, pty)  // send both to same writer
//	s.executeCommand(ctx, cmd, writer1, writer2, false)
//
// Note that if pty = true, only the stdout writer will be used.
func (s *Shell) executeCommand(ctx context.Context, cmdCfg process.Config, stdout, stderr io.Writer, pty bool) error {
	cmdStr := process.FormatCommand(cmdCfg.Path, cmdCfg.Args)

	if s.debug {
		t := time.Now()
		defer func() {
			s.Commentf("↳ Command completed in %v", Round(time.Since(t)))
		}()
	}

	cmdCfg.PTY = pty
	cmdCfg.Stdout = stdout
	cmdCfg.Stderr = stderr

	if cmdCfg.Stdout == nil {
		cmdCfg.Stdout = io.Discard
	}
	if cmdCfg.Stderr == nil {
		cmdCfg.Stderr = io.Discard
	}

	if s.debug {
		// Tee output streams to the debug logger.
		stdOutStreamer := NewLoggerStreamer(s.Logger)
		defer stdOutStreamer.Close()
		cmdCfg.Stdout = io.MultiWriter(cmdCfg.Stdout, stdOutStreamer)

		stdErrStreamer := NewLoggerStreamer(s.Logger)
		defer stdErrStreamer.Close()
		cmdCfg.Stderr = io.MultiWriter(cmdCfg.Stderr, stdErrStreamer)
	}

	if s.commandLog != nil {
		*s.commandLog = append(*s.commandLog,
			append([]string{cmdCfg.Path}, cmdCfg.Args...),
		)
	}

	if s.dryRun {
		return nil
	}

	p := process.New(logger.Discard, cmdCfg)
	s.proc.Store(p)

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("error running %q: %w", cmdStr, err)
	}

	return p.WaitResult()
}

// ExitCode extracts an exit code from an error where the platform supports
// it, otherwise returns 0 for no error and 1 for an error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if cause := new(ExitError); errors.As(err, &cause) {
		return cause.Code
	}

	if cause := new(exec.ExitError); errors.As(err, &cause) {
		return cause.ExitCode()
	}
	return 1
}

// IsExitSignaled returns true if the error is an ExitError that was caused by
// receiving a signal.
func IsExitSignaled(err error) bool {
	if err == nil {
		return false
	}
	if exitErr := new(exec.ExitError); errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.Signaled()
		}
	}
	return false
}

// IsExitError reports whether err is an [ExitError] or [exec.ExitError].
func IsExitError(err error) bool {
	if cause := new(ExitError); errors.As(err, &cause) {
		return true
	}
	if cause := new(exec.ExitError); errors.As(err, &cause) {
		return true
	}
	return false
}

// ExitError is an error that carries a shell exit code.
type ExitError struct {
	Code int
	Err  error
}

func (ee *ExitError) Error() string { return ee.Err.Error() }

func (ee *ExitError) Unwrap() error { return ee.Err }

// Round rounds a duration to about 5 significant digits, for logging. A
// multi-hour build doesn't need its timing reported to the microsecond.
func Round(d time.Duration) time.Duration {
	switch {
	case d < 100*time.Microsecond:
		return d
	case d < time.Millisecond:
		return d.Round(10 * time.Nanosecond)
	case d < 10*time.Millisecond:
		return d.Round(100 * time.Nanosecond)
	case d < 100*time.Millisecond:
		return d.Round(time.Microsecond)
	case d < time.Second:
		return d.Round(10 * time.Microsecond)
	case d < 10*time.Second:
		return d.Round(100 * time.Microsecond)
	case d < time.Minute:
		return d.Round(time.Millisecond)
	case d < 10*time.Minute:
		return d.Round(10 * time.Millisecond)
	case d < time.Hour:
		return d.Round(100 * time.Millisecond)
	default:
		return d.Round(10 * time.Second)
	}
}
