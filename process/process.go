// Package process provides a helper for running and managing a subprocess.
//
// It is intended for internal use by gantry only.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/gantryci/gantry/logger"
)

const defaultSignalGracePeriod = 9 * time.Second

// Config defines how a Process is to be executed.
type Config struct {
	Path              string
	Args              []string
	Env               []string
	Dir               string
	Stdout            io.Writer
	Stderr            io.Writer
	Stdin             io.Reader
	PTY               bool
	InterruptSignal   Signal
	SignalGracePeriod time.Duration
}

// Process is a running operating system process. It is run in its own process
// group (console group on Windows) so that signals reach any child processes
// it spawns.
type Process struct {
	logger logger.Logger
	conf   Config

	command *exec.Cmd

	started chan struct{}
	done    chan struct{}

	mu         sync.Mutex
	pid        int
	waitResult error
	waitStatus WaitStatus
}

// WaitStatus is the status of a process after it has exited.
type WaitStatus interface {
	ExitStatus() int
	Signaled() bool
	Signal() syscall.Signal
}

type unknownWaitStatus struct{}

func (unknownWaitStatus) ExitStatus() int        { return -1 }
func (unknownWaitStatus) Signaled() bool         { return false }
func (unknownWaitStatus) Signal() syscall.Signal { return syscall.Signal(-1) }

// New returns a new Process with the given configuration. Nil output writers
// are replaced with io.Discard, and zero signal settings get defaults
// (SIGTERM, with a grace period before SIGKILL).
func New(l logger.Logger, c Config) *Process {
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	if c.Stderr == nil {
		c.Stderr = io.Discard
	}
	if c.InterruptSignal == Signal(0) {
		c.InterruptSignal = SIGTERM
	}
	if c.SignalGracePeriod <= 0 {
		c.SignalGracePeriod = defaultSignalGracePeriod
	}

	return &Process{
		logger:  l,
		conf:    c,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts the process and blocks until it exits. If the context is
// cancelled while the process is running, the process group is sent the
// configured interrupt signal, escalating to SIGKILL after the grace period.
//
// A non-zero exit is not an error from Run; it is reported by WaitResult and
// WaitStatus. Run returns an error only when the process could not be run.
func (p *Process) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.command != nil {
		p.mu.Unlock()
		return errors.New("process has already been run")
	}
	p.command = exec.Command(p.conf.Path, p.conf.Args...)
	p.command.Env = p.conf.Env
	p.command.Dir = p.conf.Dir
	p.mu.Unlock()

	var wg sync.WaitGroup

	if p.conf.PTY {
		ptyFile, err := StartPTY(p.command)
		if err != nil {
			return fmt.Errorf("starting pty: %w", err)
		}

		p.mu.Lock()
		p.pid = p.command.Process.Pid
		p.mu.Unlock()
		close(p.started)

		wg.Add(1)
		go func() {
			defer wg.Done()

			// Copy the pty output to Stdout. Blocks until the pty closes.
			_, err := io.Copy(p.conf.Stdout, ptyFile)
			if pathErr := new(os.PathError); errors.As(err, &pathErr) && pathErr.Err == syscall.EIO {
				// The pty returns EIO when the child exits. Not an error.
				err = nil
			}
			if err != nil {
				p.logger.Error("[Process] PTY output copy failed: %v", err)
			}
			ptyFile.Close() //nolint:errcheck // Process has exited; close is best-effort.
		}()
	} else {
		p.command.Stdout = p.conf.Stdout
		p.command.Stderr = p.conf.Stderr
		p.command.Stdin = p.conf.Stdin

		p.setupProcessGroup()

		if err := p.command.Start(); err != nil {
			return err
		}

		p.mu.Lock()
		p.pid = p.command.Process.Pid
		p.mu.Unlock()
		close(p.started)
	}

	p.logger.Debug("[Process] %s running with PID %d", p.conf.Path, p.Pid())

	// Watch for cancellation while the command runs.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			if err := p.Interrupt(); err != nil {
				p.logger.Error("[Process] Failed to interrupt PID %d: %v", p.Pid(), err)
			}
			select {
			case <-p.done:
			case <-time.After(p.conf.SignalGracePeriod):
				if err := p.Terminate(); err != nil {
					p.logger.Error("[Process] Failed to terminate PID %d: %v", p.Pid(), err)
				}
			}
		case <-p.done:
		}
	}()

	waitErr := p.command.Wait()

	p.mu.Lock()
	p.waitResult = waitErr
	p.waitStatus = unknownWaitStatus{}
	if state := p.command.ProcessState; state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			p.waitStatus = ws
		}
	}
	p.mu.Unlock()

	close(p.done)
	<-watchDone

	// Wait for the output copiers, but not forever. In some container
	// environments the pty copy can wedge after the child has exited.
	if err := timeoutWait(&wg); err != nil {
		p.logger.Debug("[Process] Timed out waiting for output copy: %v", err)
	}

	return nil
}

// Done returns a channel that is closed when the process finishes.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Started returns a channel that is closed once the process is running.
func (p *Process) Started() <-chan struct{} {
	return p.started
}

// Pid returns the process id, or 0 if the process has not started.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// WaitResult returns the error (usually an *exec.ExitError, or nil) from
// waiting on the process. Only valid after Run has returned.
func (p *Process) WaitResult() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitResult
}

// WaitStatus returns the exit status of the process. Only valid after Run
// has returned.
func (p *Process) WaitStatus() WaitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitStatus == nil {
		return unknownWaitStatus{}
	}
	return p.waitStatus
}

// Interrupt sends the configured interrupt signal to the process group.
// Interrupting a nil or not-yet-started Process is a no-op.
func (p *Process) Interrupt() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil
	}
	return p.interruptProcessGroup()
}

// Terminate forcefully stops the process group. Terminating a nil or
// not-yet-started Process is a no-op.
func (p *Process) Terminate() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil
	}
	return p.terminateProcessGroup()
}

func timeoutWait(wg *sync.WaitGroup) error {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timeout")
	}
}
