//go:build !windows

package process

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func (p *Process) setupProcessGroup() {
	// A pty already puts the child in its own session.
	// See https://github.com/creack/pty/issues/35 for context.
	if !p.conf.PTY {
		p.command.SysProcAttr = &syscall.SysProcAttr{
			Setpgid: true,
			Pgid:    0,
		}
	}
}

func (p *Process) interruptProcessGroup() error {
	p.logger.Debug("[Process] Sending signal %s to PGID %d", p.conf.InterruptSignal, p.pid)
	return syscall.Kill(-p.pid, syscall.Signal(p.conf.InterruptSignal))
}

func (p *Process) terminateProcessGroup() error {
	p.logger.Debug("[Process] Sending signal SIGKILL to PGID %d", p.pid)
	return syscall.Kill(-p.pid, syscall.SIGKILL)
}

func GetPgid(pid int) (int, error) {
	return syscall.Getpgid(pid)
}

// SignalString returns the name of a signal, or its number when the name is
// unknown.
func SignalString(s syscall.Signal) string {
	if name := unix.SignalName(s); name != "" {
		return name
	}
	return fmt.Sprintf("%d", int(s))
}
