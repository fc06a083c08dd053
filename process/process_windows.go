//go:build windows

package process

import (
	"errors"
	"os/exec"
	"strconv"
	"syscall"
)

// Windows has no concept of parent/child processes or signals. The closest
// analogue is a "console group": processes created inside one can be sent
// break / ctrl-c events as a group.
// See https://docs.microsoft.com/en-us/windows/console/generateconsolectrlevent

var (
	libkernel32                  = syscall.MustLoadDLL("kernel32")
	procGenerateConsoleCtrlEvent = libkernel32.MustFindProc("GenerateConsoleCtrlEvent")
)

const createNewProcessGroupFlag = 0x00000200

func (p *Process) setupProcessGroup() {
	p.command.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_UNICODE_ENVIRONMENT | createNewProcessGroupFlag,
	}
}

func (p *Process) interruptProcessGroup() error {
	// Sends a CTRL-BREAK to the console group, whose id is the process PID.
	r1, _, err := procGenerateConsoleCtrlEvent.Call(syscall.CTRL_BREAK_EVENT, uintptr(p.pid))
	if r1 == 0 {
		return err
	}
	return nil
}

func (p *Process) terminateProcessGroup() error {
	p.logger.Debug("[Process] Terminating process tree with TASKKILL.EXE PID: %d", p.pid)

	// taskkill.exe with /F hard-kills the process and anything left in its
	// process tree.
	return exec.Command("CMD", "/C", "TASKKILL.EXE", "/F", "/T", "/PID", strconv.Itoa(p.pid)).Run()
}

func GetPgid(pid int) (int, error) {
	return 0, errors.New("not implemented on Windows")
}

// SignalString returns the Go runtime's name for a signal.
func SignalString(s syscall.Signal) string {
	return s.String()
}
