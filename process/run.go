package process

import (
	"os/exec"
	"strings"

	"github.com/gantryci/gantry/logger"
)

// Run executes a command and returns its trimmed stdout. It is a convenience
// for small probe commands (git branch detection and the like) that don't
// need the full Process machinery.
func Run(l logger.Logger, command string, arg ...string) (string, error) {
	output, err := exec.Command(command, arg...).Output()
	if err != nil {
		l.Debug("Could not run: %s %v (returned %q) (%T: %v)", command, arg, output, err, err)
		return "", err
	}

	return strings.Trim(string(output), "\n"), nil
}
