//go:build !windows

// Package stdin detects whether the process has data piped to it on standard
// input, so commands can accept a pipeline descriptor from a pipe.
package stdin

import "os"

// IsReadable reports whether stdin is connected to a pipe or a file rather
// than a terminal.
func IsReadable() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
