//go:build windows

package stdin

import "os"

// IsReadable reports whether stdin is connected to a pipe. If there is no
// pipe, os.Stdin.Stat() returns an error on Windows.
func IsReadable() bool {
	_, err := os.Stdin.Stat()
	return err == nil
}
