package osutil

import (
	"fmt"
	"os"
)

// ChmodExecutable sets the executable mode/flag on a file, if not
// already.
func ChmodExecutable(filename string) error {
	s, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("retrieving file information for %q: %w", filename, err)
	}
	if s.Mode()&0o100 == 0 {
		if err := os.Chmod(filename, s.Mode()|0o100); err != nil {
			return fmt.Errorf("marking %q as executable: %w", filename, err)
		}
	}
	return nil
}

// FileExists reports whether a file exists on the filesystem. Any
// error from os.Stat is taken to mean the file isn't there (or isn't
// available, which for our purposes is the same thing).
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
