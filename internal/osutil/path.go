package osutil

import (
	"path/filepath"
	"strings"
)

// NormalizeFilePath returns a clean, absolute version of path, with a
// leading "~" expanded into the user's home directory.
func NormalizeFilePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	return filepath.Abs(path)
}
