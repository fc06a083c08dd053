package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneResult reports what Prune removed.
type PruneResult struct {
	// Removed counts deleted archives.
	Removed int

	// Reclaimed is the total size of the deleted archives in bytes.
	Reclaimed int64
}

// Prune deletes archives older than maxAge from dir, or every archive
// when maxAge is zero. Fingerprints go with their archives. Prune
// covers the whole directory, not just one pipeline or branch.
func Prune(dir string, maxAge time.Duration) (PruneResult, error) {
	var res PruneResult

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return res, err
		}
		if maxAge > 0 && fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return res, err
		}
		// The fingerprint is advisory, so problems removing it aren't.
		key := strings.TrimSuffix(name, archiveSuffix)
		os.Remove(filepath.Join(dir, key+sumSuffix)) //nolint:errcheck

		res.Removed++
		res.Reclaimed += fi.Size()
	}
	return res, nil
}
