// Package cache persists declared directories between builds.
//
// Each cached path gets its own archive under the store directory,
// named by a key derived from the pipeline slug, the branch and the
// declared path. Saves are atomic, guarded by a cross-process file
// lock, and skipped entirely when the directory contents are
// unchanged since the last save.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/gantryci/gantry/internal/osutil"
	"github.com/gantryci/gantry/logger"
)

const (
	archiveSuffix = ".tar.zst"
	sumSuffix     = ".sum"
	lockSuffix    = ".lock"

	lockRetryDuration = 100 * time.Millisecond
)

// Config holds the configuration for a Store.
type Config struct {
	// Dir is where archives live, typically ~/.gantry/cache.
	Dir string

	// Slug identifies the pipeline, usually the repository directory
	// name.
	Slug string

	// Branch scopes archives to the branch being built.
	Branch string
}

// Store reads and writes cache archives for one pipeline and branch.
type Store struct {
	logger logger.Logger
	dir    string
	slug   string
	branch string
}

// New creates a Store, creating the archive directory if needed.
func New(l logger.Logger, cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o777); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Store{
		logger: l,
		dir:    cfg.Dir,
		slug:   cfg.Slug,
		branch: cfg.Branch,
	}, nil
}

// Key names the archive for a declared path. Distinct pipelines,
// branches or paths never share an archive. The key is derived from
// the path as written in the descriptor, so it is stable across
// machines with different home directories.
func (s *Store) Key(path string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", s.slug, s.branch, filepath.Clean(path))
	return hex.EncodeToString(h.Sum(nil))
}

// ArchiveInfo describes one archive operation.
type ArchiveInfo struct {
	// Size is the compressed archive size in bytes.
	Size int64

	// WrittenBytes is the uncompressed bytes written.
	WrittenBytes int64

	// WrittenEntries is the number of filesystem entries written.
	WrittenEntries int
}

// RestoreResult reports what Restore did.
type RestoreResult struct {
	// CacheHit is false when no archive exists yet for the path.
	CacheHit bool

	// Key is the archive key for the path.
	Key string

	Archive ArchiveInfo
}

// Restore extracts the archive for the declared path into place. A
// missing archive is a miss, not an error, and touches nothing.
func (s *Store) Restore(ctx context.Context, path string) (RestoreResult, error) {
	key := s.Key(path)
	res := RestoreResult{Key: key}

	target, err := osutil.NormalizeFilePath(path)
	if err != nil {
		return res, err
	}

	lock, err := s.lock(ctx, key)
	if err != nil {
		return res, err
	}
	defer lock.Unlock() //nolint:errcheck // Lock is released when the process exits anyway.

	f, err := os.Open(s.archivePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No cache archive for %s", path)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	defer f.Close() //nolint:errcheck // File only open for read.

	info, err := extractArchive(f, target)
	if err != nil {
		return res, fmt.Errorf("restoring %s: %w", path, err)
	}

	res.CacheHit = true
	res.Archive = info
	if fi, err := f.Stat(); err == nil {
		res.Archive.Size = fi.Size()
	}
	return res, nil
}

// SaveResult reports what Save did.
type SaveResult struct {
	// CacheCreated is true when a new archive was written.
	CacheCreated bool

	// Unchanged is true when the directory fingerprint matches the
	// previous save, so the existing archive was kept.
	Unchanged bool

	// Missing is true when the declared path doesn't exist, so there
	// was nothing to save.
	Missing bool

	// Key is the archive key for the path.
	Key string

	Archive ArchiveInfo
}

// Save archives the declared path. A path with unchanged contents
// skips the write; a missing path is not an error.
func (s *Store) Save(ctx context.Context, path string) (SaveResult, error) {
	key := s.Key(path)
	res := SaveResult{Key: key}

	source, err := osutil.NormalizeFilePath(path)
	if err != nil {
		return res, err
	}

	if !osutil.FileExists(source) {
		s.logger.Debug("Cache path %s does not exist, nothing to save", path)
		res.Missing = true
		return res, nil
	}

	lock, err := s.lock(ctx, key)
	if err != nil {
		return res, err
	}
	defer lock.Unlock() //nolint:errcheck // Lock is released when the process exits anyway.

	sum, err := Fingerprint(source)
	if err != nil {
		return res, fmt.Errorf("fingerprinting %s: %w", path, err)
	}

	archive := s.archivePath(key)
	if prev, err := os.ReadFile(s.sumPath(key)); err == nil && string(prev) == sum && osutil.FileExists(archive) {
		res.Unchanged = true
		if fi, err := os.Stat(archive); err == nil {
			res.Archive.Size = fi.Size()
		}
		return res, nil
	}

	// Write to a temp file in the same directory and rename it into
	// place, so a crash never leaves a truncated archive behind.
	tmp, err := os.CreateTemp(s.dir, key+"-*.tmp")
	if err != nil {
		return res, err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Gone already if the rename happened.

	info, err := writeArchive(tmp, source)
	if err != nil {
		tmp.Close() //nolint:errcheck // Already failing.
		return res, fmt.Errorf("archiving %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return res, err
	}
	if err := os.Rename(tmp.Name(), archive); err != nil {
		return res, err
	}

	// The fingerprint is written after the archive: a crash in between
	// just means the next save writes the archive again.
	if err := os.WriteFile(s.sumPath(key), []byte(sum), 0o644); err != nil {
		return res, err
	}

	res.CacheCreated = true
	res.Archive = info
	if fi, err := os.Stat(archive); err == nil {
		res.Archive.Size = fi.Size()
	}
	return res, nil
}

func (s *Store) archivePath(key string) string {
	return filepath.Join(s.dir, key+archiveSuffix)
}

func (s *Store) sumPath(key string) string {
	return filepath.Join(s.dir, key+sumSuffix)
}

func (s *Store) lock(ctx context.Context, key string) (*flock.Flock, error) {
	l := flock.New(filepath.Join(s.dir, key+lockSuffix))
	locked, err := l.TryLockContext(ctx, lockRetryDuration)
	if err != nil {
		return nil, fmt.Errorf("acquiring cache lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire cache lock %s", l.Path())
	}
	return l, nil
}
