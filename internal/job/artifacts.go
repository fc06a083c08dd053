package job

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"drjosh.dev/zzglob"
	"github.com/dustin/go-humanize"
)

// artifactPhase copies every file matching the artifact glob patterns into
// the job's artifact directory, preserving paths relative to the working
// directory.
func (e *Executor) artifactPhase(ctx context.Context) error {
	if len(e.ArtifactPaths) == 0 || e.ArtifactDir == "" {
		return nil
	}

	e.shell.Headerf("Collecting artifacts")

	// Patterns are relative to the job's working directory, which isn't
	// necessarily the process's.
	wd := e.shell.Getwd()

	var patterns []*zzglob.Pattern
	for _, globPath := range e.ArtifactPaths {
		globPath = strings.TrimSpace(globPath)
		if globPath == "" {
			continue
		}
		pattern, err := zzglob.Parse(path.Join(filepath.ToSlash(wd), globPath))
		if err != nil {
			return fmt.Errorf("invalid glob pattern %q: %w", globPath, err)
		}
		patterns = append(patterns, pattern)
	}

	var count int
	var totalBytes int64

	walkDirFunc := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			e.shell.Warningf("Couldn't walk path %s", p)
			return nil
		}
		if d != nil && d.IsDir() {
			return nil
		}
		n, err := e.collectArtifact(wd, p)
		if err != nil {
			return err
		}
		count++
		totalBytes += n
		return nil
	}

	if err := zzglob.MultiGlob(ctx, patterns, walkDirFunc); err != nil {
		return fmt.Errorf("globbing artifact paths: %w", err)
	}

	if count == 0 {
		e.shell.Commentf("No artifacts matched %v", e.ArtifactPaths)
		return nil
	}
	e.shell.Commentf("Collected %d artifacts (%s)", count, humanize.Bytes(uint64(totalBytes)))
	return nil
}

func (e *Executor) collectArtifact(wd, src string) (int64, error) {
	rel, err := filepath.Rel(wd, src)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		// Matches from outside the working directory keep only their name.
		rel = filepath.Base(src)
	}
	dst := filepath.Join(e.ArtifactDir, rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close() //nolint:errcheck // File only open for read.

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("copying artifact %s: %w", src, err)
	}
	return n, nil
}
