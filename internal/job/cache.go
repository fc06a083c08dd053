package job

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/gantryci/gantry/metrics"
)

// cacheRestorePhase extracts the cached archives for each declared path.
// Cache problems never change the job result, so failures are warnings.
func (e *Executor) cacheRestorePhase(ctx context.Context) {
	if e.CacheStore == nil || len(e.CachePaths) == 0 {
		return
	}

	e.shell.Headerf("Restoring cache")

	for _, path := range e.CachePaths {
		res, err := e.CacheStore.Restore(ctx, path)
		if err != nil {
			e.shell.Warningf("Failed to restore %s from cache: %v", path, err)
			continue
		}
		if !res.CacheHit {
			e.shell.Commentf("Cache miss for %s", path)
			continue
		}
		e.shell.Commentf("Restored %s from cache (%s)", path, humanize.Bytes(uint64(res.Archive.Size)))
	}
}

// cacheSavePhase archives each declared path for the next build.
func (e *Executor) cacheSavePhase(ctx context.Context) {
	if e.CacheStore == nil || len(e.CachePaths) == 0 {
		return
	}

	e.shell.Headerf("Saving cache")

	for _, path := range e.CachePaths {
		res, err := e.CacheStore.Save(ctx, path)
		if err != nil {
			e.shell.Warningf("Failed to cache %s: %v", path, err)
			continue
		}

		switch {
		case res.Missing:
			e.shell.Commentf("Skipping %s, nothing there to cache", path)

		case res.Unchanged:
			e.shell.Commentf("Cache for %s is already up to date", path)

		case res.CacheCreated:
			e.shell.Commentf("Cached %s (%s)", path, humanize.Bytes(uint64(res.Archive.Size)))
			if e.Metrics != nil {
				e.Metrics.Gauge("cache.archive_bytes", float64(res.Archive.Size), metrics.Tags{"path": path})
			}
		}
	}
}
