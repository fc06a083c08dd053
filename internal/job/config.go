package job

import (
	"io"
	"time"

	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/metrics"
	"github.com/gantryci/gantry/process"
)

// ExecutorConfig provides the configuration for the job executor. The build
// runner fills one in per job from the expanded pipeline descriptor.
type ExecutorConfig struct {
	// The ID of the job being run
	JobID string

	// The matrix entry the job runs for, e.g. "LINT_CODE=1"
	JobName string

	// The ID of the build the job belongs to
	BuildID string

	// Name of the runner executing the build
	RunnerName string

	// Slug of the pipeline, usually the repository directory name
	Slug string

	// The branch being built
	Branch string

	// The job's working directory. When Repository is set, the repository
	// is checked out here first.
	Dir string

	// An optional git repository (URL or local path) to check out before
	// running. When empty the job runs in Dir as-is.
	Repository string

	// Should the executor remove an existing checkout before cloning
	CleanCheckout bool

	// Environment to export for every phase, as KEY=value pairs. Contains
	// the global env followed by the job's own matrix entry.
	JobEnv []string

	// Command lists for each phase, in the order they appear in the
	// descriptor.
	BeforeInstall []string
	Install       []string
	BeforeScript  []string
	Script        []string
	AfterSuccess  []string
	AfterFailure  []string
	AfterScript   []string

	// Directories to cache between builds
	CachePaths []string

	// Cache store to restore from and save to. nil disables caching.
	CacheStore *cache.Store

	// Glob patterns of files to collect after the script phase
	ArtifactPaths []string

	// Where collected artifacts are copied to
	ArtifactDir string

	// If the executor is in debug mode
	Debug bool

	// Run the phase scripts under a PTY
	RunInPTY bool

	// The signal to use to interrupt the running phase on cancellation
	CancelSignal process.Signal

	// How long to wait between interrupting the process and killing it
	SignalGracePeriod time.Duration

	// Warning IDs the user asked us to keep quiet about
	DisabledWarnings []string

	// Where job output is written. Defaults to os.Stdout.
	Stdout io.Writer

	// Scope for emitting job metrics. nil disables metrics.
	Metrics *metrics.Scope
}
