// Package build expands a pipeline descriptor into jobs and runs them to
// completion, aggregating the job results into a build result.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/history"
	"github.com/gantryci/gantry/internal/job"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/logger"
	"github.com/gantryci/gantry/metrics"
	"github.com/gantryci/gantry/process"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is the final state of a build.
type State string

const (
	// StatePassed means every job passed, or only jobs whose failure is
	// allowed didn't.
	StatePassed State = "passed"

	// StateFailed means at least one job whose failure isn't allowed failed.
	StateFailed State = "failed"

	// StateErrored means at least one job whose failure isn't allowed
	// errored. Errored outranks failed.
	StateErrored State = "errored"

	// StateSkipped means the branch filter excluded this branch, so no jobs
	// ran at all.
	StateSkipped State = "skipped"
)

// RunnerConfig provides the configuration for a build runner.
type RunnerConfig struct {
	// The parsed, validated and interpolated pipeline descriptor
	Pipeline *pipeline.Pipeline

	// Slug identifies the pipeline in caches, history and logs, usually
	// the repository directory name
	Slug string

	// The branch being built
	Branch string

	// An optional git repository to check out for each job. When empty,
	// jobs run in Dir.
	Repository string

	// Where job checkouts live when Repository is set
	BuildPath string

	// Should jobs remove an existing checkout before cloning
	CleanCheckout bool

	// Working directory for jobs when no Repository is configured.
	// Defaults to the process working directory.
	Dir string

	// Where collected artifacts are written. Empty disables collection.
	ArtifactPath string

	// Cache store shared by all jobs. nil disables caching.
	CacheStore *cache.Store

	// History store the finished build is recorded in. nil disables
	// recording.
	History *history.Store

	// How many jobs may run at once. Defaults to 1.
	Concurrency int

	// Name of this runner. Defaults to "gantry-" plus a generated pet name.
	RunnerName string

	// Prepend a timestamp to every line of job output
	Timestamps bool

	// If the runner and its jobs are in debug mode
	Debug bool

	// Run job phases under a PTY
	RunInPTY bool

	// The signal jobs receive on cancellation
	CancelSignal process.Signal

	// How long jobs have between the interrupt signal and SIGKILL
	SignalGracePeriod time.Duration

	// Warning IDs the user asked us to keep quiet about
	DisabledWarnings []string

	// Where job output goes. Defaults to os.Stdout.
	Stdout io.Writer

	// Scope for emitting build metrics. nil disables metrics.
	Metrics *metrics.Scope
}

// Runner owns one build.
type Runner struct {
	conf   RunnerConfig
	logger logger.Logger

	mu        sync.Mutex
	executors []*job.Executor
	cancelled bool
	status    Status
}

// NewRunner returns a runner for a single build of the given pipeline.
func NewRunner(l logger.Logger, c RunnerConfig) (*Runner, error) {
	if c.Pipeline == nil {
		return nil, errors.New("a pipeline is required")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.RunnerName == "" {
		c.RunnerName = "gantry-" + petname.Generate(2, "-")
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	return &Runner{conf: c, logger: l}, nil
}

// JobResult is the outcome of one job within the build.
type JobResult struct {
	ID           string
	Name         string
	State        job.State
	AllowFailure bool
	ExitStatus   int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Result is the outcome of the whole build.
type Result struct {
	BuildID string

	// Number is assigned when the build is recorded in history, and 0
	// otherwise.
	Number int

	State      State
	Jobs       []JobResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the build took end to end.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode maps the build state to the process exit code for `gantry run`.
func (r *Result) ExitCode() int {
	switch r.State {
	case StateFailed:
		return 1
	case StateErrored:
		return 2
	default:
		return 0
	}
}

// Status is a point-in-time view of a build in progress, served by the
// build API while `gantry run` is executing.
type Status struct {
	BuildID    string
	RunnerName string
	Slug       string
	Branch     string
	State      string
	StartedAt  time.Time
	Jobs       []JobStatus
}

// JobStatus is the live state of one job within the build: "waiting",
// "running", or the job's final state.
type JobStatus struct {
	ID           string
	Name         string
	State        string
	AllowFailure bool
	ExitStatus   int
	StartedAt    time.Time
	FinishedAt   time.Time
}

const (
	jobStateWaiting = "waiting"
	jobStateRunning = "running"
)

// Status returns a copy of the build's current state. It is safe to call
// from other goroutines while Run is executing.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.Jobs = make([]JobStatus, len(r.status.Jobs))
	copy(s.Jobs, r.status.Jobs)
	return s
}

func (r *Runner) initStatus(buildID string, startedAt time.Time, jobs []pipeline.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = Status{
		BuildID:    buildID,
		RunnerName: r.conf.RunnerName,
		Slug:       r.conf.Slug,
		Branch:     r.conf.Branch,
		State:      "running",
		StartedAt:  startedAt,
	}
	for _, j := range jobs {
		r.status.Jobs = append(r.status.Jobs, JobStatus{
			Name:         j.Name,
			State:        jobStateWaiting,
			AllowFailure: j.AllowFailure,
		})
	}
}

func (r *Runner) updateJobStatus(index int, update func(*JobStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.status.Jobs) {
		return
	}
	update(&r.status.Jobs[index])
}

func (r *Runner) setFinalState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = string(state)
}

// Run expands the build matrix and runs every job, at most Concurrency at a
// time. The returned error reports problems with the build itself (a matrix
// that can't be expanded); job failures are reported in the Result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{BuildID: uuid.New().String(), StartedAt: time.Now()}

	if !r.conf.Pipeline.Branches.Match(r.conf.Branch) {
		r.logger.Info("Branch %q is excluded by the branch filter, nothing to build", r.conf.Branch)
		res.State = StateSkipped
		res.FinishedAt = time.Now()
		r.initStatus(res.BuildID, res.StartedAt, nil)
		r.setFinalState(StateSkipped)
		return res, nil
	}

	jobs, err := r.conf.Pipeline.Jobs()
	if err != nil {
		return nil, fmt.Errorf("expanding build matrix: %w", err)
	}
	r.initStatus(res.BuildID, res.StartedAt, jobs)

	r.logger.Info("Starting build %s for %s on branch %s (%d jobs, concurrency %d)",
		res.BuildID, r.conf.Slug, r.conf.Branch, len(jobs), r.conf.Concurrency)

	res.Jobs = make([]JobResult, len(jobs))
	stdout := &lockedWriter{w: r.conf.Stdout}

	var eg errgroup.Group
	eg.SetLimit(r.conf.Concurrency)

	for i, j := range jobs {
		eg.Go(func() error {
			res.Jobs[i] = r.runJob(ctx, res.BuildID, j, stdout)
			return nil
		})
	}
	eg.Wait() //nolint:errcheck // Job goroutines never return errors.

	res.State = overallState(res.Jobs)
	res.FinishedAt = time.Now()
	r.setFinalState(res.State)

	for _, jr := range res.Jobs {
		if jr.AllowFailure && jr.State != job.StatePassed {
			r.logger.Info("Job %s %s, but its failure is allowed", jr.Name, jr.State)
		}
	}

	r.logger.Info("Build %s %s in %v", res.BuildID, res.State, res.Duration().Round(time.Millisecond))

	if r.conf.Metrics != nil {
		tags := metrics.Tags{"state": string(res.State)}
		r.conf.Metrics.Count("builds.count", 1, tags)
		r.conf.Metrics.Timing("build.duration", res.Duration(), tags)
	}

	if r.conf.History != nil {
		hb := historyBuild(res, r.conf.Slug, r.conf.Branch)
		if err := r.conf.History.Record(ctx, hb); err != nil {
			// Bookkeeping problems shouldn't change the build result.
			r.logger.Error("Failed to record build in history: %v", err)
		} else {
			res.Number = hb.Number
			r.logger.Info("Recorded build #%d", res.Number)
		}
	}

	return res, nil
}

// Cancel interrupts every running job. Jobs that start afterwards are
// cancelled as soon as they register.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return errors.New("already cancelled")
	}
	r.cancelled = true

	r.logger.Info("Cancelling build (%d jobs registered)", len(r.executors))
	for _, ex := range r.executors {
		if err := ex.Cancel(); err != nil {
			r.logger.Warn("Cancelling job: %v", err)
		}
	}
	return nil
}

func (r *Runner) runJob(ctx context.Context, buildID string, j pipeline.Job, stdout io.Writer) JobResult {
	id := uuid.New().String()
	p := r.conf.Pipeline

	var w io.Writer = process.NewPrefixer(stdout, func() string {
		return j.Name + " | "
	})
	if r.conf.Timestamps {
		w = process.NewTimestamper(w, func(t time.Time) string {
			return t.Format("15:04:05 ")
		}, time.Second)
	}

	jobEnv := make([]string, 0, len(j.Env))
	for _, a := range j.Env {
		jobEnv = append(jobEnv, a.String())
	}

	dir := r.conf.Dir
	if r.conf.Repository != "" {
		// Per-job checkout directories, reused from build to build so the
		// next build fetches instead of cloning.
		dir = filepath.Join(r.conf.BuildPath, r.conf.Slug, fmt.Sprintf("job-%d", j.Index))
	}

	var artifactDir string
	if r.conf.ArtifactPath != "" {
		artifactDir = filepath.Join(r.conf.ArtifactPath, buildID, fmt.Sprintf("job-%d", j.Index))
	}

	ex := job.New(job.ExecutorConfig{
		JobID:             id,
		JobName:           j.Name,
		BuildID:           buildID,
		RunnerName:        r.conf.RunnerName,
		Slug:              r.conf.Slug,
		Branch:            r.conf.Branch,
		Dir:               dir,
		Repository:        r.conf.Repository,
		CleanCheckout:     r.conf.CleanCheckout,
		JobEnv:            jobEnv,
		BeforeInstall:     p.BeforeInstall,
		Install:           p.Install,
		BeforeScript:      p.BeforeScript,
		Script:            p.Script,
		AfterSuccess:      p.AfterSuccess,
		AfterFailure:      p.AfterFailure,
		AfterScript:       p.AfterScript,
		CachePaths:        p.Cache.Paths,
		CacheStore:        r.conf.CacheStore,
		ArtifactPaths:     p.Artifacts.Paths,
		ArtifactDir:       artifactDir,
		Debug:             r.conf.Debug,
		RunInPTY:          r.conf.RunInPTY,
		CancelSignal:      r.conf.CancelSignal,
		SignalGracePeriod: r.conf.SignalGracePeriod,
		DisabledWarnings:  r.conf.DisabledWarnings,
		Stdout:            w,
		Metrics:           r.conf.Metrics,
	})

	r.mu.Lock()
	r.executors = append(r.executors, ex)
	cancelled := r.cancelled
	r.mu.Unlock()
	if cancelled {
		ex.Cancel() //nolint:errcheck // A fresh executor can't be cancelled already.
	}

	r.logger.Info("Starting job %s (%s)", j.Name, id)
	r.updateJobStatus(j.Index-1, func(js *JobStatus) {
		js.ID = id
		js.State = jobStateRunning
		js.StartedAt = time.Now()
	})
	result := ex.Run(ctx)
	r.updateJobStatus(j.Index-1, func(js *JobStatus) {
		js.State = string(result.State)
		js.ExitStatus = result.ExitStatus
		js.FinishedAt = result.FinishedAt
	})
	r.logger.Info("Job %s %s (exit status %d) in %v",
		j.Name, result.State, result.ExitStatus, result.Duration().Round(time.Millisecond))

	if r.conf.Metrics != nil {
		tags := metrics.Tags{"state": string(result.State), "job": j.Name}
		r.conf.Metrics.Count("jobs.count", 1, tags)
		r.conf.Metrics.Timing("job.duration", result.Duration(), tags)
	}

	return JobResult{
		ID:           id,
		Name:         j.Name,
		State:        result.State,
		AllowFailure: j.AllowFailure,
		ExitStatus:   result.ExitStatus,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
	}
}

// overallState aggregates job states, ignoring jobs whose failure is
// allowed. Errored outranks failed outranks passed.
func overallState(jobs []JobResult) State {
	state := StatePassed
	for _, j := range jobs {
		if j.AllowFailure {
			continue
		}
		switch j.State {
		case job.StateErrored:
			return StateErrored
		case job.StateFailed:
			state = StateFailed
		}
	}
	return state
}

func historyBuild(res *Result, slug, branch string) *history.Build {
	b := &history.Build{
		ID:         res.BuildID,
		Slug:       slug,
		Branch:     branch,
		State:      string(res.State),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	for _, j := range res.Jobs {
		b.Jobs = append(b.Jobs, history.Job{
			ID:           j.ID,
			Name:         j.Name,
			State:        string(j.State),
			AllowFailure: j.AllowFailure,
			ExitStatus:   j.ExitStatus,
			StartedAt:    j.StartedAt,
			FinishedAt:   j.FinishedAt,
		})
	}
	return b
}

// lockedWriter serialises writes from concurrently running jobs so their
// output lines don't splice into each other.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
