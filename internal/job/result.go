package job

import "time"

// State is the final state of a job.
type State string

const (
	// StatePassed means every phase that can affect the result exited 0.
	StatePassed State = "passed"

	// StateFailed means the script phase exited nonzero.
	StateFailed State = "failed"

	// StateErrored means the job broke before the script could finish:
	// setup, checkout or one of the install phases exited nonzero.
	StateErrored State = "errored"
)

// Result is what a single job run produced.
type Result struct {
	State      State
	ExitStatus int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the job took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
