package buildapi

import "time"

// BuildResponse is the response body for the GET /api/build/v0 endpoint.
type BuildResponse struct {
	ID         string    `json:"id"`
	RunnerName string    `json:"runner_name"`
	Slug       string    `json:"slug"`
	Branch     string    `json:"branch"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`

	// JobStates summarises the jobs without a second request.
	JobStates []string `json:"job_states"`
}

// JobsResponse is the response body for the GET /api/build/v0/jobs endpoint.
type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// JobResponse is one job within a JobsResponse. StartedAt and FinishedAt are
// null until the job starts and finishes respectively.
type JobResponse struct {
	ID           string     `json:"id,omitempty"`
	Name         string     `json:"name"`
	State        string     `json:"state"`
	AllowFailure bool       `json:"allow_failure"`
	ExitStatus   int        `json:"exit_status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
