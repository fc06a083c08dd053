package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/buildkite/shellwords"
)

// Matrix declares which expanded jobs may fail without failing the
// whole build.
type Matrix struct {
	AllowFailures []AllowFailure `yaml:"allow_failures,omitempty"`
}

// AllowFailure selects jobs by their matrix env assignments. A job is
// allowed to fail when every assignment of the selector is set
// identically in the job's own matrix entry.
type AllowFailure struct {
	Env string `yaml:"env"`
}

// DefaultJobName names the implicit job of a pipeline that declares no
// env matrix.
const DefaultJobName = "default"

// Assignment is a single KEY=value environment variable setting.
type Assignment struct {
	Key   string
	Value string
}

func (a Assignment) String() string {
	return a.Key + "=" + a.Value
}

// Job is one expanded env matrix entry, runnable on its own.
type Job struct {
	// Name is the raw matrix entry ("LINT_CODE=1"), or DefaultJobName
	// for the single job of a pipeline with no matrix.
	Name string

	// Index is the job's 1-based position in the expansion.
	Index int

	// Env is the job's environment: the global assignments followed by
	// the job's own entry. Applied in order, later assignments shadow
	// earlier ones.
	Env []Assignment

	// MatrixEnv holds only the assignments from the job's own matrix
	// entry. Vars set by other entries do not appear in the job at all.
	MatrixEnv []Assignment

	// AllowFailure marks jobs whose failure doesn't fail the build.
	AllowFailure bool
}

// Jobs expands the env matrix. Each env.jobs entry becomes one job; a
// pipeline with no entries gets a single default job carrying just the
// global env. Allow-failure matching happens here, so callers never
// re-derive it.
func (p *Pipeline) Jobs() ([]Job, error) {
	var global []Assignment
	for i, entry := range p.Env.Global {
		pairs, err := ParseAssignments(entry)
		if err != nil {
			return nil, fmt.Errorf("env.global[%d]: %w", i, err)
		}
		global = append(global, pairs...)
	}

	allows := make([][]Assignment, 0, len(p.Matrix.AllowFailures))
	for i, af := range p.Matrix.AllowFailures {
		pairs, err := ParseAssignments(af.Env)
		if err != nil {
			return nil, fmt.Errorf("matrix.allow_failures[%d]: %w", i, err)
		}
		allows = append(allows, pairs)
	}

	if len(p.Env.Jobs) == 0 {
		return []Job{{
			Name:  DefaultJobName,
			Index: 1,
			Env:   global,
		}}, nil
	}

	jobs := make([]Job, 0, len(p.Env.Jobs))
	for i, entry := range p.Env.Jobs {
		own, err := ParseAssignments(entry)
		if err != nil {
			return nil, fmt.Errorf("env.jobs[%d]: %w", i, err)
		}

		jobEnv := make([]Assignment, 0, len(global)+len(own))
		jobEnv = append(jobEnv, global...)
		jobEnv = append(jobEnv, own...)

		jobs = append(jobs, Job{
			Name:         entry,
			Index:        i + 1,
			Env:          jobEnv,
			MatrixEnv:    own,
			AllowFailure: anyMatches(allows, own),
		})
	}
	return jobs, nil
}

func anyMatches(allows [][]Assignment, own []Assignment) bool {
	for _, want := range allows {
		if len(want) == 0 {
			continue
		}
		if isSubset(want, own) {
			return true
		}
	}
	return false
}

// isSubset reports whether every want assignment appears identically
// in have.
func isSubset(want, have []Assignment) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseAssignments splits an env entry like `FOO=1 BAR="a b"` into its
// assignments. Values may be quoted shell-style.
func ParseAssignments(entry string) ([]Assignment, error) {
	words, err := shellwords.Split(entry)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", entry, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("parsing %q: no assignments", entry)
	}

	as := make([]Assignment, 0, len(words))
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok {
			return nil, fmt.Errorf("parsing %q: %q is not a KEY=value assignment", entry, w)
		}
		if !envKeyPattern.MatchString(k) {
			return nil, fmt.Errorf("parsing %q: %q is not a valid variable name", entry, k)
		}
		as = append(as, Assignment{Key: k, Value: v})
	}
	return as, nil
}
