package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

// Validate checks the descriptor for structural problems: a runnable
// pipeline needs at least one script command, `branches.only` and
// `branches.except` are mutually exclusive, branch regexes must
// compile, and every env and allow-failures entry must parse as
// KEY=value assignments. All problems found are reported together.
func (p *Pipeline) Validate() error {
	var errs []error

	if len(p.Script) == 0 {
		errs = append(errs, errors.New("script: at least one command is required"))
	}

	if len(p.Branches.Only) > 0 && len(p.Branches.Except) > 0 {
		errs = append(errs, errors.New("branches: only and except are mutually exclusive"))
	}
	errs = append(errs, validatePatterns("branches.only", p.Branches.Only)...)
	errs = append(errs, validatePatterns("branches.except", p.Branches.Except)...)

	errs = append(errs, validateAssignments("env.global", p.Env.Global)...)
	errs = append(errs, validateAssignments("env.jobs", p.Env.Jobs)...)

	for i, af := range p.Matrix.AllowFailures {
		if af.Env == "" {
			errs = append(errs, fmt.Errorf("matrix.allow_failures[%d]: env is required", i))
			continue
		}
		if _, err := ParseAssignments(af.Env); err != nil {
			errs = append(errs, fmt.Errorf("matrix.allow_failures[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func validatePatterns(context string, patterns Strings) []error {
	var errs []error
	for i, pattern := range patterns {
		expr, ok := regexPattern(pattern)
		if !ok {
			continue
		}
		if _, err := regexp.Compile(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", context, i, err))
		}
	}
	return errs
}

func validateAssignments(context string, entries Strings) []error {
	var errs []error
	for i, entry := range entries {
		if _, err := ParseAssignments(entry); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", context, i, err))
		}
	}
	return errs
}

// Warnings reports non-fatal descriptor problems, currently top-level
// keys the parser doesn't know about.
func (p *Pipeline) Warnings() []string {
	if len(p.RemainingFields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p.RemainingFields))
	for k := range p.RemainingFields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	warnings := make([]string, 0, len(keys))
	for _, k := range keys {
		warnings = append(warnings, fmt.Sprintf("unknown configuration key %q", k))
	}
	return warnings
}
