package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// BranchFilter gates which branches trigger a build.
//
// Entries are exact branch names, except when written `/like-this/`,
// which compiles as an anchored regular expression.
type BranchFilter struct {
	Only   Strings `yaml:"only,omitempty"`
	Except Strings `yaml:"except,omitempty"`
}

// UnmarshalYAML accepts either the full mapping form, or a bare
// sequence or scalar, which is shorthand for `only`.
func (f *BranchFilter) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		type filterWrapper BranchFilter
		var w filterWrapper
		if err := n.Decode(&w); err != nil {
			return err
		}
		*f = BranchFilter(w)
		return nil

	case yaml.SequenceNode, yaml.ScalarNode:
		return n.Decode(&f.Only)

	default:
		return fmt.Errorf("line %d, col %d: unsupported YAML node kind %x for branch filter", n.Line, n.Column, n.Kind)
	}
}

// Match reports whether a build should run for branch. With `only`,
// the branch must match an entry; with `except`, it must match none.
// An empty filter matches every branch.
func (f *BranchFilter) Match(branch string) bool {
	if len(f.Only) > 0 {
		return matchAny(f.Only, branch)
	}
	if len(f.Except) > 0 {
		return !matchAny(f.Except, branch)
	}
	return true
}

func matchAny(patterns Strings, branch string) bool {
	for _, pattern := range patterns {
		if matchBranch(pattern, branch) {
			return true
		}
	}
	return false
}

func matchBranch(pattern, branch string) bool {
	expr, ok := regexPattern(pattern)
	if !ok {
		return pattern == branch
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		// Validate reports this; an unparseable pattern matches nothing.
		return false
	}
	return re.MatchString(branch)
}

// regexPattern reports whether a filter entry is written in /re/ form,
// and if so returns the anchored expression to compile.
func regexPattern(pattern string) (string, bool) {
	if len(pattern) < 2 || !strings.HasPrefix(pattern, "/") || !strings.HasSuffix(pattern, "/") {
		return "", false
	}
	return "^(?:" + pattern[1:len(pattern)-1] + ")$", true
}
