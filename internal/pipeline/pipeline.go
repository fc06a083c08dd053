// Package pipeline parses, validates and expands .gantry.yml pipeline
// descriptors.
//
// A descriptor is parsed once with Parse, optionally interpolated with
// Interpolate, checked with Validate, and finally expanded into
// runnable jobs with Jobs. Parsing is deliberately forgiving about
// shape: several fields accept either a scalar or a sequence, and
// `branches`, `env` and `cache` accept a bare sequence as shorthand
// for their most common key.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultFilename is where a repository declares its pipeline.
const DefaultFilename = ".gantry.yml"

// Pipeline models a parsed pipeline descriptor.
type Pipeline struct {
	Language string `yaml:"language,omitempty"`
	Version  string `yaml:"version,omitempty"`

	Branches BranchFilter `yaml:"branches,omitempty"`
	Env      Env          `yaml:"env,omitempty"`
	Matrix   Matrix       `yaml:"matrix,omitempty"`
	Cache    Cache        `yaml:"cache,omitempty"`

	BeforeInstall Strings `yaml:"before_install,omitempty"`
	Install       Strings `yaml:"install,omitempty"`
	BeforeScript  Strings `yaml:"before_script,omitempty"`
	Script        Strings `yaml:"script,omitempty"`
	AfterSuccess  Strings `yaml:"after_success,omitempty"`
	AfterFailure  Strings `yaml:"after_failure,omitempty"`
	AfterScript   Strings `yaml:"after_script,omitempty"`

	Artifacts Artifacts `yaml:"artifacts,omitempty"`

	// RemainingFields collects top-level keys the parser doesn't know
	// about, so Warnings can report them.
	RemainingFields map[string]any `yaml:",inline"`
}

// UnmarshalYAML unmarshals a pipeline descriptor, which must be a
// mapping at the top level.
func (p *Pipeline) UnmarshalYAML(n *yaml.Node) error {
	// In case we are handed a whole document, unwrap it first.
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) != 1 {
			return fmt.Errorf("line %d, col %d: empty document", n.Line, n.Column)
		}
		n = n.Content[0]
	}

	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d, col %d: unsupported YAML node kind %x for pipeline descriptor", n.Line, n.Column, n.Kind)
	}

	// Decode into a wrapper type so that this method doesn't recurse
	// infinitely.
	type pipelineWrapper Pipeline
	var q pipelineWrapper
	if err := n.Decode(&q); err != nil {
		return err
	}
	*p = Pipeline(q)
	return nil
}

// Env holds the environment configuration: vars shared by every job,
// and the matrix entries that each become one job.
type Env struct {
	Global Strings `yaml:"global,omitempty"`
	Jobs   Strings `yaml:"jobs,omitempty"`
}

// UnmarshalYAML accepts either the full mapping form, or a bare
// sequence or scalar, which is shorthand for `jobs`.
func (e *Env) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		type envWrapper Env
		var w envWrapper
		if err := n.Decode(&w); err != nil {
			return err
		}
		*e = Env(w)
		return nil

	case yaml.SequenceNode, yaml.ScalarNode:
		return n.Decode(&e.Jobs)

	default:
		return fmt.Errorf("line %d, col %d: unsupported YAML node kind %x for env", n.Line, n.Column, n.Kind)
	}
}

// Cache declares which directories persist between builds.
type Cache struct {
	Paths Strings `yaml:"paths,omitempty"`
}

// UnmarshalYAML accepts either the mapping form or a bare sequence,
// which is shorthand for `paths`.
func (c *Cache) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		type cacheWrapper Cache
		var w cacheWrapper
		if err := n.Decode(&w); err != nil {
			return err
		}
		*c = Cache(w)
		return nil

	case yaml.SequenceNode:
		return n.Decode(&c.Paths)

	default:
		return fmt.Errorf("line %d, col %d: unsupported YAML node kind %x for cache", n.Line, n.Column, n.Kind)
	}
}

// Artifacts declares glob patterns collected after the script phase.
type Artifacts struct {
	Paths Strings `yaml:"paths,omitempty"`
}

// UnmarshalYAML accepts either the mapping form or a bare sequence,
// which is shorthand for `paths`.
func (a *Artifacts) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		type artifactsWrapper Artifacts
		var w artifactsWrapper
		if err := n.Decode(&w); err != nil {
			return err
		}
		*a = Artifacts(w)
		return nil

	case yaml.SequenceNode:
		return n.Decode(&a.Paths)

	default:
		return fmt.Errorf("line %d, col %d: unsupported YAML node kind %x for artifacts", n.Line, n.Column, n.Kind)
	}
}
