package pipeline

import (
	"github.com/buildkite/interpolate"
)

// Interpolate expands ${VAR} and $VAR references in place throughout
// the descriptor's command lists, global env assignments, and cache
// and artifact paths. Branch filters, matrix entries and allow-failure
// selectors are left untouched: they match descriptor text, and matrix
// entries double as job names.
func (p *Pipeline) Interpolate(env interpolate.Env) error {
	lists := []Strings{
		p.Env.Global,
		p.BeforeInstall,
		p.Install,
		p.BeforeScript,
		p.Script,
		p.AfterSuccess,
		p.AfterFailure,
		p.AfterScript,
		p.Cache.Paths,
		p.Artifacts.Paths,
	}
	for _, l := range lists {
		if err := l.interpolate(env); err != nil {
			return err
		}
	}
	return nil
}

// interpolate expands each element in place.
func (s Strings) interpolate(env interpolate.Env) error {
	for i, str := range s {
		expanded, err := interpolate.Interpolate(env, str)
		if err != nil {
			return err
		}
		s[i] = expanded
	}
	return nil
}
