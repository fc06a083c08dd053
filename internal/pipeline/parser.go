package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyPipeline is returned by Parse when the source contains no
// YAML document at all.
var ErrEmptyPipeline = errors.New("pipeline descriptor is empty")

// Parse parses a pipeline descriptor. It does not apply interpolation
// or validation; see Interpolate and Validate.
func Parse(src io.Reader) (*Pipeline, error) {
	p := new(Pipeline)
	if err := yaml.NewDecoder(src).Decode(p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyPipeline
		}
		return nil, formatYAMLError(err)
	}
	return p, nil
}

// ParseFile parses the descriptor at path, usually DefaultFilename in
// the repository root.
func ParseFile(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // File only open for read.

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, nil
}

func formatYAMLError(err error) error {
	return errors.New(strings.TrimPrefix(err.Error(), "yaml: "))
}
