package pipeline

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	p := &Pipeline{
		Branches: BranchFilter{Only: Strings{"master", "/release-.*/"}},
		Env: Env{
			Global: Strings{"CI_RETRIES=2"},
			Jobs:   Strings{"LINT_CODE=1", "FULL_TYPING=1"},
		},
		Matrix: Matrix{
			AllowFailures: []AllowFailure{{Env: "FULL_TYPING=1"}},
		},
		Script: Strings{"ci/ci_test.sh"},
	}
	if err := p.Validate(); err != nil {
		t.Errorf("p.Validate() = %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc     string
		pipeline *Pipeline
		want     []string
	}{
		{
			desc:     "No script commands",
			pipeline: &Pipeline{},
			want:     []string{"script: at least one command is required"},
		},
		{
			desc: "Only and except together",
			pipeline: &Pipeline{
				Branches: BranchFilter{
					Only:   Strings{"master"},
					Except: Strings{"wip"},
				},
				Script: Strings{"ci/ci_test.sh"},
			},
			want: []string{"branches: only and except are mutually exclusive"},
		},
		{
			desc: "Bad branch regex",
			pipeline: &Pipeline{
				Branches: BranchFilter{Only: Strings{"/*bad/"}},
				Script:   Strings{"ci/ci_test.sh"},
			},
			want: []string{"branches.only[0]"},
		},
		{
			desc: "Bad global env entry",
			pipeline: &Pipeline{
				Env:    Env{Global: Strings{"NOT AN ASSIGNMENT"}},
				Script: Strings{"ci/ci_test.sh"},
			},
			want: []string{"env.global[0]"},
		},
		{
			desc: "Bad matrix entry",
			pipeline: &Pipeline{
				Env:    Env{Jobs: Strings{"LINT_CODE=1", "=broken"}},
				Script: Strings{"ci/ci_test.sh"},
			},
			want: []string{"env.jobs[1]"},
		},
		{
			desc: "Allow failures without env",
			pipeline: &Pipeline{
				Matrix: Matrix{AllowFailures: []AllowFailure{{}}},
				Script: Strings{"ci/ci_test.sh"},
			},
			want: []string{"matrix.allow_failures[0]: env is required"},
		},
		{
			desc: "Unparseable allow failures env",
			pipeline: &Pipeline{
				Matrix: Matrix{AllowFailures: []AllowFailure{{Env: "broken"}}},
				Script: Strings{"ci/ci_test.sh"},
			},
			want: []string{"matrix.allow_failures[0]"},
		},
		{
			desc: "Several problems reported together",
			pipeline: &Pipeline{
				Branches: BranchFilter{
					Only:   Strings{"master"},
					Except: Strings{"wip"},
				},
			},
			want: []string{
				"script: at least one command is required",
				"branches: only and except are mutually exclusive",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			t.Parallel()
			err := test.pipeline.Validate()
			if err == nil {
				t.Fatalf("pipeline.Validate() = %v, want non-nil error", err)
			}
			for _, want := range test.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("pipeline.Validate() = %q, want substring %q", err, want)
				}
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	p := &Pipeline{
		Script: Strings{"ci/ci_test.sh"},
		RemainingFields: map[string]any{
			"sudo": false,
			"dist": "xenial",
		},
	}

	want := []string{
		`unknown configuration key "dist"`,
		`unknown configuration key "sudo"`,
	}
	if diff := cmp.Diff(p.Warnings(), want); diff != "" {
		t.Errorf("p.Warnings() diff (-got +want):\n%s", diff)
	}

	empty := &Pipeline{Script: Strings{"ci/ci_test.sh"}}
	if got := empty.Warnings(); got != nil {
		t.Errorf("empty.Warnings() = %v, want nil", got)
	}
}
