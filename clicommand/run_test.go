package clicommand

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gantryci/gantry/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDescriptor(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".gantry.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func testRunConfig(file string) RunConfig {
	return RunConfig{
		File:                     file,
		Branch:                   "master",
		Slug:                     "test-pipeline",
		Concurrency:              1,
		NoCache:                  true,
		NoHistory:                true,
		NoPTY:                    true,
		CancelSignal:             "SIGTERM",
		SignalGracePeriodSeconds: 1,
	}
}

func TestRunBuildPasses(t *testing.T) {
	file := writeDescriptor(t, `
branches: [master]
env:
  jobs:
    - GREETING=hello
script:
  - test "$GREETING" = hello
`)

	err := runBuild(context.Background(), testRunConfig(file), logger.NewBuffer())
	assert.NoError(t, err)
}

func TestRunBuildSkipsFilteredBranch(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	file := writeDescriptor(t, `
branches: [master]
script:
  - touch `+marker+`
`)

	cfg := testRunConfig(file)
	cfg.Branch = "feature/llamas"

	err := runBuild(context.Background(), cfg, logger.NewBuffer())
	assert.NoError(t, err)
	assert.NoFileExists(t, marker, "the script phase ran on a filtered branch")
}

func TestRunBuildFailureExitCode(t *testing.T) {
	file := writeDescriptor(t, `
script:
  - "false"
`)

	err := runBuild(context.Background(), testRunConfig(file), logger.NewBuffer())

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code())
}

func TestRunBuildErroredInstallExitCode(t *testing.T) {
	file := writeDescriptor(t, `
install:
  - "false"
script:
  - "true"
`)

	err := runBuild(context.Background(), testRunConfig(file), logger.NewBuffer())

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code())
}

func TestRunBuildAllowedFailureStillPasses(t *testing.T) {
	file := writeDescriptor(t, `
env:
  jobs:
    - UNIT_TESTS=1
    - FULL_TYPING=1
matrix:
  allow_failures:
    - env: FULL_TYPING=1
script:
  - test "$FULL_TYPING" != 1
`)

	err := runBuild(context.Background(), testRunConfig(file), logger.NewBuffer())
	assert.NoError(t, err)
}

func TestRunBuildInvalidDescriptor(t *testing.T) {
	file := writeDescriptor(t, `
language: python
`)

	err := runBuild(context.Background(), testRunConfig(file), logger.NewBuffer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pipeline")
}

func TestGitBranch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "--initial-branch=trunk", "."},
		{"config", "user.email", "llamas@example.com"},
		{"config", "user.name", "Test Llama"},
		{"commit", "--allow-empty", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	t.Chdir(dir)

	branch, err := gitBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)
}

func TestGitBranchOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	t.Chdir(t.TempDir())

	_, err := gitBranch(context.Background())
	assert.Error(t, err)
}

func TestDefaultSlug(t *testing.T) {
	tests := []struct {
		repository string
		want       string
	}{
		{"https://github.com/acme/widgets.git", "widgets"},
		{"git@github.com:acme/widgets.git", "widgets"},
		{"/srv/repos/widgets/", "widgets"},
	}

	for _, test := range tests {
		if got := defaultSlug(test.repository); got != test.want {
			t.Errorf("defaultSlug(%q) = %q, want %q", test.repository, got, test.want)
		}
	}
}

func TestRunBuildUnparseableCancelSignal(t *testing.T) {
	file := writeDescriptor(t, `
script:
  - "true"
`)

	cfg := testRunConfig(file)
	cfg.CancelSignal = "SIGLLAMA"

	err := runBuild(context.Background(), cfg, logger.NewBuffer())
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*ExitError)), "a config error shouldn't carry a build exit code")
}
