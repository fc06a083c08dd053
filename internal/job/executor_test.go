package job

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireBash skips tests that run generated Bash scripts.
func requireBash(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test requires bash")
	}
}

func newTestConfig(t *testing.T) ExecutorConfig {
	t.Helper()
	return ExecutorConfig{
		JobID:      "11111111-2222-3333-4444-555555555555",
		JobName:    "UNIT_TESTS=1",
		BuildID:    "99999999-8888-7777-6666-555555555555",
		RunnerName: "gantry-llama",
		Slug:       "gantry",
		Branch:     "master",
		Dir:        t.TempDir(),
		Stdout:     &bytes.Buffer{},
	}
}

func readFileString(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestExecutorRunsPhasesInOrder(t *testing.T) {
	t.Parallel()
	requireBash(t)

	conf := newTestConfig(t)
	conf.BeforeInstall = []string{"echo before_install >> order.log"}
	conf.Install = []string{
		"echo install-1 >> order.log",
		"echo install-2 >> order.log",
	}
	conf.BeforeScript = []string{"echo before_script >> order.log"}
	conf.Script = []string{"echo script >> order.log"}
	conf.AfterSuccess = []string{"echo after_success >> order.log"}
	conf.AfterFailure = []string{"echo after_failure >> order.log"}
	conf.AfterScript = []string{"echo after_script >> order.log"}

	res := New(conf).Run(context.Background())
	assert.Equal(t, StatePassed, res.State)
	assert.Equal(t, 0, res.ExitStatus)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	got := strings.Fields(readFileString(t, filepath.Join(conf.Dir, "order.log")))
	want := []string{
		"before_install",
		"install-1",
		"install-2",
		"before_script",
		"script",
		"after_success",
		"after_script",
	}
	assert.Equal(t, want, got)
}

func TestExecutorScriptFailure(t *testing.T) {
	t.Parallel()
	requireBash(t)

	conf := newTestConfig(t)
	conf.Install = []string{"echo install >> order.log"}
	conf.Script = []string{"exit 42"}
	conf.AfterSuccess = []string{"echo after_success >> order.log"}
	conf.AfterFailure = []string{"echo after_failure >> order.log"}
	conf.AfterScript = []string{"echo $GANTRY_TEST_RESULT > result.txt"}

	res := New(conf).Run(context.Background())
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 42, res.ExitStatus)

	got := strings.Fields(readFileString(t, filepath.Join(conf.Dir, "order.log")))
	assert.Equal(t, []string{"install", "after_failure"}, got)

	assert.Equal(t, "1", strings.TrimSpace(readFileString(t, filepath.Join(conf.Dir, "result.txt"))))
}

func TestExecutorInstallError(t *testing.T) {
	t.Parallel()
	requireBash(t)

	conf := newTestConfig(t)
	conf.Install = []string{"exit 7"}
	conf.Script = []string{"echo script >> order.log"}
	conf.AfterFailure = []string{"echo after_failure >> order.log"}
	conf.AfterScript = []string{"echo after_script >> order.log"}

	res := New(conf).Run(context.Background())
	assert.Equal(t, StateErrored, res.State)
	assert.Equal(t, 7, res.ExitStatus)

	// The job stops at the first install error. Nothing after it runs.
	_, err := os.Stat(filepath.Join(conf.Dir, "order.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecutorStopsAtFirstFailingCommand(t *testing.T) {
	t.Parallel()
	requireBash(t)

	conf := newTestConfig(t)
	conf.Script = []string{
		"echo one >> order.log",
		"false",
		"echo two >> order.log",
	}

	res := New(conf).Run(context.Background())
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.ExitStatus)

	got := strings.Fields(readFileString(t, filepath.Join(conf.Dir, "order.log")))
	assert.Equal(t, []string{"one"}, got)
}

func TestExecutorExportsBuildEnv(t *testing.T) {
	t.Parallel()
	requireBash(t)

	conf := newTestConfig(t)
	conf.JobEnv = []string{"CI_RETRIES=2", "UNIT_TESTS=1"}
	conf.Script = []string{
		`echo "$CI:$GANTRY:$GANTRY_JOB_NAME:$GANTRY_BRANCH:$CI_RETRIES:$UNIT_TESTS:${LINT_CODE-unset}" > env.txt`,
	}

	res := New(conf).Run(context.Background())
	require.Equal(t, StatePassed, res.State)

	got := strings.TrimSpace(readFileString(t, filepath.Join(conf.Dir, "env.txt")))
	assert.Equal(t, "true:true:UNIT_TESTS=1:master:2:1:unset", got)
}

func TestExecutorSavesAndRestoresCache(t *testing.T) {
	t.Parallel()
	requireBash(t)

	cacheDir := t.TempDir()
	cachedPath := filepath.Join(t.TempDir(), "deps")

	store, err := cache.New(logger.Discard, cache.Config{
		Dir:    cacheDir,
		Slug:   "gantry",
		Branch: "master",
	})
	require.NoError(t, err)

	conf := newTestConfig(t)
	conf.CacheStore = store
	conf.CachePaths = []string{cachedPath}
	conf.Install = []string{
		"mkdir -p " + cachedPath,
		"echo v1 > " + filepath.Join(cachedPath, "dep.txt"),
	}
	conf.Script = []string{"true"}

	res := New(conf).Run(context.Background())
	require.Equal(t, StatePassed, res.State)

	// Lose the path, then check the next build gets it back before the
	// script runs.
	require.NoError(t, os.RemoveAll(cachedPath))

	conf2 := newTestConfig(t)
	conf2.CacheStore = store
	conf2.CachePaths = []string{cachedPath}
	conf2.Script = []string{"test -f " + filepath.Join(cachedPath, "dep.txt")}

	res2 := New(conf2).Run(context.Background())
	assert.Equal(t, StatePassed, res2.State)
	assert.Equal(t, "v1", strings.TrimSpace(readFileString(t, filepath.Join(cachedPath, "dep.txt"))))
}

func TestExecutorCollectsArtifacts(t *testing.T) {
	t.Parallel()
	requireBash(t)

	conf := newTestConfig(t)
	conf.ArtifactDir = t.TempDir()
	conf.ArtifactPaths = []string{"reports/*.xml"}
	conf.Script = []string{
		"mkdir -p reports",
		"echo '<testsuite/>' > reports/junit.xml",
		"echo ignored > reports/notes.txt",
	}

	res := New(conf).Run(context.Background())
	require.Equal(t, StatePassed, res.State)

	assert.Equal(t, "<testsuite/>", strings.TrimSpace(readFileString(t, filepath.Join(conf.ArtifactDir, "reports", "junit.xml"))))
	_, err := os.Stat(filepath.Join(conf.ArtifactDir, "reports", "notes.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecutorCancelTwice(t *testing.T) {
	t.Parallel()

	e := New(newTestConfig(t))
	require.NoError(t, e.Cancel())
	require.Error(t, e.Cancel())
}

func TestExecutorHintsAtMissingCommand(t *testing.T) {
	t.Parallel()
	requireBash(t)

	out := &bytes.Buffer{}
	conf := newTestConfig(t)
	conf.Script = []string{"llama-grooming-simulator --full"}
	conf.Stdout = out

	res := New(conf).Run(context.Background())
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 127, res.ExitStatus)
	assert.Contains(t, out.String(), "A script command wasn't found")
	assert.Contains(t, out.String(), "--disable-warnings-for missing-command")
}

func TestExecutorMissingCommandHintDisabled(t *testing.T) {
	t.Parallel()
	requireBash(t)

	out := &bytes.Buffer{}
	conf := newTestConfig(t)
	conf.Script = []string{"llama-grooming-simulator --full"}
	conf.DisabledWarnings = []string{"missing-command"}
	conf.Stdout = out

	res := New(conf).Run(context.Background())
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, out.String(), "A script command wasn't found")
	assert.NotContains(t, out.String(), "--disable-warnings-for missing-command")
}
