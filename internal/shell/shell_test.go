package shell_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gantryci/gantry/internal/replacer"
	"github.com/gantryci/gantry/internal/shell"
	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

func TestRunAndCaptureStdout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// WithPTY(true) should be overridden by RunAndCaptureStdout.
	sh := newShellForTest(t, shell.WithPTY(true))

	got, err := sh.Command("echo", "Llama party! 🎉").RunAndCaptureStdout(ctx)
	if err != nil {
		t.Errorf(`sh.Command("echo", "Llama party! 🎉").RunAndCaptureStdout(ctx) error = %v`, err)
	}

	if want := "Llama party! 🎉"; got != want {
		t.Errorf(`sh.Command("echo", "Llama party! 🎉").RunAndCaptureStdout(ctx) output = %q, want %q`, got, want)
	}
}

func TestRunAndCaptureStdoutWithExitCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sh := newShellForTest(t, shell.WithPTY(false))

	_, err := sh.Command("bash", "-c", "exit 24").RunAndCaptureStdout(ctx)
	if err == nil {
		t.Errorf(`sh.Command("bash", "-c", "exit 24").RunAndCaptureStdout(ctx) error = %v, want non-nil error`, err)
	}

	if got, want := shell.ExitCode(err), 24; got != want {
		t.Errorf("shell.ExitCode(%v) = %d, want %d", err, got, want)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	out := &bytes.Buffer{}

	sh := newShellForTest(t,
		shell.WithLogger(shell.NewWriterLogger(out, false, nil)),
		shell.WithStdout(out),
		shell.WithPTY(false),
	)

	if err := sh.Command("echo", "Llama party! 🎉").Run(ctx); err != nil {
		t.Errorf(`sh.Command("echo", "Llama party! 🎉").Run(ctx) error = %v`, err)
	}

	promptPrefix := "$"
	if runtime.GOOS == "windows" {
		promptPrefix = ">"
	}

	want := promptPrefix + " echo \"Llama party! 🎉\"\nLlama party! 🎉\n"
	if diff := cmp.Diff(out.String(), want); diff != "" {
		t.Fatalf("sh.Writer diff (-got +want):\n%s", diff)
	}
}

func TestRunWithStdin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	out := &bytes.Buffer{}
	sh := newShellForTest(t, shell.WithStdout(out), shell.WithPTY(false))
	cmd := sh.CloneWithStdin(strings.NewReader("hello stdin")).Command("tr", "hs", "HS")
	if err := cmd.Run(ctx); err != nil {
		t.Fatalf(`sh.CloneWithStdin("hello stdin").Command("tr", "hs", "HS").Run(ctx) error = %v`, err)
	}
	if got, want := out.String(), "Hello Stdin"; want != got {
		t.Errorf(`sh.CloneWithStdin("hello stdin").Command("tr", "hs", "HS").Run(ctx) output = %q, want %q`, got, want)
	}
}

func TestContextCancelTerminates(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("Not supported in windows")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sh, err := shell.New()
	if err != nil {
		t.Fatalf("shell.New() error = %v", err)
	}

	sh.Logger = shell.DiscardLogger

	cancel()

	if err := sh.Command("sleep", "60").Run(ctx); !shell.IsExitSignaled(err) {
		t.Errorf("sh.Command(sleep, 60).Run(ctx) error = %v, want shell.IsExitSignaled(err) = true", err)
	}
}

func TestInterrupt(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("Not supported in windows")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sh, err := shell.New()
	if err != nil {
		t.Fatalf("shell.New() error = %v", err)
	}

	sh.Logger = shell.DiscardLogger

	// interrupt the process after 50ms
	go func() {
		<-time.After(time.Millisecond * 50)
		sh.Interrupt()
	}()

	if err := sh.Command("sleep", "10").Run(ctx); err == nil {
		t.Errorf("sh.Command(sleep, 10).Run(ctx) = %v, want non-nil error", err)
	}
}

func TestDefaultWorkingDirFromSystem(t *testing.T) {
	t.Parallel()

	sh, err := shell.New()
	if err != nil {
		t.Fatalf("shell.New() error = %v", err)
	}

	want, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd() error = %v", err)
	}
	if got := sh.Getwd(); got != want {
		t.Fatalf("sh.Getwd() = %q, want %q", got, want)
	}
}

func TestWorkingDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tempDir, err := os.MkdirTemp("", "shelltest")
	if err != nil {
		t.Fatalf(`os.MkdirTemp("", "shelltest") error = %v`, err)
	}
	t.Cleanup(func() {
		os.RemoveAll(tempDir) //nolint:errcheck // Best-effort cleanup.
	})

	// macos has a symlinked temp dir
	if runtime.GOOS == "darwin" {
		td, err := filepath.EvalSymlinks(tempDir)
		if err != nil {
			t.Fatalf("filepath.EvalSymlinks(tempDir) error = %v", err)
		}
		tempDir = td
	}

	dirs := []string{tempDir, "my", "test", "dirs"}

	if err := os.MkdirAll(filepath.Join(dirs...), 0o700); err != nil {
		t.Fatalf("os.MkdirAll(dirs, 0o700) = %v", err)
	}

	currentWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd() error = %v", err)
	}

	sh, err := shell.New()
	if err != nil {
		t.Fatalf("shell.New() error = %v", err)
	}

	sh.Logger = shell.DiscardLogger

	for idx := range dirs {
		dir := filepath.Join(dirs[:idx+1]...)

		if err := sh.Chdir(dir); err != nil {
			t.Fatalf("sh.Chdir(%q) = %v", dir, err)
		}

		if got, want := sh.Getwd(), dir; got != want {
			t.Fatalf("sh.Getwd() = %q, want %q", got, want)
		}

		var pwd string

		// there is no pwd for windows, and getting it requires using a shell builtin
		if runtime.GOOS == "windows" {
			out, err := sh.Command("cmd", "/c", "echo", "%cd%").RunAndCaptureStdout(ctx)
			if err != nil {
				t.Fatalf("sh.Command(cmd /c echo %%cd%%).RunAndCaptureStdout(ctx) error = %v", err)
			}
			pwd = out
		} else {
			out, err := sh.Command("pwd").RunAndCaptureStdout(ctx)
			if err != nil {
				t.Fatalf("sh.Command(pwd).RunAndCaptureStdout(ctx) error = %v", err)
			}
			pwd = out
		}

		if got, want := pwd, dir; got != want {
			t.Fatalf("sh.Command(pwd or equivalent).RunAndCaptureStdout(ctx) = %q, want %q", got, want)
		}
	}

	afterWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd() error = %v", err)
	}
	if got, want := afterWd, currentWd; got != want {
		// Expect working dir to be the same as before shell commands ran.
		t.Fatalf("os.Getwd() = %q, want %q", got, want)
	}
}

func TestLockFileRetriesAndTimesOut(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("Flakey on windows")
	}

	dir, err := os.MkdirTemp("", "TestLockFileRetriesAndTimesOut")
	if err != nil {
		t.Fatalf(`os.MkdirTemp("", "TestLockFileRetriesAndTimesOut") error = %v`, err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir) //nolint:errcheck // Best-effort cleanup.
	})

	sh := newShellForTest(t,
		shell.WithStdout(io.Discard),
		shell.WithPTY(false),
	)

	lockPath := filepath.Join(dir, "my.lock")

	cmd := acquireLockInOtherProcess(t, lockPath)
	defer func() { assert.NilError(t, cmd.Process.Kill()) }()

	ctx, canc := context.WithTimeout(context.Background(), 2*time.Second)
	defer canc()

	lock, err := sh.LockFile(ctx, lockPath)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, lock, nil)
}

func acquireLockInOtherProcess(t *testing.T, lockfile string) *exec.Cmd {
	t.Helper()

	t.Logf("acquiring lock in other process: %s", lockfile)

	done := make(chan struct{})
	search := replacer.New(os.Stderr, []string{"🔒 Acquired lock"}, func(b []byte) []byte {
		t.Logf("✅ Acquired lock in other process!")
		close(done)
		return b
	})

	cmd := exec.Command(os.Args[0], "--", lockfile)
	cmd.Env = []string{"TEST_MAIN_WANT_HELPER_PROCESS=1"}
	cmd.Stdout = os.Stdout
	cmd.Stderr = search

	err := cmd.Start()
	assert.NilError(t, err)

	// Wait for the above process to get a lock.
	// Lock files are a two-step process (open, then flock), so watching for
	// the file to exist is not enough; wait for the child to say so instead.
	<-done

	return cmd
}

func newShellForTest(t *testing.T, opts ...shell.NewShellOpt) *shell.Shell {
	t.Helper()
	sh, err := shell.New(opts...)
	if err != nil {
		t.Fatalf("shell.New() error = %v", err)
	}
	return sh
}

func TestRunWithStringSearch(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name            string
		stringsToSearch []string
		command         []string
		output          string
		stringsInOutput []string
	}{
		{
			name:            "finds_stdout",
			stringsToSearch: []string{"hi"},
			command:         []string{"bash", "-ec", "echo hi; false"},
			output:          "hi\n",
			stringsInOutput: []string{"hi"},
		},
		{
			name:            "finds_stderr",
			stringsToSearch: []string{"hi"},
			command:         []string{"bash", "-ec", "echo hi >&2; false"},
			output:          "hi\n",
			stringsInOutput: []string{"hi"},
		},
		{
			name:            "finds_infix",
			stringsToSearch: []string{"hi"},
			command:         []string{"bash", "-ec", "echo lorem ipsum; echo hi; echo bye; false"},
			output:          "lorem ipsum\nhi\nbye\n",
			stringsInOutput: []string{"hi"},
		},
		{
			name:            "finds_infix_inline",
			stringsToSearch: []string{"hi"},
			command:         []string{"bash", "-ec", "echo lorem hipsum; echo bye; false"},
			output:          "lorem hipsum\nbye\n",
			stringsInOutput: []string{"hi"},
		},
		{
			name:            "finds_partial",
			stringsToSearch: []string{"ar"},
			command:         []string{"bash", "-ec", "echo hi, how are you; false"},
			output:          "hi, how are you\n",
			stringsInOutput: []string{"ar"},
		},
		{
			name:            "no_match",
			stringsToSearch: []string{"hi"},
			command:         []string{"bash", "-ec", "echo bye, how were you; false"},
			output:          "bye, how were you\n",
			stringsInOutput: []string{},
		},
		{
			name:            "multiple_strings",
			stringsToSearch: []string{"bye", "how"},
			command:         []string{"bash", "-ec", "echo bye, how were you; false"},
			output:          "bye, how were you\n",
			stringsInOutput: []string{"bye", "how"},
		},
		{
			name:            "finds_when_exit_0",
			stringsToSearch: []string{"how"},
			command:         []string{"bash", "-ec", "echo hi, how are you?"},
			output:          "hi, how are you?\n",
			stringsInOutput: []string{"how"},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			out := &bytes.Buffer{}
			sh, err := shell.New(shell.WithStdout(out))
			assert.NilError(t, err)
			sh.Logger = shell.DiscardLogger

			found := make(map[string]bool)
			for _, s := range test.stringsToSearch {
				found[s] = false
			}

			err = sh.Command(test.command[0], test.command[1:]...).Run(
				ctx,
				shell.ShowPrompt(false),
				shell.WithStringSearch(found),
			)
			if err != nil && !shell.IsExitError(err) {
				assert.NilError(t, err)
			}

			if diff := cmp.Diff(out.String(), test.output); diff != "" {
				t.Errorf("stdout diff (-got +want):\n%s", diff)
			}

			for _, s := range test.stringsInOutput {
				if ok := found[s]; !ok {
					t.Errorf("found[%q] = %t, want true", s, ok)
				}
				delete(found, s)
			}
			for s, ok := range found {
				if ok {
					t.Errorf("found[%q] = %t, want false", s, ok)
				}
			}
		})
	}
}

func TestRunWithoutPrompt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	out := &bytes.Buffer{}
	sh, err := shell.New(shell.WithStdout(out))
	if err != nil {
		t.Fatalf("shell.New() error = %v", err)
	}

	if err := sh.Command("echo", "hi").Run(ctx, shell.ShowPrompt(false)); err != nil {
		t.Fatalf(`sh.Command("echo", "hi").Run(ctx, shell.ShowPrompt(false)) = %v`, err)
	}
	if got, want := out.String(), "hi\n"; got != want {
		t.Errorf(`sh.Command("echo", "hi").Run(ctx, shell.ShowPrompt(false)) output = %q, want %q`, got, want)
	}

	out.Reset()
	if err := sh.Command("asdasdasdasdzxczxczxzxc").Run(ctx, shell.ShowPrompt(false)); err == nil {
		t.Errorf("sh.Command(asdasdasdasdzxczxczxzxc).Run(ctx, shell.ShowPrompt(false)) = %v, want non-nil error", err)
	}
}

func TestRound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      time.Duration
		want    time.Duration
		wantStr string
	}{
		{3 * time.Nanosecond, 3 * time.Nanosecond, "3ns"},
		{32 * time.Nanosecond, 32 * time.Nanosecond, "32ns"},
		{321 * time.Nanosecond, 321 * time.Nanosecond, "321ns"},
		{4321 * time.Nanosecond, 4321 * time.Nanosecond, "4.321µs"},
		{54321 * time.Nanosecond, 54321 * time.Nanosecond, "54.321µs"},
		{654321 * time.Nanosecond, 654320 * time.Nanosecond, "654.32µs"},
		{7654321 * time.Nanosecond, 7654300 * time.Nanosecond, "7.6543ms"},
		{87654321 * time.Nanosecond, 87654000 * time.Nanosecond, "87.654ms"},
		{987654321 * time.Nanosecond, 987650000 * time.Nanosecond, "987.65ms"},
		{1987654321 * time.Nanosecond, 1987700000 * time.Nanosecond, "1.9877s"},
		{21987654321 * time.Nanosecond, 21988000000 * time.Nanosecond, "21.988s"},
		{321987654321 * time.Nanosecond, 321990000000 * time.Nanosecond, "5m21.99s"},
		{4321987654321 * time.Nanosecond, 4320000000000 * time.Nanosecond, "1h12m0s"},
		{54321987654321 * time.Nanosecond, 54320000000000 * time.Nanosecond, "15h5m20s"},
	}

	for _, tt := range tests {
		t.Run(tt.wantStr, func(t *testing.T) {
			t.Parallel()
			got := shell.Round(tt.in)
			if got != tt.want {
				t.Errorf("shell.Round(%v): got %v, want %v", tt.in, got, tt.want)
			}
			if got.String() != tt.wantStr {
				t.Errorf("shell.Round(%v): got %q, want %v", tt.in, got.String(), tt.wantStr)
			}
		})
	}
}

func TestRunScriptWithStringSearch(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("test requires bash")
	}
	ctx := context.Background()

	script := filepath.Join(t.TempDir(), "script.sh")
	contents := "#!/bin/bash\necho first\necho danger noodle >&2\n"
	if err := os.WriteFile(script, []byte(contents), 0o755); err != nil {
		t.Fatalf("os.WriteFile(script) error = %v", err)
	}

	out := &bytes.Buffer{}
	sh, err := shell.New(shell.WithStdout(out))
	assert.NilError(t, err)
	sh.Logger = shell.DiscardLogger

	found := map[string]bool{"danger noodle": false, "absent": false}
	err = sh.RunScript(ctx, script, nil, shell.WithStringSearch(found))
	assert.NilError(t, err)

	want := map[string]bool{"danger noodle": true, "absent": false}
	if diff := cmp.Diff(found, want); diff != "" {
		t.Errorf("found strings diff (-got +want):\n%s", diff)
	}

	if got := out.String(); !strings.Contains(got, "first") {
		t.Errorf("output = %q, want to contain %q", got, "first")
	}
}
