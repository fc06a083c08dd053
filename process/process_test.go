package process_test

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/gantryci/gantry/logger"
	"github.com/gantryci/gantry/process"
)

func TestProcessRunsAndSignalsStartedAndDone(t *testing.T) {
	var started, done int32

	p := process.New(logger.Discard, process.Config{
		Path: os.Args[0],
		Env:  []string{"TEST_MAIN=tester"},
	})

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		<-p.Started()
		atomic.AddInt32(&started, 1)
		<-p.Done()
		atomic.AddInt32(&done, 1)
	}()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	wg.Wait()

	if startedVal := atomic.LoadInt32(&started); startedVal != 1 {
		t.Errorf("started = %d, want 1", startedVal)
	}

	if doneVal := atomic.LoadInt32(&done); doneVal != 1 {
		t.Errorf("done = %d, want 1", doneVal)
	}

	if got, want := p.WaitStatus().ExitStatus(), 0; got != want {
		t.Errorf("p.WaitStatus().ExitStatus() = %d, want %d", got, want)
	}

	if err := p.WaitResult(); err != nil {
		t.Errorf("p.WaitResult() = %v, want nil", err)
	}
}

func TestProcessSeparatesOutputStreams(t *testing.T) {
	stdout := &process.Buffer{}
	stderr := &process.Buffer{}

	p := process.New(logger.Discard, process.Config{
		Path:   os.Args[0],
		Env:    []string{"TEST_MAIN=output"},
		Stdout: stdout,
		Stderr: stderr,
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	if got, want := string(stdout.ReadAndTruncate()), "llamas1\nllamas2\r\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}

	if got, want := string(stderr.ReadAndTruncate()), "alpacas1\ralpacas2\n"; got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestProcessCapturesOutputLineByLine(t *testing.T) {
	out := &process.Buffer{}

	p := process.New(logger.Discard, process.Config{
		Path:   os.Args[0],
		Env:    []string{"TEST_MAIN=tester"},
		Stdout: out,
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	var lines []string
	scanner := process.NewScanner(logger.Discard)
	err := scanner.ScanLines(strings.NewReader(string(out.ReadAndTruncate())), func(l string) {
		lines = append(lines, l)
	})
	if err != nil {
		t.Fatalf("scanner.ScanLines() error = %v", err)
	}

	want := strings.Split(strings.TrimSuffix(longTestOutput, "\n"), "\n")
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestProcessInterrupts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Works in windows, but not in docker")
	}

	out := &process.Buffer{}

	p := process.New(logger.Discard, process.Config{
		Path:   os.Args[0],
		Env:    []string{"TEST_MAIN=tester-signal"},
		Stdout: out,
	})

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		<-p.Started()

		// give the signal handler some time to install
		time.Sleep(time.Millisecond * 50)

		if err := p.Interrupt(); err != nil {
			t.Errorf("p.Interrupt() error = %v", err)
		}
	}()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	wg.Wait()

	output := string(out.ReadAndTruncate())
	if got, want := output, "Ready\nSIG terminated"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestProcessInterruptsWithCustomSignal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Works in windows, but not in docker")
	}

	out := &process.Buffer{}

	p := process.New(logger.Discard, process.Config{
		Path:            os.Args[0],
		Env:             []string{"TEST_MAIN=tester-signal"},
		Stdout:          out,
		InterruptSignal: process.SIGINT,
	})

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		<-p.Started()

		time.Sleep(time.Millisecond * 50)

		if err := p.Interrupt(); err != nil {
			t.Errorf("p.Interrupt() error = %v", err)
		}
	}()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	wg.Wait()

	output := string(out.ReadAndTruncate())
	if got, want := output, "Ready\nSIG interrupt"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestProcessCancellationEscalatesToKill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Process groups not supported on windows")
	}

	p := process.New(logger.Discard, process.Config{
		Path:              os.Args[0],
		Env:               []string{"TEST_MAIN=tester-slow-handler"},
		Stdout:            &process.Buffer{},
		SignalGracePeriod: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-p.Started()
		time.Sleep(time.Millisecond * 50)
		cancel()
	}()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	ws := p.WaitStatus()
	if !ws.Signaled() {
		t.Fatalf("p.WaitStatus().Signaled() = false, want true")
	}
	if got, want := ws.Signal(), syscall.SIGKILL; got != want {
		t.Errorf("p.WaitStatus().Signal() = %v, want %v", got, want)
	}
}

func TestProcessSetsProcessGroupID(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Process groups not supported on windows")
	}

	p := process.New(logger.Discard, process.Config{
		Path: os.Args[0],
		Env:  []string{"TEST_MAIN=tester-pgid"},
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	if got, want := p.WaitStatus().ExitStatus(), 0; got != want {
		t.Errorf("p.WaitStatus().ExitStatus() = %d, want %d", got, want)
	}
}

func TestProcessRunTwiceFails(t *testing.T) {
	p := process.New(logger.Discard, process.Config{
		Path: os.Args[0],
		Env:  []string{"TEST_MAIN=tester"},
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("p.Run() error = %v", err)
	}

	if err := p.Run(context.Background()); err == nil {
		t.Errorf("second p.Run() expected error, got nil")
	}
}
