package job

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/gantryci/gantry/internal/osutil"
	"github.com/gantryci/gantry/internal/shell"
)

// writeScriptFile renders the commands of one phase into an executable
// script on disk and returns its path. The caller is responsible for
// removing the file.
func writeScriptFile(phase string, commands []string) (string, error) {
	suffix, contents := ".sh", renderPosixScript(commands)
	if runtime.GOOS == "windows" {
		suffix, contents = ".bat", renderBatchScript(commands)
	}

	f, err := os.CreateTemp("", "gantry-"+phase+"-*"+suffix)
	if err != nil {
		return "", err
	}

	if _, err := io.WriteString(f, contents); err != nil {
		f.Close() //nolint:errcheck // Already failing.
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if err := osutil.ChmodExecutable(f.Name()); err != nil {
		return "", err
	}

	return f.Name(), nil
}

// renderPosixScript generates a Bash script that echoes each command in
// dark gray before running it, stopping at the first failure.
func renderPosixScript(commands []string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	sb.WriteString("set -e\n")

	for _, command := range commands {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "printf '\\033[90m$ %%s\\033[0m\\n' %s\n", shellwords.QuotePosix(command))
		sb.WriteString(command + "\n")
	}

	return sb.String()
}

// renderBatchScript is the CMD.EXE equivalent of renderPosixScript.
// CMD.EXE can't stop at the first failing line on its own, so every
// command is followed by an errorlevel check.
func renderBatchScript(commands []string) string {
	lines := []string{"@echo off"}

	for _, command := range commands {
		lines = append(lines, "echo "+shell.BatchEscape("$ "+command))
		if shouldCallBatchLine(command) {
			lines = append(lines, "call "+command)
		} else {
			lines = append(lines, command)
		}
		lines = append(lines, "if %errorlevel% neq 0 exit /b %errorlevel%")
	}

	return strings.Join(lines, "\n") + "\n"
}

// If a line runs another batch script, it must be prefixed with `call` so
// that the second batch script doesn't early exit our calling script.
//
// See https://www.robvanderwoude.com/call.php
func shouldCallBatchLine(line string) bool {
	elements := strings.Fields(strings.TrimSpace(line))
	if len(elements) < 1 {
		return false
	}

	first := strings.ToLower(elements[0])
	return strings.HasSuffix(first, ".bat") || strings.HasSuffix(first, ".cmd")
}
