package cpi

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"unicode/utf8"
)

// execResult is one subprocess outcome.
type execResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// runShell hands one opaque command line to the host shell and blocks
// until it terminates. The command line is not parsed or validated here;
// the shell owns its syntax. There is no timeout: a hung subprocess hangs
// the caller.
func runShell(commandLine string) (*execResult, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/C", commandLine)
	} else {
		cmd = exec.Command("sh", "-c", commandLine)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %v", ErrProcessSpawn, err)
		}
	}

	if !utf8.Valid(stdout.Bytes()) || !utf8.Valid(stderr.Bytes()) {
		return nil, fmt.Errorf("%w: subprocess output is not valid UTF-8", ErrOutputDecode)
	}

	return &execResult{
		exitCode: cmd.ProcessState.ExitCode(),
		stdout:   stdout.String(),
		stderr:   stderr.String(),
	}, nil
}
