package cpi

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by Execute. Config, spawn, and decode failures
// wrap one of these sentinels; non-zero exits are reported through
// *CommandError and *PostExecError. All of them are terminal: the engine
// never retries a step.
var (
	// ErrConfigNotFound indicates the CPI config file is missing or unreadable.
	ErrConfigNotFound = errors.New("cpi config not found")

	// ErrConfigParse indicates malformed JSON or a missing top-level "actions" object.
	ErrConfigParse = errors.New("cpi config parse error")

	// ErrActionNotDefined indicates the requested command tag has no entry under "actions".
	ErrActionNotDefined = errors.New("action not defined")

	// ErrProcessSpawn indicates the shell interpreter could not be launched.
	ErrProcessSpawn = errors.New("process spawn error")

	// ErrOutputDecode indicates subprocess output was not valid UTF-8.
	ErrOutputDecode = errors.New("output decode error")
)

// CommandError reports a main command that ran but exited non-zero.
// Stderr carries the captured stderr text verbatim.
type CommandError struct {
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command exited with status %d: %s", e.ExitCode, e.Stderr)
}

// PostExecError reports a post-exec step that exited non-zero after the
// main command already succeeded. Step is the zero-based index into the
// chain; steps after it never ran.
type PostExecError struct {
	Step     int
	ExitCode int
	Stderr   string
}

func (e *PostExecError) Error() string {
	return fmt.Sprintf("post-exec step %d exited with status %d: %s", e.Step, e.ExitCode, e.Stderr)
}
