// Package cpi implements the command provider interface: a config-driven
// mapping from abstract container operations to shell command templates.
// Swapping the JSON config file retargets the agent to a different
// container runtime or platform without recompiling.
package cpi

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Executor resolves commands against a CPI config file and runs them
// through the host shell. Safe for concurrent use: each Execute call is
// self-contained and the engine holds no per-resource state, so two
// concurrent calls against the same container name may race at the
// runtime level. Callers needing per-resource serialization add it
// externally.
type Executor struct {
	configPath string
	sem        chan struct{}
	run        func(string) (*execResult, error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxConcurrent bounds the number of simultaneously running
// subprocesses across all Execute calls. Zero (the default) means
// unbounded.
func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.sem = make(chan struct{}, n)
		}
	}
}

// New creates an Executor reading action templates from configPath.
func New(configPath string, opts ...Option) *Executor {
	e := &Executor{
		configPath: configPath,
		run:        runShell,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one command: load the config, resolve the action for the
// command's tag, render the main template from the command's parameters
// and run it, then run each post-exec template in declared order against
// the same parameter map. The returned payload is the main command's
// stdout (often itself JSON, which callers may re-parse); post-exec output
// is discarded. A failing step aborts the remainder and nothing is
// retried or rolled back.
//
// The config file is re-read on every call. ctx does not cancel a spawned
// subprocess; execution blocks until the process exits.
func (e *Executor) Execute(ctx context.Context, cmd Command) (string, error) {
	cfg, err := LoadConfig(e.configPath)
	if err != nil {
		return "", err
	}

	action, err := cfg.Resolve(cmd.Tag())
	if err != nil {
		return "", err
	}

	params := cmd.params()
	mainCmd := Render(action.Command, params)
	log.Debug().Str("tag", cmd.Tag()).Str("command", mainCmd).Msg("executing cpi command")

	result, err := e.runOne(mainCmd)
	if err != nil {
		return "", err
	}
	if result.exitCode != 0 {
		return "", &CommandError{ExitCode: result.exitCode, Stderr: result.stderr}
	}

	for i, tmpl := range action.PostExec {
		postCmd := Render(tmpl, params)
		log.Debug().Str("tag", cmd.Tag()).Int("step", i).Str("command", postCmd).Msg("executing post-exec command")

		post, err := e.runOne(postCmd)
		if err != nil {
			return "", err
		}
		if post.exitCode != 0 {
			return "", &PostExecError{Step: i, ExitCode: post.exitCode, Stderr: post.stderr}
		}
	}

	return result.stdout, nil
}

func (e *Executor) runOne(commandLine string) (*execResult, error) {
	if e.sem != nil {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
	}
	return e.run(commandLine)
}
