package cpi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// spyRunner records every command line handed to the shell layer and
// returns scripted results in order.
type spyRunner struct {
	commands []string
	results  []spyResult
}

type spyResult struct {
	exitCode int
	stdout   string
	stderr   string
	err      error
}

func (s *spyRunner) run(commandLine string) (*execResult, error) {
	i := len(s.commands)
	s.commands = append(s.commands, commandLine)
	if i >= len(s.results) {
		return &execResult{}, nil
	}
	r := s.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return &execResult{exitCode: r.exitCode, stdout: r.stdout, stderr: r.stderr}, nil
}

func newSpyExecutor(t *testing.T, config string, spy *spyRunner) *Executor {
	t.Helper()

	e := New(writeConfig(t, config))
	e.run = spy.run
	return e
}

func TestExecuteSuccessPayload(t *testing.T) {
	spy := &spyRunner{results: []spyResult{{stdout: "web\n"}}}
	e := newSpyExecutor(t, `{"actions": {"start_container": {"command": "docker start {name}"}}}`, spy)

	payload, err := e.Execute(context.Background(), StartContainer{Name: "web"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if payload != "web\n" {
		t.Errorf("expected payload %q, got %q", "web\n", payload)
	}
	if len(spy.commands) != 1 || spy.commands[0] != "docker start web" {
		t.Errorf("unexpected commands: %v", spy.commands)
	}
}

func TestExecuteUnknownTagSpawnsNothing(t *testing.T) {
	spy := &spyRunner{}
	e := newSpyExecutor(t, `{"actions": {"start_container": {"command": "docker start {name}"}}}`, spy)

	_, err := e.Execute(context.Background(), DeleteContainer{Name: "web"})
	if !errors.Is(err, ErrActionNotDefined) {
		t.Errorf("expected ErrActionNotDefined, got %v", err)
	}
	if len(spy.commands) != 0 {
		t.Errorf("expected no subprocess spawned, got %v", spy.commands)
	}
}

func TestExecuteMainFailureSkipsPostExec(t *testing.T) {
	spy := &spyRunner{results: []spyResult{
		{exitCode: 1, stderr: "No such container: web"},
	}}
	e := newSpyExecutor(t, `{"actions": {"start_container": {
		"command": "docker start {name}",
		"post_exec": ["docker inspect {name}"]
	}}}`, spy)

	_, err := e.Execute(context.Background(), StartContainer{Name: "web"})

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Stderr != "No such container: web" {
		t.Errorf("expected stderr surfaced verbatim, got %q", cmdErr.Stderr)
	}
	if cmdErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", cmdErr.ExitCode)
	}
	if len(spy.commands) != 1 {
		t.Errorf("expected post-exec never to run, got %v", spy.commands)
	}
}

func TestExecutePostExecChainOrder(t *testing.T) {
	spy := &spyRunner{results: []spyResult{{stdout: "id\n"}, {}, {}, {}}}
	e := newSpyExecutor(t, `{"actions": {"create_container": {
		"command": "run {name}",
		"post_exec": ["step-a {name}", "step-b {name}", "step-c {name}"]
	}}}`, spy)

	payload, err := e.Execute(context.Background(), CreateContainer{Image: "nginx", Name: "web"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	want := []string{"run web", "step-a web", "step-b web", "step-c web"}
	if len(spy.commands) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), spy.commands)
	}
	for i := range want {
		if spy.commands[i] != want[i] {
			t.Errorf("command %d: expected %q, got %q", i, want[i], spy.commands[i])
		}
	}

	// Post-exec stdout is discarded; only the main command's survives.
	if payload != "id\n" {
		t.Errorf("expected main stdout as payload, got %q", payload)
	}
}

func TestExecutePostExecFailFast(t *testing.T) {
	spy := &spyRunner{results: []spyResult{
		{stdout: "ok"},
		{},
		{exitCode: 2, stderr: "boom"},
	}}
	e := newSpyExecutor(t, `{"actions": {"create_container": {
		"command": "run {name}",
		"post_exec": ["step-a", "step-b", "step-c"]
	}}}`, spy)

	_, err := e.Execute(context.Background(), CreateContainer{Image: "nginx", Name: "web"})

	var postErr *PostExecError
	if !errors.As(err, &postErr) {
		t.Fatalf("expected PostExecError, got %v", err)
	}
	if postErr.Step != 1 {
		t.Errorf("expected failing step index 1, got %d", postErr.Step)
	}
	if postErr.Stderr != "boom" {
		t.Errorf("expected stderr %q, got %q", "boom", postErr.Stderr)
	}
	if len(spy.commands) != 3 {
		t.Errorf("expected step-c never to run, got %v", spy.commands)
	}
}

func TestExecuteRereadsConfigEachCall(t *testing.T) {
	path := writeConfig(t, `{"actions": {"start_container": {"command": "one {name}"}}}`)
	spy := &spyRunner{}
	e := New(path)
	e.run = spy.run

	if _, err := e.Execute(context.Background(), StartContainer{Name: "web"}); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}

	// Edit the config between calls; the next call must see it.
	if err := os.WriteFile(path, []byte(`{"actions": {"start_container": {"command": "two {name}"}}}`), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	if _, err := e.Execute(context.Background(), StartContainer{Name: "web"}); err != nil {
		t.Fatalf("second execute failed: %v", err)
	}

	if len(spy.commands) != 2 || spy.commands[0] != "one web" || spy.commands[1] != "two web" {
		t.Errorf("expected config re-read between calls, got %v", spy.commands)
	}
}

func TestExecuteConfigNotFound(t *testing.T) {
	spy := &spyRunner{}
	e := New(filepath.Join(t.TempDir(), "missing.json"))
	e.run = spy.run

	_, err := e.Execute(context.Background(), ListContainers{})
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
	if len(spy.commands) != 0 {
		t.Errorf("expected no subprocess spawned, got %v", spy.commands)
	}
}

func TestExecuteEndToEndShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell test")
	}

	e := New(writeConfig(t, `{"actions": {
		"start_container": {"command": "echo {name}"},
		"stop_container": {"command": "echo oops >&2; exit 3"}
	}}`))

	payload, err := e.Execute(context.Background(), StartContainer{Name: "web"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if payload != "web\n" {
		t.Errorf("expected payload %q, got %q", "web\n", payload)
	}

	_, err = e.Execute(context.Background(), StopContainer{Name: "web"})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "oops\n" {
		t.Errorf("expected stderr %q, got %q", "oops\n", cmdErr.Stderr)
	}
}

func TestExecuteConcurrent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell test")
	}

	e := New(writeConfig(t, `{"actions": {"start_container": {"command": "echo {name}"}}}`))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := e.Execute(context.Background(), StartContainer{Name: "web"})
			if err != nil {
				t.Errorf("concurrent execute failed: %v", err)
				return
			}
			if payload != "web\n" {
				t.Errorf("expected payload %q, got %q", "web\n", payload)
			}
		}()
	}
	wg.Wait()
}

func TestWithMaxConcurrent(t *testing.T) {
	var active, violations int32
	e := New(writeConfig(t, `{"actions": {"start_container": {"command": "echo {name}"}}}`),
		WithMaxConcurrent(1))
	e.run = func(string) (*execResult, error) {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&violations, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &execResult{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Execute(context.Background(), StartContainer{Name: "web"}); err != nil {
				t.Errorf("execute failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if violations != 0 {
		t.Errorf("expected at most 1 subprocess at a time, saw %d violations", violations)
	}
}

func TestRunShellSpawnError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell test")
	}

	t.Setenv("PATH", t.TempDir())

	_, err := runShell("echo hi")
	if !errors.Is(err, ErrProcessSpawn) {
		t.Errorf("expected ErrProcessSpawn, got %v", err)
	}
}

func TestRunShellInvalidOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell test")
	}

	_, err := runShell(`printf '\377\376'`)
	if !errors.Is(err, ErrOutputDecode) {
		t.Errorf("expected ErrOutputDecode, got %v", err)
	}
}

func TestRunShellCapturesStreams(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell test")
	}

	res, err := runShell("echo out; echo err >&2")
	if err != nil {
		t.Fatalf("runShell failed: %v", err)
	}
	if res.exitCode != 0 {
		t.Errorf("expected exit 0, got %d", res.exitCode)
	}
	if res.stdout != "out\n" {
		t.Errorf("expected stdout %q, got %q", "out\n", res.stdout)
	}
	if !strings.Contains(res.stderr, "err") {
		t.Errorf("expected stderr to contain %q, got %q", "err", res.stderr)
	}
}
