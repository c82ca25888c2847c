// Package toolrun is the process boundary for every external tool understory
// invokes. All launches go through a Runner so orchestration code can be
// tested against a fake, and so no raw os/exec failure leaks past this
// package: a tool that cannot start is a *LaunchError, a tool that runs and
// exits non-zero is a normal Result with a non-zero ExitCode.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Spec describes one tool invocation.
type Spec struct {
	Exe   string
	Args  []string
	Dir   string // working directory; empty means inherit
	Stdin string // written to the process before reading output
	Env   []string
}

// Result is the captured outcome of a completed invocation. ExitCode is
// meaningful only when Run returned a nil error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr, the raw text fed to output
// parsers. Compilers split diagnostics across both streams.
func (r Result) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// LaunchError reports that a tool could not be started at all: missing
// executable, bad working directory, permission failure. Distinct from a
// tool that starts and fails.
type LaunchError struct {
	Exe string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Exe, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Runner executes external tools. The process boundary is the only place a
// workflow is allowed to block.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner runs tools with os/exec. The zero value is ready to use.
type ExecRunner struct{}

// Run starts the tool and waits for it to exit, capturing both output
// streams. Cancelling ctx kills the process (best effort) and returns the
// context error. A non-zero exit is not an error here; callers decide what
// exit status means for their tool.
func (ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	cmd := exec.CommandContext(ctx, spec.Exe, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	if spec.Stdin != "" {
		cmd.Stdin = bytes.NewBufferString(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// A grandchild that inherits the output pipes can hold them open long
	// after the direct child was killed; WaitDelay bounds how long Wait
	// blocks on them after cancellation or exit.
	cmd.WaitDelay = 3 * time.Second

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The tool itself exited cleanly; only a lingering descendant kept
		// the pipes open. The captured output is complete enough.
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, &LaunchError{Exe: spec.Exe, Err: err}
}
