package toolrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(script string) Spec {
	return Spec{Exe: "/bin/sh", Args: []string{"-c", script}}
}

func TestExecRunner_CapturesStreams(t *testing.T) {
	t.Parallel()
	res, err := ExecRunner{}.Run(context.Background(), sh("echo out; echo err >&2"))
	require.NoError(t, err)

	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	t.Parallel()
	res, err := ExecRunner{}.Run(context.Background(), sh("echo failing; exit 3"))
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "failing\n", res.Stdout)
}

func TestExecRunner_Stdin(t *testing.T) {
	t.Parallel()
	spec := sh("cat")
	spec.Stdin = "piped through"
	res, err := ExecRunner{}.Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "piped through", res.Stdout)
}

func TestExecRunner_WorkingDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	spec := sh("pwd")
	spec.Dir = dir
	res, err := ExecRunner{}.Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Contains(t, res.Stdout, dir)
}

func TestExecRunner_Env(t *testing.T) {
	t.Parallel()
	spec := sh("echo $UNDERSTORY_TEST_VAR")
	spec.Env = []string{"UNDERSTORY_TEST_VAR=visible", "PATH=/bin:/usr/bin"}
	res, err := ExecRunner{}.Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "visible\n", res.Stdout)
}

func TestExecRunner_MissingExecutableIsLaunchError(t *testing.T) {
	t.Parallel()
	_, err := ExecRunner{}.Run(context.Background(), Spec{Exe: "/nonexistent/tool"})

	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "/nonexistent/tool", lerr.Exe)
	assert.NotNil(t, lerr.Unwrap())
}

func TestExecRunner_CancelKillsProcess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ExecRunner{}.Run(ctx, sh("sleep 30"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecRunner_DeadlineExceeded(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ExecRunner{}.Run(ctx, sh("sleep 30"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExecRunner_CancelNotBlockedByGrandchild(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The shell forks a child that inherits the output pipes and outlives
	// the killed shell; the runner must still return promptly.
	start := time.Now()
	_, err := ExecRunner{}.Run(ctx, sh("sleep 30 & wait"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecRunner_LingeringGrandchildAfterCleanExit(t *testing.T) {
	t.Parallel()
	start := time.Now()
	res, err := ExecRunner{}.Run(context.Background(), sh("echo started; sleep 30 &"))
	require.NoError(t, err)

	assert.Equal(t, "started\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestResult_Combined(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a\nb", Result{Stdout: "a", Stderr: "b"}.Combined())
	assert.Equal(t, "a", Result{Stdout: "a"}.Combined())
	assert.Equal(t, "b", Result{Stderr: "b"}.Combined())
	assert.Empty(t, Result{}.Combined())
}
