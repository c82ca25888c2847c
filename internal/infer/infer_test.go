package infer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/toolrun"
)

// fakeHelper is a scripted Runner standing in for the external helper.
type fakeHelper struct {
	fn func(ctx context.Context, spec toolrun.Spec) (toolrun.Result, error)

	mu    sync.Mutex
	calls []toolrun.Spec
}

func (f *fakeHelper) Run(ctx context.Context, spec toolrun.Spec) (toolrun.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()
	return f.fn(ctx, spec)
}

func (f *fakeHelper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestGateway(runner toolrun.Runner, timeout time.Duration) *Gateway {
	helper := config.Tool{Exe: "ghc-mod", Args: []string{"--with-ghc", "ghc"}}
	return NewGateway(runner, helper, "/proj", nil, timeout)
}

func TestGateway_TypeAtParsesRangeLine(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "3 5 3 8 \"Int -> Int\"\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	typ, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 3, 5)
	require.NoError(t, err)
	assert.Equal(t, "Int -> Int", typ)
}

func TestGateway_TypeAtQuerySpec(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "42 7 42 10 \"Bool\"\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	_, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 42, 7)
	require.NoError(t, err)

	require.Equal(t, 1, runner.callCount())
	spec := runner.calls[0]
	assert.Equal(t, "ghc-mod", spec.Exe)
	assert.Equal(t, []string{"--with-ghc", "ghc", "type", "/proj/Foo.hs", "42", "7"}, spec.Args)
	assert.Equal(t, "/proj", spec.Dir)
}

func TestGateway_TypeAtPlainOutputFallback(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "Maybe Int\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	typ, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Maybe Int", typ)
}

func TestGateway_TypeAtEmptyOutputIsNoResult(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "  \n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	_, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 1, 1)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestGateway_ConcurrentIdenticalTypeAtCoalesces(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	entered := make(chan struct{})
	var enterOnce sync.Once
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		enterOnce.Do(func() { close(entered) })
		<-gate
		return toolrun.Result{Stdout: "42 1 42 4 \"Int\"\n"}, nil
	}}
	g := newTestGateway(runner, 5*time.Second)

	results := make(chan string, 2)
	errs := make(chan error, 2)
	ask := func() {
		typ, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 42, 1)
		results <- typ
		errs <- err
	}

	go ask()
	<-entered
	go ask()
	// Give the second caller time to join the in-flight query before the
	// helper is allowed to finish.
	time.Sleep(50 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, "Int", <-results)
	}
	assert.Equal(t, 1, runner.callCount())
}

func TestGateway_TimeoutIsErrTimeout(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(ctx context.Context, _ toolrun.Spec) (toolrun.Result, error) {
		<-ctx.Done()
		return toolrun.Result{}, ctx.Err()
	}}
	g := newTestGateway(runner, 30*time.Millisecond)

	_, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 1, 1)
	assert.ErrorIs(t, err, ErrTimeout)

	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Query, "type")
}

func TestGateway_NewerRequestCancelsOlderForSameFile(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	var enterOnce sync.Once
	runner := &fakeHelper{fn: func(ctx context.Context, spec toolrun.Spec) (toolrun.Result, error) {
		last := spec.Args[len(spec.Args)-1]
		if last == "1" {
			enterOnce.Do(func() { close(entered) })
			<-ctx.Done()
			return toolrun.Result{}, ctx.Err()
		}
		return toolrun.Result{Stdout: "9 2 9 5 \"Char\"\n"}, nil
	}}
	g := newTestGateway(runner, 5*time.Second)

	olderErr := make(chan error, 1)
	go func() {
		_, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 1, 1)
		olderErr <- err
	}()
	<-entered

	// The cursor moved: a query at a new position supersedes the old one.
	typ, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 9, 2)
	require.NoError(t, err)
	assert.Equal(t, "Char", typ)

	err = <-olderErr
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateway_CancelFile(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	runner := &fakeHelper{fn: func(ctx context.Context, _ toolrun.Spec) (toolrun.Result, error) {
		close(entered)
		<-ctx.Done()
		return toolrun.Result{}, ctx.Err()
	}}
	g := newTestGateway(runner, 5*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 1, 1)
		done <- err
	}()
	<-entered

	g.CancelFile("/proj/Foo.hs")
	assert.ErrorIs(t, <-done, context.Canceled)

	// Cancelling with nothing in flight is a no-op.
	g.CancelFile("/proj/Foo.hs")
}

func TestGateway_HelperExitFailure(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{ExitCode: 1, Stderr: "cradle not found"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	_, err := g.TypeAt(context.Background(), "/proj/Foo.hs", 1, 1)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Error(), "cradle not found")
}

func TestGateway_ImportsFor(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "Data.List\nData.List.NonEmpty\n\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	modules, err := g.ImportsFor(context.Background(), "sortBy", "/proj/Foo.hs")
	require.NoError(t, err)
	assert.Equal(t, []string{"Data.List", "Data.List.NonEmpty"}, modules)

	spec := runner.calls[0]
	assert.Equal(t, "find", spec.Args[len(spec.Args)-2])
	assert.Equal(t, "sortBy", spec.Args[len(spec.Args)-1])
}

func TestGateway_ListModulesCached(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "Data.List\nPrelude\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	first, err := g.ListModules(context.Background())
	require.NoError(t, err)
	second, err := g.ListModules(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, runner.callCount())
}

func TestGateway_LanguagePragmasCached(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "OverloadedStrings\nGADTs\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	pragmas, err := g.LanguagePragmas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"OverloadedStrings", "GADTs"}, pragmas)

	_, err = g.LanguagePragmas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.callCount())
}

func TestGateway_BrowseCachesPerModule(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(_ context.Context, spec toolrun.Spec) (toolrun.Result, error) {
		module := spec.Args[len(spec.Args)-1]
		if module == "Data.List" {
			return toolrun.Result{Stdout: "sortBy\nnub\n"}, nil
		}
		return toolrun.Result{Stdout: "pack\nunpack\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	names, err := g.Browse(context.Background(), "Data.List")
	require.NoError(t, err)
	assert.Equal(t, []string{"sortBy", "nub"}, names)

	// Cache hit for the same module, helper spawned again for a new one.
	_, err = g.Browse(context.Background(), "Data.List")
	require.NoError(t, err)
	assert.Equal(t, 1, runner.callCount())

	_, err = g.Browse(context.Background(), "Data.Text")
	require.NoError(t, err)
	assert.Equal(t, 2, runner.callCount())
}

func TestGateway_CachedBrowseNeverSpawns(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "sortBy\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	_, ok := g.CachedBrowse("Data.List")
	assert.False(t, ok)
	assert.Equal(t, 0, runner.callCount())

	_, err := g.Browse(context.Background(), "Data.List")
	require.NoError(t, err)

	names, ok := g.CachedBrowse("Data.List")
	assert.True(t, ok)
	assert.Equal(t, []string{"sortBy"}, names)
	assert.Equal(t, 1, runner.callCount())
}

func TestGateway_InvalidateCaches(t *testing.T) {
	t.Parallel()
	runner := &fakeHelper{fn: func(context.Context, toolrun.Spec) (toolrun.Result, error) {
		return toolrun.Result{Stdout: "Prelude\n"}, nil
	}}
	g := newTestGateway(runner, time.Second)

	_, err := g.ListModules(context.Background())
	require.NoError(t, err)
	_, err = g.Browse(context.Background(), "Prelude")
	require.NoError(t, err)

	g.InvalidateCaches()

	_, ok := g.CachedBrowse("Prelude")
	assert.False(t, ok)
	_, err = g.ListModules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, runner.callCount())
}

func TestSplitLines(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b"}, splitLines(" a \n\nb\n"))
	assert.Empty(t, splitLines("\n \n"))
	assert.Empty(t, splitLines(""))
}

func TestError_Message(t *testing.T) {
	t.Parallel()
	err := &Error{Query: "type Foo.hs 1 1", Err: ErrTimeout}
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, strings.Contains(err.Error(), "type Foo.hs 1 1"))
}
