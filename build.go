package understory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/diagnostics"
	"github.com/jward/understory/internal/project"
	"github.com/jward/understory/internal/toolrun"
)

// Build jobs are generation gated. Every job is tagged with the generation
// current at launch; only output whose generation still matches at
// completion is committed. A slow build superseded by a later save runs to
// completion (process kill is best effort via context cancel) and its
// output is silently discarded, so out-of-order completions never regress
// visible diagnostics.

// startBuild launches an asynchronous build job for the current project,
// superseding any build still in flight. trigger is the file whose save
// caused the build; launch failures surface there.
func (e *Engine) startBuild(ctx context.Context, trigger string) {
	e.mu.Lock()
	proj := e.project
	tc := e.toolchain
	if proj == nil {
		e.mu.Unlock()
		return
	}
	e.generation++
	gen := e.generation
	if e.buildCancel != nil {
		e.buildCancel() // best-effort kill; correctness comes from the gate
	}
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.buildCancel = cancel
	e.mu.Unlock()

	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		defer cancel()
		e.runBuild(bctx, gen, proj, tc, trigger)
	}()
}

// Check runs one synchronous build and returns the diagnostics it produced,
// grouped by file. CLI entry point; the same generation gate applies.
func (e *Engine) Check(ctx context.Context, trigger string) (map[string][]diagnostics.Diagnostic, error) {
	e.mu.Lock()
	proj := e.project
	tc := e.toolchain
	if proj == nil {
		e.mu.Unlock()
		return nil, errors.New("understory: no project loaded")
	}
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	e.runBuild(ctx, gen, proj, tc, trigger)

	out := make(map[string][]diagnostics.Diagnostic)
	for _, f := range e.diags.Files() {
		out[f] = e.diags.Get(f)
	}
	return out, nil
}

// runBuild invokes the build tool and commits its parsed output if the job
// is still current.
func (e *Engine) runBuild(ctx context.Context, gen uint64, proj *project.Project, tc config.Toolchain, trigger string) {
	res, err := e.runner.Run(ctx, toolrun.Spec{
		Exe:  tc.Build.Exe,
		Args: tc.Build.Args,
		Dir:  proj.Root,
		Env:  tc.Env,
	})

	var launchErr *toolrun.LaunchError
	switch {
	case errors.As(err, &launchErr):
		// The tool never started. One synthetic diagnostic on the
		// triggering file; the next save retries naturally.
		d := diagnostics.Diagnostic{
			File:     trigger,
			Line:     1,
			Column:   1,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("build tool failed to start: %v", launchErr),
		}
		e.commitFile(gen, trigger, []diagnostics.Diagnostic{d})
		return
	case err != nil:
		// Cancelled or superseded; nothing to commit.
		return
	}

	parsed := diagnostics.Parse(res.Combined(), proj.Root)

	// Diagnostics outside the project root never reach the store.
	kept := parsed[:0]
	for _, d := range parsed {
		if proj.Contains(d.File) {
			kept = append(kept, d)
		}
	}

	if res.ExitCode != 0 && len(kept) == 0 {
		// The build failed but nothing parseable came out. Exit status
		// alone is not enough to stay silent.
		msg := strings.TrimSpace(res.Combined())
		if msg == "" {
			msg = fmt.Sprintf("%s exited with status %d", tc.Build.Exe, res.ExitCode)
		}
		kept = append(kept, diagnostics.Diagnostic{
			File:     trigger,
			Line:     1,
			Column:   1,
			Severity: diagnostics.SeverityError,
			Message:  msg,
		})
	}

	e.commitAll(gen, diagnostics.ByFile(kept))
}

// commitAll replaces the whole diagnostics store with one build's output,
// provided the job's generation is still current.
func (e *Engine) commitAll(gen uint64, byFile map[string][]diagnostics.Diagnostic) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return // stale result discarded
	}
	changed := e.diags.ReplaceAll(byFile)
	notify := e.notify
	e.mu.Unlock()

	if notify != nil {
		for _, f := range changed {
			notify(f, e.diags.Get(f))
		}
	}
}

// commitFile replaces a single file's diagnostics under the same gate, used
// for synthetic launch-failure diagnostics where the rest of the store's
// state is still the latest real build output.
func (e *Engine) commitFile(gen uint64, file string, diags []diagnostics.Diagnostic) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.diags.Replace(file, diags)
	notify := e.notify
	e.mu.Unlock()

	if notify != nil {
		notify(file, e.diags.Get(file))
	}
}
