package understory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/diagnostics"
	"github.com/jward/understory/internal/format"
	"github.com/jward/understory/internal/index"
	"github.com/jward/understory/internal/infer"
	"github.com/jward/understory/internal/project"
	"github.com/jward/understory/internal/scan"
	"github.com/jward/understory/internal/toolrun"
)

// Engine coordinates the build-and-index pipeline: it reacts to save and
// load events, drives the build tool, publishes parsed diagnostics, and
// keeps the symbol index fresh. Autocomplete and type queries read the
// stores directly and never wait for an in-flight build.
type Engine struct {
	cfg    *config.Config
	runner toolrun.Runner
	notify func(file string, diags []diagnostics.Diagnostic)

	diags   *diagnostics.Store
	index   *index.Store
	scanner *scan.Scanner
	bridge  *format.Bridge

	mu          sync.Mutex
	project     *project.Project
	toolchain   config.Toolchain
	gateway     *infer.Gateway
	generation  uint64
	buildCancel context.CancelFunc

	// ready flips once the initial project scan completes. Completion
	// queries before that serve whatever partial state has accumulated.
	ready atomic.Bool

	// jobs tracks background builds and rescans so Close and tests can
	// wait for quiescence.
	jobs sync.WaitGroup
}

// Config is the engine configuration, aliased so importers never need the
// internal package. See internal/config for field documentation.
type Config = config.Config

// LoadConfig reads an understory.yaml and merges it over the defaults. A
// missing file yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in configuration: cabal primary toolchain,
// stack alternate, ghc-mod helper, stylish-haskell formatter.
func DefaultConfig() *Config { return config.Default() }

// Option configures an Engine.
type Option func(*Engine)

// WithRunner substitutes the process runner. Tests inject fakes here.
func WithRunner(r toolrun.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithNotify registers a callback invoked whenever a file's visible
// diagnostics change. Called outside engine locks.
func WithNotify(fn func(file string, diags []diagnostics.Diagnostic)) Option {
	return func(e *Engine) { e.notify = fn }
}

// New creates an Engine with an empty index. Call LoadProject before
// anything useful happens.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	idx, err := index.NewStore()
	if err != nil {
		return nil, fmt.Errorf("understory: create index: %w", err)
	}
	if err := idx.Migrate(); err != nil {
		idx.Close()
		return nil, fmt.Errorf("understory: migrate index: %w", err)
	}
	e := &Engine{
		cfg:    cfg,
		runner: toolrun.ExecRunner{},
		diags:  diagnostics.NewStore(),
		index:  idx,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scanner = scan.NewScanner(e.runner, cfg.Inspector)
	e.bridge = format.NewBridge(e.runner, cfg.Formatter)
	return e, nil
}

// Close waits for background work and releases the index.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.buildCancel != nil {
		e.buildCancel()
	}
	e.mu.Unlock()
	e.jobs.Wait()
	return e.index.Close()
}

// Ready reports whether the initial project scan has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Project returns the current project, or nil before LoadProject.
func (e *Engine) Project() *project.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.project
}

// LoadProject locates the project enclosing path, scans every source file
// into the index, and kicks off an initial build. Any previously loaded
// project's state is discarded.
func (e *Engine) LoadProject(ctx context.Context, path string) error {
	proj, err := project.Locate(path)
	if err != nil {
		return fmt.Errorf("understory: %w", err)
	}

	e.mu.Lock()
	e.project = proj
	e.toolchain = e.cfg.ActiveToolchain(proj.Root)
	e.gateway = infer.NewGateway(e.runner, e.cfg.Helper, proj.Root, e.toolchain.Env, e.cfg.InferTimeout)
	e.mu.Unlock()

	e.ready.Store(false)
	e.diags.Clear()
	if err := e.index.Clear(); err != nil {
		return fmt.Errorf("understory: clear index: %w", err)
	}

	if err := e.scanAll(ctx, proj); err != nil {
		return err
	}
	e.ready.Store(true)

	e.startBuild(ctx, proj.Manifest)
	return nil
}

// scanAll scans every project source file through a bounded worker pool.
// Index commits are per-file and commutative, so workers write directly.
// Individual scan failures (including parse errors) skip the file and the
// scan continues.
func (e *Engine) scanAll(ctx context.Context, proj *project.Project) error {
	files, err := proj.SourceFiles()
	if err != nil {
		return fmt.Errorf("understory: discover sources: %w", err)
	}

	workers := e.cfg.ScanWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, file := range files {
		file := file
		g.Go(func() error {
			e.rescanFile(gctx, file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("understory: scan project: %w", err)
	}
	// Warm only once the index covers the whole project, so project-local
	// modules are never mistaken for package-provided ones.
	e.warmAllExternal(ctx)
	return nil
}

// warmAllExternal browses every imported module the index does not cover.
func (e *Engine) warmAllExternal(ctx context.Context) {
	gw := e.currentGateway()
	if gw == nil {
		return
	}
	indexed := make(map[string]bool)
	modules, err := e.index.Modules()
	if err != nil {
		return
	}
	for _, m := range modules {
		indexed[m] = true
	}
	files, err := e.index.Files()
	if err != nil {
		return
	}
	seen := make(map[string]bool)
	for _, f := range files {
		imports, err := e.index.ImportsOf(f)
		if err != nil {
			continue
		}
		for _, imp := range imports {
			if indexed[imp.Module] || seen[imp.Module] {
				continue
			}
			seen[imp.Module] = true
			_, _ = gw.Browse(ctx, imp.Module)
		}
	}
}

// rescanFile re-indexes one file. Unchanged files (same content hash) are
// skipped. A parse failure leaves the file's previous index entries in
// place: stale completions are better than none mid-edit.
func (e *Engine) rescanFile(ctx context.Context, file string) {
	content, err := os.ReadFile(file)
	if err != nil {
		// Deleted since discovery; drop its module from the index.
		if os.IsNotExist(err) {
			_ = e.index.DeleteFile(file)
		}
		return
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(content))

	prev, err := e.index.FileHash(file)
	if err == nil && prev == hash {
		return // unchanged
	}

	info, err := e.scanner.Scan(ctx, file)
	if err != nil {
		// Parse errors (and inspector failures) keep previous entries.
		return
	}
	if err := e.index.Update(file, hash, info); err != nil {
		return
	}
	// During the initial scan the index is still partial; scanAll runs one
	// warm pass for the whole project afterwards.
	if e.ready.Load() {
		e.warmExternalModules(ctx, info)
	}
}

// warmExternalModules pre-loads browse completions for imported modules the
// index does not cover (package-provided modules), so completion reads stay
// non-blocking.
func (e *Engine) warmExternalModules(ctx context.Context, info *scan.ModuleInfo) {
	gw := e.currentGateway()
	if gw == nil {
		return
	}
	indexed := make(map[string]bool)
	if modules, err := e.index.Modules(); err == nil {
		for _, m := range modules {
			indexed[m] = true
		}
	}
	for _, imp := range info.Imports {
		if !indexed[imp.Module] {
			_, _ = gw.Browse(ctx, imp.Module)
		}
	}
}

// FileSaved handles a save event: the file is re-indexed and a new build
// job is launched, superseding any build still in flight. A manifest change
// invalidates all derived state first.
func (e *Engine) FileSaved(ctx context.Context, path string) {
	e.mu.Lock()
	proj := e.project
	e.mu.Unlock()

	if proj == nil {
		_ = e.LoadProject(ctx, path)
		return
	}
	if !proj.Contains(path) {
		return // outside the current project; stores must not learn about it
	}

	if path == proj.Manifest || proj.ManifestChanged() {
		e.invalidate(ctx, proj)
		return
	}

	if project.IsSource(path) {
		e.jobs.Add(1)
		go func() {
			defer e.jobs.Done()
			e.rescanFile(ctx, path)
		}()
	}
	e.startBuild(ctx, path)
}

// FileOpened makes sure the file's project is loaded and its module is
// indexed. No build is triggered; opening a file is not a change.
func (e *Engine) FileOpened(ctx context.Context, path string) {
	e.mu.Lock()
	proj := e.project
	e.mu.Unlock()

	if proj == nil {
		_ = e.LoadProject(ctx, path)
		return
	}
	if proj.Contains(path) && project.IsSource(path) {
		e.jobs.Add(1)
		go func() {
			defer e.jobs.Done()
			e.rescanFile(ctx, path)
		}()
	}
}

// invalidate clears all derived state and rebuilds it, used when the
// manifest changes or the toolchain is switched.
func (e *Engine) invalidate(ctx context.Context, proj *project.Project) {
	e.ready.Store(false)
	e.diags.Clear()
	_ = e.index.Clear()
	if gw := e.currentGateway(); gw != nil {
		gw.InvalidateCaches()
	}
	if err := e.scanAll(ctx, proj); err == nil {
		e.ready.Store(true)
	}
	e.startBuild(ctx, proj.Manifest)
}

// SetToolchain switches the active toolchain at runtime. All derived state
// is invalidated and rebuilt under the new configuration.
func (e *Engine) SetToolchain(ctx context.Context, name string) error {
	if _, ok := e.cfg.Toolchains[name]; !ok {
		return fmt.Errorf("understory: unknown toolchain %q", name)
	}
	e.mu.Lock()
	proj := e.project
	e.cfg.Toolchain = name
	if proj != nil {
		e.toolchain = e.cfg.ActiveToolchain(proj.Root)
		e.gateway = infer.NewGateway(e.runner, e.cfg.Helper, proj.Root, e.toolchain.Env, e.cfg.InferTimeout)
	}
	e.mu.Unlock()

	if proj != nil {
		e.invalidate(ctx, proj)
	}
	return nil
}

func (e *Engine) currentGateway() *infer.Gateway {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gateway
}

// waitIdle blocks until background builds and rescans have drained.
func (e *Engine) waitIdle() {
	e.jobs.Wait()
}
