// Package infer bridges to the external type-inference helper (ghc-mod
// style). The gateway is stateless apart from an in-flight request table
// used for cancellation and session caches for slow-changing helper output
// (module list, language pragmas, browsed modules).
//
// Positions handed to the helper follow config.PositionBase: 1-based line
// and column.
package infer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/toolrun"
)

// ErrTimeout marks a helper query that exceeded its bounded wait. Not
// retried automatically; the caller decides whether to re-issue.
var ErrTimeout = errors.New("inference timed out")

// ErrNoResult marks a helper run that produced no usable output.
var ErrNoResult = errors.New("no inference result")

// Error wraps a failed helper query with the request it belonged to.
type Error struct {
	RequestID uuid.UUID
	Query     string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference %s (request %s): %v", e.Query, e.RequestID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway issues helper queries. Concurrent identical TypeAt calls coalesce
// into one helper process; a newer request for the same file cancels the
// in-flight older one (cursor moved on).
type Gateway struct {
	runner  toolrun.Runner
	helper  config.Tool
	root    string // project root, working directory for the helper
	env     []string
	timeout time.Duration

	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]inflightRequest // keyed by file

	cacheMu sync.Mutex
	modules []string            // helper `list` output
	pragmas []string            // helper `lang` output
	browsed map[string][]string // helper `browse M` output per module
}

type inflightRequest struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

func NewGateway(runner toolrun.Runner, helper config.Tool, root string, env []string, timeout time.Duration) *Gateway {
	return &Gateway{
		runner:   runner,
		helper:   helper,
		root:     root,
		env:      env,
		timeout:  timeout,
		inflight: make(map[string]inflightRequest),
		browsed:  make(map[string][]string),
	}
}

// typeLineRe matches one line of helper type output:
//
//	3 5 3 8 "Int -> Int"
var typeLineRe = regexp.MustCompile(`^\d+\s+\d+\s+\d+\s+\d+\s+"(.*)"$`)

// TypeAt asks the helper for the type of the expression at the given
// 1-based line and column. Identical concurrent calls share one helper
// process and one result. A call for a file with an older in-flight request
// at a different position cancels that request first.
func (g *Gateway) TypeAt(ctx context.Context, file string, line, col int) (string, error) {
	key := fmt.Sprintf("type:%s:%d:%d", file, line, col)
	v, err, _ := g.group.Do(key, func() (any, error) {
		return g.runQuery(ctx, file, "type", file, fmt.Sprint(line), fmt.Sprint(col))
	})
	if err != nil {
		return "", err
	}
	out := v.(string)

	for _, l := range strings.Split(out, "\n") {
		if m := typeLineRe.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			return m[1], nil
		}
	}
	if t := strings.TrimSpace(out); t != "" {
		return t, nil
	}
	return "", &Error{Query: "type", Err: ErrNoResult}
}

// ImportsFor asks the helper which modules export an unresolved identifier.
// Output is one module name per line.
func (g *Gateway) ImportsFor(ctx context.Context, name, file string) ([]string, error) {
	out, err := g.runQuery(ctx, file, "find", name)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Browse returns the identifiers exported by a (typically package-provided)
// module, cached for the session.
func (g *Gateway) Browse(ctx context.Context, module string) ([]string, error) {
	g.cacheMu.Lock()
	if cached, ok := g.browsed[module]; ok {
		g.cacheMu.Unlock()
		return cached, nil
	}
	g.cacheMu.Unlock()

	out, err := g.runQuery(ctx, "", "browse", module)
	if err != nil {
		return nil, err
	}
	names := splitLines(out)

	g.cacheMu.Lock()
	g.browsed[module] = names
	g.cacheMu.Unlock()
	return names, nil
}

// ListModules returns every module the helper knows about, cached for the
// session. Drives import-line completion.
func (g *Gateway) ListModules(ctx context.Context) ([]string, error) {
	g.cacheMu.Lock()
	if g.modules != nil {
		cached := g.modules
		g.cacheMu.Unlock()
		return cached, nil
	}
	g.cacheMu.Unlock()

	out, err := g.runQuery(ctx, "", "list")
	if err != nil {
		return nil, err
	}
	modules := splitLines(out)

	g.cacheMu.Lock()
	g.modules = modules
	g.cacheMu.Unlock()
	return modules, nil
}

// LanguagePragmas returns the LANGUAGE pragma names the compiler supports,
// cached for the session.
func (g *Gateway) LanguagePragmas(ctx context.Context) ([]string, error) {
	g.cacheMu.Lock()
	if g.pragmas != nil {
		cached := g.pragmas
		g.cacheMu.Unlock()
		return cached, nil
	}
	g.cacheMu.Unlock()

	out, err := g.runQuery(ctx, "", "lang")
	if err != nil {
		return nil, err
	}
	pragmas := splitLines(out)

	g.cacheMu.Lock()
	g.pragmas = pragmas
	g.cacheMu.Unlock()
	return pragmas, nil
}

// CachedBrowse returns the browse completions for module if a Browse has
// already cached them. Never spawns the helper.
func (g *Gateway) CachedBrowse(module string) ([]string, bool) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	names, ok := g.browsed[module]
	return names, ok
}

// InvalidateCaches drops the session caches. Called when the toolchain
// changes.
func (g *Gateway) InvalidateCaches() {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	g.modules = nil
	g.pragmas = nil
	g.browsed = make(map[string][]string)
}

// runQuery executes one helper invocation under the gateway's timeout,
// registering it in the in-flight table (keyed by file, when the query is
// file-scoped) so a superseding request can cancel it.
func (g *Gateway) runQuery(ctx context.Context, file string, args ...string) (string, error) {
	id := uuid.New()
	qctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if file != "" {
		g.mu.Lock()
		if prev, ok := g.inflight[file]; ok {
			prev.cancel()
		}
		g.inflight[file] = inflightRequest{id: id, cancel: cancel}
		g.mu.Unlock()

		defer func() {
			g.mu.Lock()
			if cur, ok := g.inflight[file]; ok && cur.id == id {
				delete(g.inflight, file)
			}
			g.mu.Unlock()
		}()
	}

	res, err := g.runner.Run(qctx, toolrun.Spec{
		Exe:  g.helper.Exe,
		Args: append(append([]string(nil), g.helper.Args...), args...),
		Dir:  g.root,
		Env:  g.env,
	})
	query := strings.Join(args, " ")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &Error{RequestID: id, Query: query, Err: ErrTimeout}
		}
		return "", &Error{RequestID: id, Query: query, Err: err}
	}
	if res.ExitCode != 0 {
		return "", &Error{
			RequestID: id,
			Query:     query,
			Err:       fmt.Errorf("helper exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
		}
	}
	return res.Stdout, nil
}

// CancelFile cancels any in-flight request for file. The stale result, if
// the helper still produces one, is discarded by request-id bookkeeping.
func (g *Gateway) CancelFile(file string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req, ok := g.inflight[file]; ok {
		req.cancel()
		delete(g.inflight, file)
	}
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}
