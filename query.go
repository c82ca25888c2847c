package understory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/diagnostics"
	"github.com/jward/understory/internal/format"
	"github.com/jward/understory/internal/index"
)

// Read-side API. Everything here serves from the stores and session caches
// and never waits on an in-flight build; at worst a query sees slightly
// stale state.

// ErrNoProject is returned by queries that need a loaded project.
var ErrNoProject = errors.New("understory: no project loaded")

// Diagnostics returns the current diagnostics for file, ordered by
// (line, column). A snapshot; safe to retain.
func (e *Engine) Diagnostics(file string) []diagnostics.Diagnostic {
	return e.diags.Get(file)
}

// DiagnosticFiles lists every file currently carrying diagnostics.
func (e *Engine) DiagnosticFiles() []string {
	files := e.diags.Files()
	sort.Strings(files)
	return files
}

// identRe drops completion candidates whose names would not insert cleanly
// (operators and other symbolic names).
var identRe = regexp.MustCompile(`^[\w'-]+$`)

// Completions returns prefix-matched candidates visible in file: the file's
// own declarations, exports of imported project modules, and browsed
// completions of imported external modules. A qualified prefix such as
// "T.fo" is resolved through the file's import aliases first. Matching is
// case-sensitive.
func (e *Engine) Completions(file, prefix string) ([]index.SymbolEntry, error) {
	qualifier, bare := splitQualified(prefix)

	var restrict []string
	if qualifier != "" {
		imports, err := e.index.ImportsOf(file)
		if err != nil {
			return nil, err
		}
		for _, imp := range imports {
			if imp.Alias == qualifier || imp.Module == qualifier {
				restrict = append(restrict, imp.Module)
			}
		}
		// The qualifier may name the module directly even when the file
		// does not alias it.
		if len(restrict) == 0 {
			restrict = []string{qualifier}
		}
	}

	entries, err := e.index.CompletionsForFile(file, bare, restrict)
	if err != nil {
		return nil, err
	}
	entries = append(entries, e.browsedCompletions(file, bare, restrict)...)

	var out []index.SymbolEntry
	seen := make(map[index.SymbolEntry]bool)
	for _, entry := range entries {
		if !identRe.MatchString(entry.Name) || seen[entry] {
			continue
		}
		seen[entry] = true
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Module < out[j].Module
	})
	return out, nil
}

// browsedCompletions serves candidates for imported external modules from
// the gateway's session cache. Cache misses are skipped, not fetched: a
// completion request must not spawn processes.
func (e *Engine) browsedCompletions(file, prefix string, restrict []string) []index.SymbolEntry {
	gw := e.currentGateway()
	if gw == nil {
		return nil
	}
	imports, err := e.index.ImportsOf(file)
	if err != nil {
		return nil
	}
	allowed := map[string]bool{}
	for _, m := range restrict {
		allowed[m] = true
	}

	var out []index.SymbolEntry
	for _, imp := range imports {
		if len(restrict) > 0 && !allowed[imp.Module] {
			continue
		}
		names, ok := gw.CachedBrowse(imp.Module)
		if !ok {
			continue
		}
		for _, name := range names {
			if strings.HasPrefix(name, prefix) {
				out = append(out, index.SymbolEntry{Module: imp.Module, Name: name, Kind: "value"})
			}
		}
	}
	return out
}

// splitQualified separates "Data.Text.fo" or "T.fo" into its module
// qualifier and the bare symbol prefix. Uppercase-led segments belong to
// the qualifier; the final segment, if lowercase-led or empty, is the
// symbol prefix.
func splitQualified(prefix string) (qualifier, bare string) {
	idx := strings.LastIndex(prefix, ".")
	if idx < 0 {
		return "", prefix
	}
	head, tail := prefix[:idx], prefix[idx+1:]
	if head == "" || !isModuleName(head) {
		return "", prefix
	}
	return head, tail
}

func isModuleName(s string) bool {
	for _, seg := range strings.Split(s, ".") {
		if seg == "" || seg[0] < 'A' || seg[0] > 'Z' {
			return false
		}
	}
	return true
}

// Lookup is the project-wide exported-symbol prefix search, unscoped by
// imports.
func (e *Engine) Lookup(prefix string) ([]index.SymbolEntry, error) {
	return e.index.Lookup(prefix)
}

// ModulesOf returns the project modules exporting symbol, for import
// suggestions.
func (e *Engine) ModulesOf(symbol string) ([]string, error) {
	return e.index.ModulesOf(symbol)
}

// DeclarationsOf returns the known declaration sites of name, for
// go-to-declaration.
func (e *Engine) DeclarationsOf(name string) ([]index.Declaration, error) {
	return e.index.DeclarationsOf(name)
}

// ModuleCompletions returns module names matching a dotted prefix, drawn
// from both the project index and the helper's module list. Used on import
// lines.
func (e *Engine) ModuleCompletions(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, name := range names {
			if strings.HasPrefix(name, prefix) && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}

	indexed, err := e.index.Modules()
	if err != nil {
		return nil, err
	}
	add(indexed)

	if gw := e.currentGateway(); gw != nil {
		if known, err := gw.ListModules(ctx); err == nil {
			add(known)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LanguagePragmas returns the compiler's LANGUAGE pragma names, for pragma
// line completion.
func (e *Engine) LanguagePragmas(ctx context.Context) ([]string, error) {
	gw := e.currentGateway()
	if gw == nil {
		return nil, ErrNoProject
	}
	return gw.LanguagePragmas(ctx)
}

// TypeAt reports the type of the expression at a 0-based byte offset in
// file. The offset is converted to the helper's 1-based line:column
// convention (config.PositionBase) against the file's current on-disk
// content.
func (e *Engine) TypeAt(ctx context.Context, file string, offset int) (string, error) {
	gw := e.currentGateway()
	if gw == nil {
		return "", ErrNoProject
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("understory: read %s: %w", file, err)
	}
	line, col, err := positionAt(content, offset)
	if err != nil {
		return "", fmt.Errorf("understory: %s: %w", file, err)
	}
	return gw.TypeAt(ctx, file, line, col)
}

// TypeAtPosition is TypeAt for callers that already hold a 1-based
// line:column position.
func (e *Engine) TypeAtPosition(ctx context.Context, file string, line, col int) (string, error) {
	gw := e.currentGateway()
	if gw == nil {
		return "", ErrNoProject
	}
	return gw.TypeAt(ctx, file, line, col)
}

// ImportsFor suggests modules to import for an unresolved identifier,
// merging the project index with the helper's knowledge. Project modules
// sort first.
func (e *Engine) ImportsFor(ctx context.Context, name, file string) ([]string, error) {
	local, err := e.index.ModulesOf(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(local))
	for _, m := range local {
		seen[m] = true
	}
	if gw := e.currentGateway(); gw != nil {
		if external, err := gw.ImportsFor(ctx, name, file); err == nil {
			for _, m := range external {
				if !seen[m] {
					seen[m] = true
					local = append(local, m)
				}
			}
		}
	}
	return local, nil
}

// Format runs text through the external formatter. On failure the error
// describes why and the caller keeps its original text; the bridge never
// fabricates a replacement.
func (e *Engine) Format(ctx context.Context, text string) (string, error) {
	return e.bridge.Format(ctx, text)
}

// FormatDiff formats text and returns the replacement together with a
// unified diff against the original.
func (e *Engine) FormatDiff(ctx context.Context, text string) (formatted, diff string, err error) {
	formatted, err = e.bridge.Format(ctx, text)
	if err != nil {
		return "", "", err
	}
	diff, err = format.Diff(text, formatted)
	if err != nil {
		return "", "", fmt.Errorf("understory: render diff: %w", err)
	}
	return formatted, diff, nil
}

// positionAt converts a 0-based byte offset into a 1-based line and column.
func positionAt(content []byte, offset int) (line, col int, err error) {
	if offset < 0 || offset > len(content) {
		return 0, 0, fmt.Errorf("offset %d out of range (file is %d bytes)", offset, len(content))
	}
	line, col = config.PositionBase, config.PositionBase
	for _, b := range content[:offset] {
		if b == '\n' {
			line++
			col = config.PositionBase
		} else {
			col++
		}
	}
	return line, col, nil
}
