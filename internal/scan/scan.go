// Package scan extracts a source file's module name, export list, imports,
// and top-level declarations. The heavy lifting is delegated to an external
// inspector executable that parses the file and reports JSON; when no
// inspector is configured the embedded header scanner in fallback.go is
// used, which understands module headers, export lists, imports, and
// top-level declaration forms but not the full language.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/toolrun"
)

// Declaration is one top-level declaration with its source position
// (1-based line and column; zero when the parser did not report one).
type Declaration struct {
	Name   string
	Kind   string // "function", "data", "type", "class", or inspector-reported text
	Line   int
	Column int
}

// Import is one import statement of the scanned module.
type Import struct {
	Module    string
	Qualified bool
	Alias     string // empty when not aliased
}

// ModuleInfo is the scan result for one file.
type ModuleInfo struct {
	Module          string
	Exports         []string // resolved export set (see ExplicitExports)
	ExplicitExports bool     // true when the source carried an export list
	Imports         []Import
	Declarations    []Declaration
}

// ParseError reports that the file's syntax could not be parsed. The caller
// keeps the previous index entries for the file: stale completions beat
// empty ones while the user is mid-edit.
type ParseError struct {
	File   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.File, e.Detail)
}

// Scanner runs scans through the configured inspector, or the embedded
// fallback when none is configured.
type Scanner struct {
	runner    toolrun.Runner
	inspector config.Tool
}

func NewScanner(runner toolrun.Runner, inspector config.Tool) *Scanner {
	return &Scanner{runner: runner, inspector: inspector}
}

// inspectorReport mirrors the inspector's JSON output. A null exportList
// means the module header had no export list, which exports every top-level
// declaration; that is different from an explicit empty list.
type inspectorReport struct {
	Error      string    `json:"error"`
	ModuleName string    `json:"moduleName"`
	ExportList *[]string `json:"exportList"`
	Imports    []struct {
		ImportName string  `json:"importName"`
		Qualified  bool    `json:"qualified"`
		As         *string `json:"as"`
	} `json:"imports"`
	Declarations []struct {
		Identifier string `json:"identifier"`
		Info       string `json:"info"`
		Line       int    `json:"line"`
		Column     int    `json:"column"`
	} `json:"declarations"`
}

// Scan parses file and returns its module information. Scanning the same
// unchanged file twice yields identical results. Syntax failures come back
// as *ParseError; anything else (unreadable file, inspector missing) is a
// plain error.
func (s *Scanner) Scan(ctx context.Context, file string) (*ModuleInfo, error) {
	if s.inspector.Exe == "" {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		return scanSource(file, string(src))
	}

	res, err := s.runner.Run(ctx, toolrun.Spec{
		Exe:  s.inspector.Exe,
		Args: append(append([]string(nil), s.inspector.Args...), file),
	})
	if err != nil {
		return nil, fmt.Errorf("inspector: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, &ParseError{File: file, Detail: strings.TrimSpace(res.Combined())}
	}

	var report inspectorReport
	if err := json.Unmarshal([]byte(res.Stdout), &report); err != nil {
		return nil, fmt.Errorf("inspector output for %s: %w", file, err)
	}
	if report.Error != "" {
		return nil, &ParseError{File: file, Detail: report.Error}
	}
	return report.toModuleInfo(), nil
}

func (r *inspectorReport) toModuleInfo() *ModuleInfo {
	info := &ModuleInfo{Module: r.ModuleName}
	for _, imp := range r.Imports {
		i := Import{Module: imp.ImportName, Qualified: imp.Qualified}
		if imp.As != nil {
			i.Alias = *imp.As
		}
		info.Imports = append(info.Imports, i)
	}
	for _, d := range r.Declarations {
		info.Declarations = append(info.Declarations, Declaration{
			Name:   d.Identifier,
			Kind:   normalizeKind(d.Info),
			Line:   d.Line,
			Column: d.Column,
		})
	}
	if r.ExportList != nil {
		info.ExplicitExports = true
		info.Exports = append([]string(nil), *r.ExportList...)
	} else {
		// No export list: every top-level declaration is exported.
		for _, d := range info.Declarations {
			info.Exports = append(info.Exports, d.Name)
		}
	}
	return info
}

// normalizeKind strips the inspector's "(data)" parenthesized form; unknown
// text passes through opaquely.
func normalizeKind(info string) string {
	k := strings.Trim(strings.TrimSpace(info), "()")
	if k == "" {
		return "function"
	}
	return k
}
