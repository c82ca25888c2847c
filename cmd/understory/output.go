package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/jward/understory"
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	fileColor = color.New(color.FgCyan)
)

// printFileDiagnostics renders one file's diagnostics, compiler style:
// file:line:col: severity: first message line, continuation indented.
func printFileDiagnostics(w io.Writer, file string, diags []understory.Diagnostic) {
	for _, d := range diags {
		sev := errColor
		if d.Severity == understory.SeverityWarning {
			sev = warnColor
		}
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n",
			fileColor.Sprint(d.File), d.Line, d.Column,
			sev.Sprint(d.Severity.String()), d.Message)
	}
}

// printAllDiagnostics renders every file's current diagnostics in path
// order.
func printAllDiagnostics(w io.Writer, e *understory.Engine) {
	for _, file := range e.DiagnosticFiles() {
		printFileDiagnostics(w, file, e.Diagnostics(file))
	}
}

// printEntries renders completion candidates as aligned columns.
func printEntries(w io.Writer, entries []understory.SymbolEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tMODULE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Kind, e.Module)
	}
	tw.Flush()
}

// printDeclarations renders declaration sites as "file:line:col name kind".
func printDeclarations(w io.Writer, decls []understory.Declaration) {
	for _, d := range decls {
		fmt.Fprintf(w, "%s:%d:%d: %s (%s) in %s\n",
			d.File, d.Line, d.Column, d.Name, d.Kind, d.Module)
	}
}

// completions resolves the candidate list for the complete command: scoped
// to a file's imports when --file is given, project-wide otherwise.
func completions(e *understory.Engine, prefix string) ([]understory.SymbolEntry, error) {
	if flagFile == "" {
		return e.Lookup(prefix)
	}
	abs, err := filepath.Abs(flagFile)
	if err != nil {
		return nil, err
	}
	return e.Completions(abs, prefix)
}
