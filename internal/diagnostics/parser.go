package diagnostics

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// headerRe matches a GHC-style diagnostic header:
//
//	Foo.hs:3:5: error: Variable not in scope: bar
//	src/Bar.hs:10:1: Warning:
//	Baz.hs:7:12-20:
//
// Group 1 is the file path, 2 the line, 3 the column (a span keeps only its
// start), 4 the rest of the line (possible severity keyword plus message).
var headerRe = regexp.MustCompile(`^([^:\s][^:]*\.l?hs):(\d+):(\d+)(?:-\d+)?:\s*(.*)$`)

// severityRe peels an optional leading severity keyword off the header
// rest, dropping flag tags like [-Wunused-imports] that follow it.
var severityRe = regexp.MustCompile(`^([Ee]rror|[Ww]arning):\s*(?:\[[^\]]*\]\s*)*(.*)$`)

// Parse converts raw compiler output into Diagnostics. The grammar is line
// oriented: a header line carries path, position, and an optional severity
// keyword; indented lines that follow continue the message. Lines matching
// neither are skipped; one malformed line never aborts the batch. Relative
// paths are normalized against projectRoot.
//
// Within each file the result is ordered by (line, column) ascending; ties
// keep encounter order.
func Parse(raw string, projectRoot string) []Diagnostic {
	var (
		diags   []Diagnostic
		current *Diagnostic
		body    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Message = strings.TrimSpace(strings.Join(body, "\n"))
		diags = append(diags, *current)
		current, body = nil, nil
	}

	for _, line := range strings.Split(raw, "\n") {
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			lineNo, _ := strconv.Atoi(m[2])
			colNo, _ := strconv.Atoi(m[3])
			sev, msg := splitSeverity(m[4])
			file := m[1]
			if !filepath.IsAbs(file) {
				file = filepath.Join(projectRoot, file)
			}
			current = &Diagnostic{
				File:     filepath.Clean(file),
				Line:     lineNo,
				Column:   colNo,
				Severity: sev,
			}
			if msg != "" {
				body = append(body, msg)
			}
			continue
		}
		if current != nil && line != "" && (line[0] == ' ' || line[0] == '\t') {
			if t := strings.TrimSpace(line); t != "" {
				body = append(body, t)
			}
			continue
		}
		// Anything else ends the current diagnostic and is skipped.
		flush()
	}
	flush()

	// Stable sort keeps encounter order for equal positions.
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return diags
}

// splitSeverity separates the optional severity keyword from the start of a
// header's message text. No keyword means error: old GHC emits bare
// "file:line:col:" headers for errors only.
func splitSeverity(rest string) (Severity, string) {
	if m := severityRe.FindStringSubmatch(rest); m != nil {
		if strings.EqualFold(m[1], "warning") {
			return SeverityWarning, m[2]
		}
		return SeverityError, m[2]
	}
	return SeverityError, rest
}

// ByFile groups diagnostics by their file path, preserving order.
func ByFile(diags []Diagnostic) map[string][]Diagnostic {
	out := make(map[string][]Diagnostic)
	for _, d := range diags {
		out[d.File] = append(out[d.File], d)
	}
	return out
}
