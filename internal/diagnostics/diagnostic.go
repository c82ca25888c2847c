// Package diagnostics holds the structured form of compiler output: the
// Diagnostic record, the parser that recovers Diagnostics from raw build
// tool text, and the Store that is the single source of truth for what the
// editor currently highlights.
package diagnostics

import "fmt"

// Severity classifies a diagnostic. Unknown keywords in compiler output map
// to SeverityError; a message the compiler bothered to emit is not hidden
// because its label was unrecognized.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Diagnostic is one located compiler message. Line and Column are 1-based,
// matching compiler output. File is absolute once parsed (relative paths are
// normalized against the project root).
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
}
