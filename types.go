package understory

import (
	"github.com/jward/understory/internal/diagnostics"
	"github.com/jward/understory/internal/index"
	"github.com/jward/understory/internal/project"
	"github.com/jward/understory/internal/scan"
)

// Public type aliases for internal types used in the Engine API. These are
// Go type aliases (=), identical to the internal types at compile time.

type Diagnostic = diagnostics.Diagnostic
type Severity = diagnostics.Severity
type SymbolEntry = index.SymbolEntry
type Declaration = index.Declaration
type ModuleInfo = scan.ModuleInfo
type Import = scan.Import
type Project = project.Project

const (
	SeverityError   = diagnostics.SeverityError
	SeverityWarning = diagnostics.SeverityWarning
)
