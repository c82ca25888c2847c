// Package format bridges to the external source formatter. The tool reads
// the buffer on stdin and writes the replacement on stdout; a non-zero exit
// or empty output is a *FormatError and the caller keeps the original text.
package format

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/toolrun"
)

// FormatError reports a formatter run that produced no usable replacement.
type FormatError struct {
	ExitCode int
	Stderr   string
}

func (e *FormatError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "empty output"
	}
	return fmt.Sprintf("formatter exited %d: %s", e.ExitCode, msg)
}

// Bridge invokes the formatter. Stateless; safe for concurrent use.
type Bridge struct {
	runner toolrun.Runner
	tool   config.Tool
}

func NewBridge(runner toolrun.Runner, tool config.Tool) *Bridge {
	return &Bridge{runner: runner, tool: tool}
}

// Format runs text through the formatter and returns the replacement.
// On any failure the error is a *FormatError (tool ran, produced nothing
// useful) or a *toolrun.LaunchError (tool could not start); either way the
// original text is not touched here; callers decide what to show.
func (b *Bridge) Format(ctx context.Context, text string) (string, error) {
	res, err := b.runner.Run(ctx, toolrun.Spec{
		Exe:   b.tool.Exe,
		Args:  b.tool.Args,
		Stdin: text,
	})
	if err != nil {
		return "", fmt.Errorf("format: %w", err)
	}
	if res.ExitCode != 0 {
		return "", &FormatError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	if res.Stdout == "" && text != "" {
		return "", &FormatError{Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

// Diff renders a unified diff between the original and formatted text, for
// preview output. Empty when the texts are identical.
func Diff(original, formatted string) (string, error) {
	if original == formatted {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(formatted),
		FromFile: "original",
		ToFile:   "formatted",
		Context:  3,
	})
}
