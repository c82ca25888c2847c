package scan

import (
	"regexp"
	"strings"
)

// The embedded fallback scanner. It reads only the declaration surface of a
// module: the module header with its optional export list, import
// statements, and the heads of top-level declarations. Function bodies,
// expressions, and pragmas are ignored, and operator exports are dropped
// (they are filtered out of completions regardless).

var (
	moduleRe  = regexp.MustCompile(`^module\s+([A-Z][\w.']*)\s*(\(?)`)
	importRe  = regexp.MustCompile(`^import\s+(qualified\s+)?([A-Z][\w.']*)(?:\s+as\s+([A-Z][\w']*))?`)
	typeSigRe = regexp.MustCompile(`^([a-z_][\w']*)(\s*,\s*[a-z_][\w']*)*\s*::`)
	declRe    = regexp.MustCompile(`^(data|newtype|type|class)\s+(?:.*=>\s*)?([A-Z][\w']*)`)
	funEqRe   = regexp.MustCompile(`^([a-z_][\w']*)\s+[^=]*=`)
)

// Top-level lines opening with these keywords never declare a completion
// candidate of their own.
var reservedHeads = map[string]bool{
	"instance": true,
	"deriving": true,
	"foreign":  true,
	"infix":    true,
	"infixl":   true,
	"infixr":   true,
	"default":  true,
	"where":    true,
	"let":      true,
	"do":       true,
}

// scanSource parses src without external help. Returns *ParseError when a
// module header opens an export list that never closes.
func scanSource(file, src string) (*ModuleInfo, error) {
	lines := strings.Split(src, "\n")
	info := &ModuleInfo{Module: "Main"}

	seen := make(map[string]bool)
	addDecl := func(name, kind string, line int) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] || reservedHeads[name] {
			return
		}
		seen[name] = true
		info.Declarations = append(info.Declarations, Declaration{
			Name:   name,
			Kind:   kind,
			Line:   line,
			Column: 1,
		})
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := moduleRe.FindStringSubmatch(line); m != nil {
			info.Module = m[1]
			listStart := i
			hasList := m[2] == "("
			if !hasList && !strings.Contains(line, "where") {
				// The export list may open on a later line:
				//	module M
				//	  ( foo
				for j := i + 1; j < len(lines); j++ {
					t := strings.TrimSpace(lines[j])
					if t == "" {
						continue
					}
					if strings.HasPrefix(t, "(") {
						hasList = true
						listStart = j
					}
					break
				}
			}
			if hasList {
				exports, next, err := parseExportList(file, lines, listStart)
				if err != nil {
					return nil, err
				}
				info.ExplicitExports = true
				info.Exports = exports
				i = next
			}
			continue
		}
		if m := importRe.FindStringSubmatch(line); m != nil {
			info.Imports = append(info.Imports, Import{
				Module:    m[2],
				Qualified: m[1] != "",
				Alias:     m[3],
			})
			continue
		}
		if m := declRe.FindStringSubmatch(line); m != nil {
			addDecl(m[2], m[1], i+1)
			continue
		}
		if typeSigRe.MatchString(line) {
			// "foo, bar :: Int" declares each name on the left.
			head := line[:strings.Index(line, "::")]
			for _, name := range strings.Split(head, ",") {
				addDecl(name, "function", i+1)
			}
			continue
		}
		if m := funEqRe.FindStringSubmatch(line); m != nil {
			addDecl(m[1], "function", i+1)
		}
	}

	if !info.ExplicitExports {
		for _, d := range info.Declarations {
			info.Exports = append(info.Exports, d.Name)
		}
	}
	return info, nil
}

// parseExportList collects the parenthesized export list starting on
// lines[start] and returns the exports plus the index of the line holding
// the closing paren. Constructor lists like Foo(..) collapse to Foo.
func parseExportList(file string, lines []string, start int) ([]string, int, error) {
	var (
		buf   strings.Builder
		depth int
	)
	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '(':
				depth++
				if depth == 1 {
					continue // the list's own opening paren
				}
			case ')':
				depth--
				if depth == 0 {
					return splitExports(buf.String()), i, nil
				}
			}
			if depth >= 1 {
				buf.WriteRune(r)
			}
		}
		buf.WriteRune('\n')
	}
	return nil, 0, &ParseError{File: file, Detail: "unterminated export list"}
}

// splitExports turns raw export list text into clean names. Nested
// parenthesized groups (constructor lists, operator names) are erased
// before splitting on commas.
func splitExports(raw string) []string {
	var flat strings.Builder
	depth := 0
	for _, r := range raw {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				flat.WriteRune(r)
			}
		}
	}

	var exports []string
	for _, part := range strings.Split(flat.String(), ",") {
		name := strings.TrimSpace(part)
		name = strings.TrimSpace(strings.TrimPrefix(name, "module "))
		name = strings.TrimSpace(name)
		if idx := strings.IndexAny(name, " \t\n"); idx >= 0 {
			name = name[:idx]
		}
		if name != "" {
			exports = append(exports, name)
		}
	}
	return exports
}
