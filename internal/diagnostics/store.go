package diagnostics

import "sync"

// Store maps file paths to their current diagnostics. Updates are whole-list
// replacements per file: a rebuild that supersedes earlier output replaces
// every affected list atomically, so stale entries cannot linger. Reads
// return copies.
type Store struct {
	mu     sync.RWMutex
	byFile map[string][]Diagnostic
}

func NewStore() *Store {
	return &Store{byFile: make(map[string][]Diagnostic)}
}

// Replace installs the diagnostics for one file, dropping whatever was
// there. An empty list removes the entry.
func (s *Store) Replace(file string, diags []Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(diags) == 0 {
		delete(s.byFile, file)
		return
	}
	s.byFile[file] = append([]Diagnostic(nil), diags...)
}

// ReplaceAll swaps the entire store contents for the result of one build.
// Files absent from byFile lose their diagnostics; there is no merging.
// Returns the set of files whose visible diagnostics actually changed
// (gained, lost, or replaced with a different list), for change
// notification. A clean rebuild that reproduces the same lists reports
// nothing.
func (s *Store) ReplaceAll(byFile map[string][]Diagnostic) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string][]Diagnostic, len(byFile))
	for f, ds := range byFile {
		fresh[f] = append([]Diagnostic(nil), ds...)
	}

	changed := make(map[string]bool)
	for f, old := range s.byFile {
		if !equalDiags(old, fresh[f]) {
			changed[f] = true
		}
	}
	for f, ds := range fresh {
		if !equalDiags(s.byFile[f], ds) {
			changed[f] = true
		}
	}
	s.byFile = fresh

	files := make([]string, 0, len(changed))
	for f := range changed {
		files = append(files, f)
	}
	return files
}

func equalDiags(a, b []Diagnostic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Get returns a snapshot of the diagnostics for file. Never nil-aliases the
// stored slice.
func (s *Store) Get(file string) []Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Diagnostic(nil), s.byFile[file]...)
}

// Files lists every file that currently has diagnostics.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make([]string, 0, len(s.byFile))
	for f := range s.byFile {
		files = append(files, f)
	}
	return files
}

// Clear drops all diagnostics. Used when the project is invalidated.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFile = make(map[string][]Diagnostic)
}
