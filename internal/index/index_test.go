package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/scan"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

func widgetModule() *scan.ModuleInfo {
	return &scan.ModuleInfo{
		Module:          "Data.Widget",
		Exports:         []string{"mkWidget", "Widget"},
		ExplicitExports: true,
		Imports: []scan.Import{
			{Module: "Data.Text", Qualified: true, Alias: "T"},
		},
		Declarations: []scan.Declaration{
			{Name: "Widget", Kind: "data", Line: 5, Column: 1},
			{Name: "mkWidget", Kind: "function", Line: 10, Column: 1},
			{Name: "internalHelper", Kind: "function", Line: 20, Column: 1},
		},
	}
}

func TestStore_UpdateAndLookup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	entries, err := s.Lookup("mk")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SymbolEntry{Module: "Data.Widget", Name: "mkWidget", Kind: "function"}, entries[0])

	// Unexported declarations never surface in project-wide lookup.
	entries, err = s.Lookup("internal")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_LookupIsCaseSensitive(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	entries, err := s.Lookup("Wid")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Widget", entries[0].Name)

	entries, err = s.Lookup("wid")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_UpdateReplacesModule(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	// A rescan carrying a different surface fully supersedes the old rows.
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h2", &scan.ModuleInfo{
		Module:          "Data.Widget",
		Exports:         []string{"newWidget"},
		ExplicitExports: true,
		Declarations: []scan.Declaration{
			{Name: "newWidget", Kind: "function", Line: 3, Column: 1},
		},
	}))

	entries, err := s.Lookup("mk")
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = s.Lookup("new")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	hash, err := s.FileHash("/proj/Data/Widget.hs")
	require.NoError(t, err)
	assert.Equal(t, "h2", hash)
}

func TestStore_UpdateLeavesOtherModulesAlone(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))
	require.NoError(t, s.Update("/proj/Lib.hs", "h2", &scan.ModuleInfo{
		Module:  "Lib",
		Exports: []string{"runLib"},
		Declarations: []scan.Declaration{
			{Name: "runLib", Kind: "function", Line: 4, Column: 1},
		},
	}))

	require.NoError(t, s.Update("/proj/Lib.hs", "h3", &scan.ModuleInfo{Module: "Lib"}))

	entries, err := s.Lookup("mkWidget")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_ExportWithoutDeclaration(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	// Re-exported names have no local declaration site but still complete.
	require.NoError(t, s.Update("/proj/Lib.hs", "h1", &scan.ModuleInfo{
		Module:          "Lib",
		Exports:         []string{"reExported"},
		ExplicitExports: true,
	}))

	entries, err := s.Lookup("reEx")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "value", entries[0].Kind)

	// No declaration site, so go-to-declaration finds nothing.
	decls, err := s.DeclarationsOf("reExported")
	require.NoError(t, err)
	assert.Empty(t, decls)
}

func TestStore_ModulesOf(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for _, m := range []struct {
		file, name string
	}{
		{"/proj/A.hs", "A"},
		{"/proj/B.hs", "B"},
	} {
		require.NoError(t, s.Update(m.file, "h", &scan.ModuleInfo{
			Module:  m.name,
			Exports: []string{"shared"},
			Declarations: []scan.Declaration{
				{Name: "shared", Kind: "function", Line: 1, Column: 1},
			},
		}))
	}

	modules, err := s.ModulesOf("shared")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, modules)

	modules, err = s.ModulesOf("missing")
	require.NoError(t, err)
	assert.Empty(t, modules)
}

func TestStore_CompletionsForFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))
	require.NoError(t, s.Update("/proj/Main.hs", "h2", &scan.ModuleInfo{
		Module:  "Main",
		Exports: []string{"main"},
		Imports: []scan.Import{
			{Module: "Data.Widget"},
		},
		Declarations: []scan.Declaration{
			{Name: "main", Kind: "function", Line: 1, Column: 1},
			{Name: "mkLocal", Kind: "function", Line: 5, Column: 1},
		},
	}))

	// Main sees its own declarations, exported or not, plus the exports of
	// what it imports.
	entries, err := s.CompletionsForFile("/proj/Main.hs", "mk", nil)
	require.NoError(t, err)
	names := entryNames(entries)
	assert.ElementsMatch(t, []string{"mkLocal", "mkWidget"}, names)

	// Widget.hs does not import Main, so main is invisible there.
	entries, err = s.CompletionsForFile("/proj/Data/Widget.hs", "ma", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Unexported names of an imported module stay hidden.
	entries, err = s.CompletionsForFile("/proj/Main.hs", "internal", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_CompletionsForFileRestricted(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))
	require.NoError(t, s.Update("/proj/Main.hs", "h2", &scan.ModuleInfo{
		Module: "Main",
		Imports: []scan.Import{
			{Module: "Data.Widget", Qualified: true, Alias: "W"},
		},
		Declarations: []scan.Declaration{
			{Name: "mkLocal", Kind: "function", Line: 5, Column: 1},
		},
	}))

	// A qualified reference restricts candidates to the resolved module.
	entries, err := s.CompletionsForFile("/proj/Main.hs", "mk", []string{"Data.Widget"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mkWidget", entries[0].Name)
}

func TestStore_ImportsOf(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	imports, err := s.ImportsOf("/proj/Data/Widget.hs")
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, scan.Import{Module: "Data.Text", Qualified: true, Alias: "T"}, imports[0])

	imports, err = s.ImportsOf("/proj/Unknown.hs")
	require.NoError(t, err)
	assert.Empty(t, imports)
}

func TestStore_DeclarationsOf(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	decls, err := s.DeclarationsOf("mkWidget")
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, Declaration{
		Module: "Data.Widget",
		Name:   "mkWidget",
		Kind:   "function",
		File:   "/proj/Data/Widget.hs",
		Line:   10,
		Column: 1,
	}, decls[0])
}

func TestStore_DeleteFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	require.NoError(t, s.DeleteFile("/proj/Data/Widget.hs"))

	entries, err := s.Lookup("mk")
	require.NoError(t, err)
	assert.Empty(t, entries)

	files, err := s.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	// Deleting an unindexed file is a no-op.
	require.NoError(t, s.DeleteFile("/proj/Gone.hs"))
}

func TestStore_ModulesFilesExports(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	modules, err := s.Modules()
	require.NoError(t, err)
	assert.Equal(t, []string{"Data.Widget"}, modules)

	files, err := s.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"/proj/Data/Widget.hs"}, files)

	exports, err := s.ExportsOf("Data.Widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"Widget", "mkWidget"}, entryNames(exports))
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Update("/proj/Data/Widget.hs", "h1", widgetModule()))

	require.NoError(t, s.Clear())

	modules, err := s.Modules()
	require.NoError(t, err)
	assert.Empty(t, modules)

	hash, err := s.FileHash("/proj/Data/Widget.hs")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func entryNames(entries []SymbolEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}
