// Package index is the project-wide symbol index behind autocompletion.
// It is a SQLite data layer over an in-memory database: nothing persists
// across restarts, the index is rebuilt from source on project load.
//
// Updates are module-granular. Update replaces every row previously
// attributed to a file's module inside one transaction and never touches
// other modules, so concurrent rescans of different files commute.
package index

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jward/understory/internal/scan"
)

// Store is the SQLite data access layer for the symbol index.
type Store struct {
	db *sql.DB
}

// NewStore opens a fresh in-memory database. A single connection is used so
// every statement sees the same memory database.
func NewStore() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database, discarding the index.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS modules (
  id               INTEGER PRIMARY KEY,
  name             TEXT NOT NULL,
  file             TEXT NOT NULL UNIQUE,
  hash             TEXT,
  explicit_exports BOOLEAN NOT NULL DEFAULT FALSE,
  scanned_at       TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
  id        INTEGER PRIMARY KEY,
  module_id INTEGER NOT NULL REFERENCES modules(id),
  name      TEXT NOT NULL,
  kind      TEXT NOT NULL,
  line      INTEGER,
  col       INTEGER,
  exported  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS imports (
  id        INTEGER PRIMARY KEY,
  module_id INTEGER NOT NULL REFERENCES modules(id),
  source    TEXT NOT NULL,
  qualified BOOLEAN NOT NULL DEFAULT FALSE,
  alias     TEXT
);

CREATE INDEX IF NOT EXISTS idx_modules_name ON modules(name);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_module ON symbols(module_id);
CREATE INDEX IF NOT EXISTS idx_imports_module ON imports(module_id);
`

// SymbolEntry is one completion candidate: a symbol grouped under the
// module that declares it.
type SymbolEntry struct {
	Module string
	Name   string
	Kind   string
}

// Declaration is a symbol's declaration site, for go-to-declaration.
type Declaration struct {
	Module string
	Name   string
	Kind   string
	File   string
	Line   int
	Column int
}

// Update replaces the indexed module for file with info. All previous rows
// for that file's module record are deleted and fresh ones inserted in one
// transaction; no other module is touched.
func (s *Store) Update(file, hash string, info *scan.ModuleInfo) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("update %s: begin: %w", file, err)
	}
	defer tx.Rollback()

	if err := deleteFileTx(tx, file); err != nil {
		return fmt.Errorf("update %s: %w", file, err)
	}

	res, err := tx.Exec(
		`INSERT INTO modules (name, file, hash, explicit_exports, scanned_at) VALUES (?, ?, ?, ?, ?)`,
		info.Module, file, hash, info.ExplicitExports, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update %s: insert module: %w", file, err)
	}
	moduleID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("update %s: module id: %w", file, err)
	}

	isExported := make(map[string]bool, len(info.Exports))
	for _, name := range info.Exports {
		isExported[name] = true
	}
	declared := make(map[string]bool, len(info.Declarations))
	for _, d := range info.Declarations {
		if declared[d.Name] {
			continue
		}
		declared[d.Name] = true
		_, err := tx.Exec(
			`INSERT INTO symbols (module_id, name, kind, line, col, exported) VALUES (?, ?, ?, ?, ?, ?)`,
			moduleID, d.Name, d.Kind, d.Line, d.Column, isExported[d.Name],
		)
		if err != nil {
			return fmt.Errorf("update %s: insert symbol %q: %w", file, d.Name, err)
		}
	}
	// Exports with no matching declaration (re-exports, inspector gaps)
	// still participate in completion.
	for _, name := range info.Exports {
		if declared[name] {
			continue
		}
		declared[name] = true
		_, err := tx.Exec(
			`INSERT INTO symbols (module_id, name, kind, exported) VALUES (?, ?, 'value', TRUE)`,
			moduleID, name,
		)
		if err != nil {
			return fmt.Errorf("update %s: insert export %q: %w", file, name, err)
		}
	}

	for _, imp := range info.Imports {
		var alias any
		if imp.Alias != "" {
			alias = imp.Alias
		}
		_, err := tx.Exec(
			`INSERT INTO imports (module_id, source, qualified, alias) VALUES (?, ?, ?, ?)`,
			moduleID, imp.Module, imp.Qualified, alias,
		)
		if err != nil {
			return fmt.Errorf("update %s: insert import %q: %w", file, imp.Module, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %s: commit: %w", file, err)
	}
	return nil
}

// deleteFileTx removes the module row for file plus its symbols and imports.
func deleteFileTx(tx *sql.Tx, file string) error {
	var moduleID int64
	err := tx.QueryRow(`SELECT id FROM modules WHERE file = ?`, file).Scan(&moduleID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup module: %w", err)
	}
	for _, stmt := range []string{
		`DELETE FROM symbols WHERE module_id = ?`,
		`DELETE FROM imports WHERE module_id = ?`,
		`DELETE FROM modules WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, moduleID); err != nil {
			return fmt.Errorf("delete module data: %w", err)
		}
	}
	return nil
}

// DeleteFile removes the indexed module for file, used when the file is
// deleted from disk.
func (s *Store) DeleteFile(file string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete %s: begin: %w", file, err)
	}
	defer tx.Rollback()
	if err := deleteFileTx(tx, file); err != nil {
		return fmt.Errorf("delete %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s: commit: %w", file, err)
	}
	return nil
}

// FileHash returns the content hash recorded for file, or "" when the file
// has never been indexed.
func (s *Store) FileHash(file string) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRow(`SELECT hash FROM modules WHERE file = ?`, file).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("file hash %s: %w", file, err)
	}
	return hash.String, nil
}

// Lookup returns every exported symbol whose name starts with prefix,
// matched case-sensitively, ordered by (name, module).
func (s *Store) Lookup(prefix string) ([]SymbolEntry, error) {
	rows, err := s.db.Query(`
		SELECT m.name, s.name, s.kind
		FROM symbols s JOIN modules m ON s.module_id = m.id
		WHERE s.exported AND substr(s.name, 1, ?) = ?
		ORDER BY s.name, m.name`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", prefix, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ModulesOf returns the distinct modules exporting a symbol with exactly
// this name. Drives import suggestions for unresolved identifiers.
func (s *Store) ModulesOf(symbol string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT m.name
		FROM symbols s JOIN modules m ON s.module_id = m.id
		WHERE s.exported AND s.name = ?
		ORDER BY m.name`,
		symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("modules of %q: %w", symbol, err)
	}
	defer rows.Close()
	var modules []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		modules = append(modules, name)
	}
	return modules, rows.Err()
}

// CompletionsForFile returns prefix-matched candidates visible in file:
// everything its own module declares, plus the exports of every module the
// file imports. restrict, when non-empty, limits results to those modules
// (used for qualified references after alias resolution).
func (s *Store) CompletionsForFile(file, prefix string, restrict []string) ([]SymbolEntry, error) {
	query := `
		SELECT m.name, s.name, s.kind
		FROM symbols s JOIN modules m ON s.module_id = m.id
		WHERE substr(s.name, 1, ?) = ?
		  AND (m.file = ?
		       OR (s.exported AND m.name IN (
		             SELECT i.source FROM imports i
		             JOIN modules om ON i.module_id = om.id
		             WHERE om.file = ?)))`
	args := []any{len(prefix), prefix, file, file}
	if len(restrict) > 0 {
		query += ` AND m.name IN (` + placeholderList(len(restrict)) + `)`
		for _, mod := range restrict {
			args = append(args, mod)
		}
	}
	query += ` ORDER BY s.name, m.name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("completions for %s: %w", file, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ImportsOf returns the import statements recorded for file.
func (s *Store) ImportsOf(file string) ([]scan.Import, error) {
	rows, err := s.db.Query(`
		SELECT i.source, i.qualified, i.alias
		FROM imports i JOIN modules m ON i.module_id = m.id
		WHERE m.file = ?`,
		file,
	)
	if err != nil {
		return nil, fmt.Errorf("imports of %s: %w", file, err)
	}
	defer rows.Close()
	var imports []scan.Import
	for rows.Next() {
		var (
			imp   scan.Import
			alias sql.NullString
		)
		if err := rows.Scan(&imp.Module, &imp.Qualified, &alias); err != nil {
			return nil, err
		}
		imp.Alias = alias.String
		imports = append(imports, imp)
	}
	return imports, rows.Err()
}

// DeclarationsOf returns every declaration site of name across the project,
// for go-to-declaration.
func (s *Store) DeclarationsOf(name string) ([]Declaration, error) {
	rows, err := s.db.Query(`
		SELECT m.name, s.name, s.kind, m.file, s.line, s.col
		FROM symbols s JOIN modules m ON s.module_id = m.id
		WHERE s.name = ? AND s.line > 0
		ORDER BY m.name`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("declarations of %q: %w", name, err)
	}
	defer rows.Close()
	var decls []Declaration
	for rows.Next() {
		var (
			d    Declaration
			line sql.NullInt64
			col  sql.NullInt64
		)
		if err := rows.Scan(&d.Module, &d.Name, &d.Kind, &d.File, &line, &col); err != nil {
			return nil, err
		}
		d.Line = int(line.Int64)
		d.Column = int(col.Int64)
		decls = append(decls, d)
	}
	return decls, rows.Err()
}

// Modules lists every indexed module name.
func (s *Store) Modules() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM modules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()
	var modules []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		modules = append(modules, name)
	}
	return modules, rows.Err()
}

// Files lists every indexed file path.
func (s *Store) Files() ([]string, error) {
	rows, err := s.db.Query(`SELECT file FROM modules ORDER BY file`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ExportsOf returns the exported symbol names of module, ordered by name.
func (s *Store) ExportsOf(module string) ([]SymbolEntry, error) {
	rows, err := s.db.Query(`
		SELECT m.name, s.name, s.kind
		FROM symbols s JOIN modules m ON s.module_id = m.id
		WHERE s.exported AND m.name = ?
		ORDER BY s.name`,
		module,
	)
	if err != nil {
		return nil, fmt.Errorf("exports of %q: %w", module, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Clear drops every row, used on project invalidation.
func (s *Store) Clear() error {
	for _, stmt := range []string{
		`DELETE FROM symbols`,
		`DELETE FROM imports`,
		`DELETE FROM modules`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]SymbolEntry, error) {
	var entries []SymbolEntry
	for rows.Next() {
		var e SymbolEntry
		if err := rows.Scan(&e.Module, &e.Name, &e.Kind); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
