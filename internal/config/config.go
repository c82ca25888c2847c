// Package config holds the tool and toolchain configuration for understory.
//
// Configuration is loaded from an understory.yaml file at the project root
// (or a path given explicitly). Every field has a default, so a project with
// no config file gets a working cabal-based setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PositionBase is the pinned offset convention for the external inference
// helper: positions are addressed as 1-based line and 1-based column, the
// convention ghc-mod style helpers use on their command line. Byte offsets
// coming from the editor are converted against the file's line table before
// they reach the helper. Verified by integration test, never inferred.
const PositionBase = 1

// Tool describes one external executable and its fixed leading arguments.
type Tool struct {
	Exe  string   `yaml:"exe"`
	Args []string `yaml:"args"`
}

// Toolchain is one named build configuration. The primary and alternate
// toolchains differ in executable and argument shape, not in a hard-coded
// branch; new toolchains are added by adding entries to the map.
type Toolchain struct {
	Name  string   `yaml:"name"`
	Build Tool     `yaml:"build"`
	Env   []string `yaml:"env"`
}

// Config is the full understory configuration.
type Config struct {
	// Toolchain selects the active entry in Toolchains. Empty means
	// auto-detect: "stack" when the project root has a stack.yaml,
	// "cabal" otherwise.
	Toolchain  string               `yaml:"toolchain"`
	Toolchains map[string]Toolchain `yaml:"toolchains"`

	// Inspector parses a single source file and reports its module name,
	// export list, imports, and declarations as JSON. When the exe is
	// empty, the embedded header scanner is used instead.
	Inspector Tool `yaml:"inspector"`

	// Helper answers type-at-position, import suggestions, module list,
	// language pragma, and browse queries (ghc-mod style).
	Helper Tool `yaml:"helper"`

	// Formatter reads source text on stdin and writes the formatted
	// replacement on stdout.
	Formatter Tool `yaml:"formatter"`

	// InferTimeout bounds a single helper query.
	InferTimeout time.Duration `yaml:"infer_timeout"`

	// Debounce is the quiet period the file watcher waits before
	// reporting a burst of writes as one save.
	Debounce time.Duration `yaml:"debounce"`

	// ScanWorkers bounds the parallel workers used for the initial
	// project scan. Zero means GOMAXPROCS.
	ScanWorkers int `yaml:"scan_workers"`
}

// Default returns the built-in configuration: cabal as primary toolchain,
// stack as alternate, ghc-mod as helper, stylish-haskell as formatter.
func Default() *Config {
	return &Config{
		Toolchains: map[string]Toolchain{
			"cabal": {
				Name:  "cabal",
				Build: Tool{Exe: "cabal", Args: []string{"build"}},
			},
			"stack": {
				Name:  "stack",
				Build: Tool{Exe: "stack", Args: []string{"build", "--fast"}},
			},
		},
		Helper:       Tool{Exe: "ghc-mod"},
		Formatter:    Tool{Exe: "stylish-haskell"},
		InferTimeout: 10 * time.Second,
		Debounce:     500 * time.Millisecond,
	}
}

// Load reads path and merges it over the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Toolchain != "" {
		if _, ok := c.Toolchains[c.Toolchain]; !ok {
			return fmt.Errorf("unknown toolchain %q", c.Toolchain)
		}
	}
	if c.InferTimeout <= 0 {
		return fmt.Errorf("infer_timeout must be positive, got %s", c.InferTimeout)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	return nil
}

// ActiveToolchain resolves the toolchain for a project root, honoring the
// explicit setting first and falling back to stack.yaml detection.
func (c *Config) ActiveToolchain(root string) Toolchain {
	name := c.Toolchain
	if name == "" {
		name = "cabal"
		if _, err := os.Stat(filepath.Join(root, "stack.yaml")); err == nil {
			name = "stack"
		}
	}
	if tc, ok := c.Toolchains[name]; ok {
		return tc
	}
	// Unknown name with no entry: synthesize a bare toolchain so the
	// failure surfaces as a launch error, not a panic.
	return Toolchain{Name: name, Build: Tool{Exe: name, Args: []string{"build"}}}
}
