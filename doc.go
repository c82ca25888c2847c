// Package understory is a live development-support engine for Haskell
// projects, designed to sit behind a text editor. It keeps three things in
// sync while files are edited and saved out of order: compiler diagnostics,
// a project-wide index of exported symbols for autocompletion, and
// on-demand type and import information for the symbol under the cursor.
//
// # Pipeline
//
// A save event triggers two independent workflows:
//
//  1. Build: the project's build tool runs with the project root as working
//     directory; its combined output is parsed into Diagnostics and
//     committed to the diagnostics store as a whole-store replacement.
//  2. Rescan: the saved file goes through the symbol scanner (external
//     inspector or the embedded header parser) and its module's index
//     entries are replaced.
//
// Builds are generation gated: each job carries the generation current at
// launch, and only output whose generation is still current is committed.
// Overlapping builds therefore cannot regress visible diagnostics no
// matter how they finish. Rescans need no gate; they are per-file and
// commutative.
//
// # Usage
//
// Create an Engine, load a project, and feed it events:
//
//	cfg, err := understory.LoadConfig("understory.yaml")
//	if err != nil { ... }
//	e, err := understory.New(cfg)
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	err = e.LoadProject(ctx, "path/to/Main.hs")
//	e.FileSaved(ctx, "path/to/Main.hs")
//
//	diags := e.Diagnostics("path/to/Main.hs")
//	entries, err := e.Completions("path/to/Main.hs", "fol")
//	ty, err := e.TypeAt(ctx, "path/to/Main.hs", 42)
//
// Queries serve from in-memory state and never block on a running build;
// before the initial scan finishes they return whatever partial state has
// accumulated.
//
// # External tools
//
// The compiler, inspector, inference helper, and formatter are external
// executables configured in internal/config and invoked through
// internal/toolrun. Their failures are converted to typed errors at that
// boundary; diagnostics and completions degrade to stale-but-present
// rather than disappearing.
package understory
