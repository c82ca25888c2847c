package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/watch"
)

var (
	flagConfig    string
	flagToolchain string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "understory",
	Short:         "Live build, diagnostics, and completion engine for Haskell projects",
	Long:          "Understory watches a Cabal or Stack project, runs builds on save, parses compiler diagnostics, and maintains a symbol index for autocompletion and type queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "understory.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&flagToolchain, "toolchain", "", "override active toolchain (cabal|stack)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(typeCmd)
	rootCmd.AddCommand(importsCmd)
	rootCmd.AddCommand(declCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(fmtCmd)
}

// loadEngine builds an Engine from config and loads the project enclosing
// path (defaulting to the working directory).
func loadEngine(ctx context.Context, args []string) (*understory.Engine, string, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, "", err
	}
	if flagToolchain != "" {
		if _, ok := cfg.Toolchains[flagToolchain]; !ok {
			return nil, "", fmt.Errorf("unknown toolchain %q", flagToolchain)
		}
		cfg.Toolchain = flagToolchain
	}

	target := "."
	if len(args) > 0 {
		target = args[0]
	}

	e, err := understory.New(cfg)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	if err := e.LoadProject(ctx, target); err != nil {
		e.Close()
		return nil, "", err
	}
	fmt.Fprintf(os.Stderr, "Loaded %s in %s\n",
		e.Project().Root, time.Since(start).Round(time.Millisecond))
	return e, target, nil
}

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Build the project once and print diagnostics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, target, err := loadEngine(ctx, args)
		if err != nil {
			return err
		}
		defer e.Close()

		byFile, err := e.Check(ctx, target)
		if err != nil {
			return err
		}
		printAllDiagnostics(os.Stdout, e)

		errs, warns := countSeverities(byFile)
		fmt.Fprintf(os.Stderr, "%d error(s), %d warning(s)\n", errs, warns)
		if errs > 0 {
			return fmt.Errorf("build reported errors")
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch the project and rebuild on every save",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		e, _, err := loadEngineWithNotify(ctx, args, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		w, err := watch.New(e.Project().Root, cfg.Debounce)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		w.Start()
		defer w.Stop()

		printAllDiagnostics(os.Stdout, e)
		fmt.Fprintf(os.Stderr, "Watching %s\n", e.Project().Root)

		events := make(chan understory.Event)
		go func() {
			defer close(events)
			for {
				select {
				case <-ctx.Done():
					return
				case path, ok := <-w.Saves():
					if !ok {
						return
					}
					fmt.Fprintf(os.Stderr, "Saved: %s\n", path)
					select {
					case events <- understory.FileSavedEvent{Path: path}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()

		if err := e.Serve(ctx, events); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// loadEngineWithNotify is loadEngine plus a diagnostics-updated callback
// that prints each file's fresh diagnostics as builds complete.
func loadEngineWithNotify(ctx context.Context, args []string, cfg *config.Config) (*understory.Engine, string, error) {
	if flagToolchain != "" {
		if _, ok := cfg.Toolchains[flagToolchain]; !ok {
			return nil, "", fmt.Errorf("unknown toolchain %q", flagToolchain)
		}
		cfg.Toolchain = flagToolchain
	}
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	e, err := understory.New(cfg, understory.WithNotify(func(file string, diags []understory.Diagnostic) {
		printFileDiagnostics(os.Stdout, file, diags)
	}))
	if err != nil {
		return nil, "", err
	}
	if err := e.LoadProject(ctx, target); err != nil {
		e.Close()
		return nil, "", err
	}
	return e, target, nil
}

func countSeverities(byFile map[string][]understory.Diagnostic) (errs, warns int) {
	for _, diags := range byFile {
		for _, d := range diags {
			if d.Severity == understory.SeverityError {
				errs++
			} else {
				warns++
			}
		}
	}
	return errs, warns
}
