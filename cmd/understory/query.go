package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var flagFile string

func init() {
	completeCmd.Flags().StringVar(&flagFile, "file", "", "scope completions to the imports of this file")
}

var completeCmd = &cobra.Command{
	Use:   "complete <prefix> [path]",
	Short: "List completion candidates for a symbol prefix",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, _, err := loadEngine(ctx, args[1:])
		if err != nil {
			return err
		}
		defer e.Close()

		prefix := args[0]
		entries, err := completions(e, prefix)
		if err != nil {
			return err
		}
		printEntries(os.Stdout, entries)
		return nil
	},
}

var typeCmd = &cobra.Command{
	Use:   "type <file> <line> <col>",
	Short: "Show the type of the expression at a 1-based position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		line, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("line: %w", err)
		}
		col, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("col: %w", err)
		}

		e, _, err := loadEngine(ctx, []string{file})
		if err != nil {
			return err
		}
		defer e.Close()

		ty, err := e.TypeAtPosition(ctx, file, line, col)
		if err != nil {
			return err
		}
		fmt.Println(ty)
		return nil
	},
}

var importsCmd = &cobra.Command{
	Use:   "imports <name> [file]",
	Short: "Suggest modules to import for an unresolved identifier",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		e, _, err := loadEngine(ctx, args[1:])
		if err != nil {
			return err
		}
		defer e.Close()

		modules, err := e.ImportsFor(ctx, args[0], file)
		if err != nil {
			return err
		}
		for _, m := range modules {
			fmt.Println(m)
		}
		return nil
	},
}

var declCmd = &cobra.Command{
	Use:   "decl <name> [path]",
	Short: "Show where a symbol is declared",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := loadEngine(cmd.Context(), args[1:])
		if err != nil {
			return err
		}
		defer e.Close()

		decls, err := e.DeclarationsOf(args[0])
		if err != nil {
			return err
		}
		printDeclarations(os.Stdout, decls)
		return nil
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules [prefix] [path]",
	Short: "List known module names, optionally prefix-filtered",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		e, _, err := loadEngine(ctx, args[1:])
		if err != nil {
			return err
		}
		defer e.Close()

		modules, err := e.ModuleCompletions(ctx, prefix)
		if err != nil {
			return err
		}
		for _, m := range modules {
			fmt.Println(m)
		}
		return nil
	},
}
