package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/format"
	"github.com/jward/understory/internal/toolrun"
)

var (
	flagDiff  bool
	flagWrite bool
)

func init() {
	fmtCmd.Flags().BoolVar(&flagDiff, "diff", false, "print a unified diff instead of the formatted text")
	fmtCmd.Flags().BoolVar(&flagWrite, "write", false, "rewrite the file in place")
}

var fmtCmd = &cobra.Command{
	Use:   "fmt [file]",
	Short: "Format a file (or stdin) through the external formatter",
	Long:  "Runs the configured formatter over the file or stdin. On formatter failure the input is left untouched and the failure is reported.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		var (
			text string
			file string
		)
		if len(args) == 1 {
			file = args[0]
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			text = string(data)
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(data)
		}

		bridge := format.NewBridge(toolrun.ExecRunner{}, cfg.Formatter)
		formatted, err := bridge.Format(cmd.Context(), text)
		if err != nil {
			// The buffer is never replaced on failure.
			return fmt.Errorf("formatting failed, input unchanged: %w", err)
		}

		if flagDiff {
			diff, err := format.Diff(text, formatted)
			if err != nil {
				return err
			}
			fmt.Print(diff)
			return nil
		}
		if flagWrite && file != "" {
			info, err := os.Stat(file)
			if err != nil {
				return err
			}
			return os.WriteFile(file, []byte(formatted), info.Mode().Perm())
		}
		fmt.Print(formatted)
		return nil
	},
}
