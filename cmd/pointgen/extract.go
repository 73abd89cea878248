package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pointgen/internal/extract"
	"github.com/jackzampolin/pointgen/internal/output"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file|-]",
	Short: "Pull JSON fragments out of a model reply",
	Long: `Extract runs the response extractor over arbitrary text and prints every
JSON fragment it recovers. Reads stdin when the argument is "-" or absent.

Examples:
  pointgen extract reply.txt
  pbpaste | pointgen extract -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		var data []byte
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		frags := extract.New(logger).Extract(string(data))
		if frags == nil {
			frags = []any{}
		}
		return output.Print(frags)
	},
}
