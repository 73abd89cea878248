package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pointgen/internal/output"
	"github.com/jackzampolin/pointgen/internal/pointid"
	"github.com/jackzampolin/pointgen/internal/source"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger <input.json>",
	Short: "Print the chapter ledger a run would use",
	Long: `Ledger lists each chapter of the input with the PointId its points will
start from. Starting ids come from --mapping-file, then --seed, then the
pointid section of the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, _, mgr, err := setup()
		if err != nil {
			return err
		}

		doc, err := source.Load(args[0], logger)
		if err != nil {
			return err
		}
		chapters := doc.ChapterNames()
		if len(chapters) == 0 {
			chapters = []string{strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))}
		}

		opts, err := ledgerOptions(mgr.Get())
		if err != nil {
			return err
		}
		ledger, err := pointid.BuildLedger(chapters, opts, logger)
		if err != nil {
			return err
		}
		return output.Print(ledger)
	},
}

func init() {
	ledgerCmd.Flags().StringVar(&runMappingFile, "mapping-file", "", "file with one starting PointId per chapter")
	ledgerCmd.Flags().StringVar(&runSeed, "seed", "", "10-digit starting PointId")
}
