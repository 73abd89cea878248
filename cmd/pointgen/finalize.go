package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pointgen/internal/extract"
	"github.com/jackzampolin/pointgen/internal/output"
	"github.com/jackzampolin/pointgen/internal/pipeline"
)

var finalizeSchema string

var finalizeCmd = &cobra.Command{
	Use:   "finalize <run.json>",
	Short: "Assemble points from an in-progress run file",
	Long: `Finalize runs assembly over the raw responses collected so far, writes the
numbered points and marks the file completed. A completed file is left as is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		cfg := pipeline.RunnerConfig{Logger: logger}
		if finalizeSchema != "" {
			raw, err := os.ReadFile(finalizeSchema)
			if err != nil {
				return err
			}
			if cfg.Validator, err = extract.NewValidator(raw); err != nil {
				return err
			}
		}

		f, err := pipeline.NewRunner(cfg).Finalize(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output.Print(map[string]any{
			"path":             args[0],
			"status":           f.Metadata.Status,
			"total_points":     f.Metadata.TotalPoints,
			"topics_processed": f.Metadata.TopicsProcessed,
		})
	},
}

func init() {
	finalizeCmd.Flags().StringVar(&finalizeSchema, "response-schema", "", "JSON schema to check extracted fragments against")
}
