package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pointgen/internal/chunk"
	"github.com/jackzampolin/pointgen/internal/config"
	"github.com/jackzampolin/pointgen/internal/extract"
	"github.com/jackzampolin/pointgen/internal/output"
	"github.com/jackzampolin/pointgen/internal/pipeline"
	"github.com/jackzampolin/pointgen/internal/pointid"
	"github.com/jackzampolin/pointgen/internal/prompts"
	"github.com/jackzampolin/pointgen/internal/providers"
	"github.com/jackzampolin/pointgen/internal/store"
)

var (
	runPrompt         string
	runChapter        string
	runMode           string
	runNoSibling      bool
	runModel          string
	runProvider       string
	runMappingFile    string
	runSeed           string
	runOut            string
	runResume         bool
	runDryRun         bool
	runResponseSchema string
)

var runCmd = &cobra.Command{
	Use:   "run <input.json>",
	Short: "Generate points for one chapter file",
	Long: `Run sends each chunk of the input to the model, appending every reply to
the run file as it arrives, then assembles the replies into numbered points.

Interrupting a run (Ctrl+C) stops it before the next chunk and leaves the
run file in progress. Pass --resume to pick up where it stopped, or use
"pointgen finalize" to assemble what was collected.

Examples:
  pointgen run chapter3.json --prompt prompts/points.txt
  pointgen run chapter3.json --prompt p.txt --mode part --provider openrouter
  pointgen run chapter3.json --prompt p.txt --mapping-file book-ids.txt
  pointgen run chapter3.json --prompt p.txt --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, h, mgr, err := setup()
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		prompt, err := prompts.LoadFile(runPrompt)
		if err != nil {
			return err
		}
		if missing := prompts.Missing(prompt.Text, prompts.ChunkVars(chunk.Chunk{}, 0, "")); len(missing) > 0 {
			logger.Warn("prompt has placeholders that will not be filled", "placeholders", missing)
		}

		modeName := runMode
		if modeName == "" {
			modeName = cfg.Defaults.Mode
		}
		mode, err := chunk.ParseMode(modeName)
		if err != nil {
			return err
		}
		chunkOpts := chunk.Options{SiblingContext: cfg.Defaults.SiblingContext && !runNoSibling}

		ledgerOpts, err := ledgerOptions(cfg)
		if err != nil {
			return err
		}

		var validator *extract.Validator
		if runResponseSchema != "" {
			raw, err := os.ReadFile(runResponseSchema)
			if err != nil {
				return fmt.Errorf("failed to read response schema: %w", err)
			}
			if validator, err = extract.NewValidator(raw); err != nil {
				return err
			}
		}

		inv, model, err := resolveInvoker(mgr, logger)
		if err != nil {
			return err
		}
		recorder := providers.NewRecorder(providers.NewRetrying(inv, cfg.RetryConfig(), logger), logger)

		outPath := runOut
		if outPath == "" {
			if err := h.EnsureExists(); err != nil {
				return err
			}
			outPath = pipeline.DefaultOutputPath(h.RunsPath(), args[0])
		}

		runner := pipeline.NewRunner(pipeline.RunnerConfig{
			Invoker:   recorder,
			Logger:    logger,
			Validator: validator,
		})
		f, err := runner.Run(ctx, pipeline.Job{
			InputPath:   args[0],
			OutputPath:  outPath,
			Prompt:      prompt,
			Model:       model,
			Mode:        mode,
			Chunk:       chunkOpts,
			ChapterName: runChapter,
			Ledger:      ledgerOpts,
			Resume:      runResume,
		})
		if err != nil {
			return err
		}

		totals := recorder.Totals()
		return output.Print(runSummary(outPath, f, len(recorder.Calls()), totals))
	},
}

func init() {
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "prompt template file (required)")
	runCmd.Flags().StringVar(&runChapter, "chapter", "", "chapter name override for metadata and prompts")
	runCmd.Flags().StringVar(&runMode, "mode", "", "chunk mode: part, subchapter or subchapter-batch (default from config)")
	runCmd.Flags().BoolVar(&runNoSibling, "no-sibling-context", false, "send only the current topic, not its whole subchapter")
	runCmd.Flags().StringVar(&runModel, "model", "", "model name (default from provider config)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider name from config (default from config)")
	runCmd.Flags().StringVar(&runMappingFile, "mapping-file", "", "file with one starting PointId per chapter")
	runCmd.Flags().StringVar(&runSeed, "seed", "", "10-digit starting PointId")
	runCmd.Flags().StringVar(&runOut, "out", "", "run file path (default: <home>/runs/<input>.points.json)")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "continue an in-progress run file")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use a mock model that answers {}")
	runCmd.Flags().StringVar(&runResponseSchema, "response-schema", "", "JSON schema to check extracted fragments against")
	_ = runCmd.MarkFlagRequired("prompt")
}

// ledgerOptions applies --mapping-file and --seed over the config section.
func ledgerOptions(cfg *config.Config) (pointid.LedgerOptions, error) {
	opts, err := cfg.LedgerOptions()
	if err != nil {
		return opts, err
	}
	if runSeed != "" {
		if err := pointid.Validate(runSeed); err != nil {
			return opts, err
		}
		opts.Seed = runSeed
		opts.Mapping = nil
	}
	if runMappingFile != "" {
		mapping, err := pointid.ReadMappingFile(runMappingFile)
		if err != nil {
			return opts, err
		}
		opts.Mapping = mapping
	}
	return opts, nil
}

// resolveInvoker picks the configured provider, or the mock on --dry-run.
// Config changes during the run retune the provider's rate limiter.
func resolveInvoker(mgr *config.Manager, logger *slog.Logger) (providers.Invoker, string, error) {
	if runDryRun {
		return &providers.MockInvoker{Default: "{}"}, runModel, nil
	}

	cfg := mgr.Get()
	registry := providers.NewRegistryFromConfig(cfg.ToProviderConfigs(), logger)
	mgr.OnChange(func(c *config.Config) {
		registry.Reload(c.ToProviderConfigs())
	})
	mgr.WatchConfig()

	name := runProvider
	if name == "" {
		name = cfg.Defaults.Provider
	}
	inv, err := registry.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w (configured: %v)", err, registry.List())
	}

	model := runModel
	if m, ok := inv.(interface{ Model() string }); ok && model == "" {
		model = m.Model()
	}
	return inv, model, nil
}

func runSummary(path string, f *store.File, calls int, usage providers.Usage) map[string]any {
	return map[string]any{
		"path":             path,
		"status":           f.Metadata.Status,
		"chapter":          f.Metadata.Chapter,
		"start_pointid":    f.Metadata.StartPointID,
		"total_points":     f.Metadata.TotalPoints,
		"topics_processed": f.Metadata.TopicsProcessed,
		"model_calls":      calls,
		"prompt_tokens":    usage.PromptTokens,
		"output_tokens":    usage.CompletionTokens,
	}
}
