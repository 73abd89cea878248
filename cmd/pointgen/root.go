package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/pointgen/internal/config"
	"github.com/jackzampolin/pointgen/internal/home"
	"github.com/jackzampolin/pointgen/internal/output"
	"github.com/jackzampolin/pointgen/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	logFormat    string
)

var rootCmd = &cobra.Command{
	Use:   "pointgen",
	Short: "Turn extracted chapter content into numbered knowledge points with an LLM",
	Long: `pointgen sends a chapter's extracted content to a chat model one chunk at a
time, stores every raw reply as it arrives, and assembles the replies into a
flat list of points with stable 10-digit PointIds.

The pipeline includes:
  - Chunking by part, by topic with sibling context, or by whole subchapter
  - Incremental, resumable run files that survive crashes
  - Tolerant JSON recovery from fenced, chatty or truncated replies
  - Chapter ledgers that keep PointIds unique across a book`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.pointgen/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "pointgen home directory (default: ~/.pointgen)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "text", "log format: text or json",
	)

	// Set output format and load .env files before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if _, err := output.ParseFormat(outputFormat); err != nil {
			return err
		}
		output.SetFormat(outputFormat)
		return loadEnvFiles()
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadEnvFiles loads ./.env then <home>/.env. Variables already set win, so
// the working directory file takes precedence over the home one.
func loadEnvFiles() error {
	h, err := home.New(homeDir)
	if err != nil {
		return err
	}
	for _, path := range []string{".env", h.EnvPath()} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// newLogger builds the stderr logger selected by --log-level and --log-format.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", logFormat)
	}
}

// setup resolves the logger, home directory and configuration for a command.
func setup() (*slog.Logger, *home.Dir, *config.Manager, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, nil, err
	}
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, nil, err
	}
	mgr, err := config.NewManager(cfgFile, h.Path(), logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return logger, h, mgr, nil
}
