package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pointgen/internal/config"
	"github.com/jackzampolin/pointgen/internal/home"
	"github.com/jackzampolin/pointgen/internal/output"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage pointgen configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := h.ConfigPath()
		if cfgFile != "" {
			path = cfgFile
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, mgr, err := setup()
		if err != nil {
			return err
		}
		return output.Print(mgr.Get())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
