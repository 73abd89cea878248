package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the pointgen home directory.
	DefaultDirName = ".pointgen"

	// RunsDirName is the subdirectory for run output files.
	RunsDirName = "runs"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName holds API keys loaded before config resolution.
	EnvFileName = ".env"
)

// Dir represents the pointgen home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.pointgen).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// RunsPath returns the directory run files are written to by default.
func (d *Dir) RunsPath() string {
	return filepath.Join(d.path, RunsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the home .env file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create runs directory (this also creates the parent)
	if err := os.MkdirAll(d.RunsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
