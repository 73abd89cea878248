// Package output renders command results as YAML or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Format defines the output format for CLI commands.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Default is the default output format.
var Default Format = FormatYAML

// globalFormat is set by the root command's --output flag.
var globalFormat Format = FormatYAML

// ParseFormat validates a --output value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatYAML:
		return Format(s), nil
	case "":
		return Default, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml or json)", s)
	}
}

// SetFormat sets the global output format. Unknown values fall back to Default.
func SetFormat(format string) {
	f, err := ParseFormat(format)
	if err != nil {
		f = Default
	}
	globalFormat = f
}

// GetFormat returns the current global output format.
func GetFormat() Format {
	return globalFormat
}

// Print writes data to stdout in the configured format.
func Print(data any) error {
	return To(os.Stdout, globalFormat, data)
}

// To writes data to the given writer in the specified format.
func To(w io.Writer, format Format, data any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
