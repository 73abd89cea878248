package output

import (
	"bytes"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type sample struct {
	Chapter string   `json:"chapter" yaml:"chapter"`
	Points  []string `json:"points" yaml:"points"`
}

func TestTo(t *testing.T) {
	data := sample{Chapter: "Cells", Points: []string{"0010010001"}}

	t.Run("yaml uses two-space indent", func(t *testing.T) {
		var buf bytes.Buffer
		if err := To(&buf, FormatYAML, map[string]any{"run": data}); err != nil {
			t.Fatalf("To() error = %v", err)
		}
		if !strings.HasPrefix(buf.String(), "run:\n  chapter: Cells\n  points:\n") {
			t.Errorf("unexpected yaml:\n%s", buf.String())
		}
		var back map[string]sample
		if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
			t.Fatalf("yaml.Unmarshal: %v", err)
		}
		if back["run"].Points[0] != "0010010001" {
			t.Errorf("point id lost its leading zeros: %v", back["run"].Points)
		}
	})

	t.Run("json is indented", func(t *testing.T) {
		var buf bytes.Buffer
		if err := To(&buf, FormatJSON, data); err != nil {
			t.Fatalf("To() error = %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"chapter\": \"Cells\"") {
			t.Errorf("unexpected json: %s", buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := To(&bytes.Buffer{}, Format("xml"), data); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"json", FormatJSON, false},
		{"", FormatYAML, false},
		{"toml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetFormat(t *testing.T) {
	defer SetFormat("yaml")

	SetFormat("json")
	if GetFormat() != FormatJSON {
		t.Errorf("expected json, got %s", GetFormat())
	}
	SetFormat("bogus")
	if GetFormat() != Default {
		t.Errorf("expected fallback to default, got %s", GetFormat())
	}
}
