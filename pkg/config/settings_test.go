package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, path, err := LoadSettings(context.Background(), LoadOptions{})
	if err != nil {
		t.Fatalf("Expected defaults to load, got: %v", err)
	}
	if path != "" {
		t.Errorf("Expected no settings file, got: %s", path)
	}
	if s.Project != "foto" || s.Stage != "dev" || s.Repository.Branch != "main" {
		t.Errorf("Expected default settings, got: %+v", s)
	}
	if s.ResourcePrefix() != "foto-dev" {
		t.Errorf("Expected prefix foto-dev, got: %s", s.ResourcePrefix())
	}
}

func TestLoadSettings_Precedence(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "strata.cue")
	content := `
project: "photos"
stage:   "ste"
region:  "eu-west-1"
repository: {
	owner:   "acme"
	restapi: "photos-api"
}
telemetry: exporter: "stdout"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}

	t.Setenv("STRATA_REGION", "us-west-2")
	t.Setenv("STRATA_REPOSITORY_BRANCH", "release")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("stage", "", "")
	flags.String("domain", "", "")
	if err := flags.Parse([]string{"--stage", "prod"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	s, used, err := LoadSettings(context.Background(), LoadOptions{ConfigFile: path, Flags: flags})
	if err != nil {
		t.Fatalf("Expected settings to load, got: %v", err)
	}
	if used != path {
		t.Errorf("Expected settings file %s, got: %s", path, used)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"file overrides default", s.Project, "photos"},
		{"flag overrides file", s.Stage, "prod"},
		{"env overrides file", s.Region, "us-west-2"},
		{"nested file value", s.Repository.Owner, "acme"},
		{"nested env value", s.Repository.Branch, "release"},
		{"unset flag keeps default", s.Domain, "example.com"},
		{"nested telemetry value", s.Telemetry.Exporter, "stdout"},
		{"untouched nested default", s.Telemetry.ServiceName, "strata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, tt.got)
			}
		})
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "schema violation", content: `log_level: "verbose"`},
		{name: "unknown field", content: `bucket: "x"`},
		{name: "cue syntax", content: `project: `},
		{name: "invalid account from env", content: `project: "foto"`, env: map[string]string{"STRATA_ACCOUNT": "abc"}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(tmpDir, strings.ReplaceAll(tt.name, " ", "_")+".cue")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write file %d: %v", i, err)
			}
			if _, _, err := LoadSettings(context.Background(), LoadOptions{ConfigFile: path}); err == nil {
				t.Error("Expected an error, got none")
			}
		})
	}

	if _, _, err := LoadSettings(context.Background(), LoadOptions{ConfigFile: filepath.Join(tmpDir, "missing.cue")}); err == nil {
		t.Error("Expected an error for a missing settings file")
	}
}

func TestLoadSettings_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := LoadSettings(ctx, LoadOptions{}); err == nil {
		t.Error("Expected an error for a canceled context")
	}
}

func TestSettings_Validate(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("Expected defaults to be valid, got: %v", err)
	}

	s.Telemetry.Exporter = "otlp"
	s.Telemetry.Endpoint = ""
	if err := s.Validate(); err == nil {
		t.Error("Expected otlp without endpoint to be invalid")
	}

	s = DefaultSettings()
	s.Account = "123456789012"
	if err := s.Validate(); err != nil {
		t.Errorf("Expected 12-digit account to be valid, got: %v", err)
	}
}

func TestSettings_Values(t *testing.T) {
	s := DefaultSettings()
	s.Repository.Owner = "acme"

	v := s.Values()
	if v["resource_prefix"] != "foto-dev" {
		t.Errorf("Expected resource_prefix foto-dev, got: %v", v["resource_prefix"])
	}
	repo, ok := v["repository"].(map[string]any)
	if !ok || repo["owner"] != "acme" {
		t.Errorf("Expected repository owner acme, got: %v", v["repository"])
	}
}
