package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "frozen-units.rego")

	regoContent := `# Units listed here must not be rebuilt
# severity: critical
package strata.custom.frozen

import rego.v1

# inner comment
deny contains "frozen" if false
`
	writePolicy(t, policyFile, regoContent)

	policies, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	policy := policies[0]
	if policy.Name != "frozen-units" {
		t.Errorf("Expected name 'frozen-units', got '%s'", policy.Name)
	}
	if policy.Description != "Units listed here must not be rebuilt" {
		t.Errorf("Expected description from the header, got '%s'", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected severity critical, got '%s'", policy.Severity)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata, got %v", policy.Metadata)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test-policy.json")

	policy := Policy{
		Name:        "test-json-policy",
		Description: "A test policy",
		Rego:        "package test\n\nimport rego.v1\n\ndeny contains \"x\" if false\n",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"test"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writePolicy(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(loaded))
	}
	if loaded[0].Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded[0].Name)
	}
	if loaded[0].Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, loaded[0].Severity)
	}
}

func TestLoadFromFile_Bundle(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	bundleFile := filepath.Join(tmpDir, "bundle.json")

	bundle := Bundle{
		Name:        "photo-app",
		Version:     "1.0.0",
		Description: "Policies for the photo app",
		Policies: []Policy{
			{Name: "policy1", Rego: "package p1\n\nimport rego.v1\n\ndeny contains \"x\" if false\n", Severity: SeverityError, Enabled: true},
			{Name: "policy2", Rego: "package p2\n\nimport rego.v1\n\ndeny contains \"y\" if false\n", Enabled: true},
		},
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writePolicy(t, bundleFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(loaded))
	}
	if loaded[1].Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got '%s'", loaded[1].Severity)
	}

	nameless := `{"name": "b", "policies": [{"rego": "package p"}]}`
	writePolicy(t, filepath.Join(tmpDir, "nameless.json"), nameless)
	if _, err := loader.loadFromFile(context.Background(), filepath.Join(tmpDir, "nameless.json")); err == nil {
		t.Error("Expected an error for a policy without a name")
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	writePolicy(t, filepath.Join(tmpDir, "policy1.rego"), "package p1\n")
	writePolicy(t, filepath.Join(subDir, "policy2.rego"), "package p2\n")
	writePolicy(t, filepath.Join(tmpDir, "README.md"), "# Test")
	writePolicy(t, filepath.Join(tmpDir, "broken.json"), "invalid json")

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies (including subdirectory), got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	if err := os.Mkdir(dir1, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	writePolicy(t, filepath.Join(dir1, "policy1.rego"), "package p1\n")

	file1 := filepath.Join(tmpDir, "policy2.rego")
	writePolicy(t, file1, "package p2\n")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/path"}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestExtractHeader(t *testing.T) {
	tests := []struct {
		name             string
		content          string
		expected         string
		expectedSeverity Severity
	}{
		{
			name:     "single line comment",
			content:  "# This is a test policy\npackage test",
			expected: "This is a test policy",
		},
		{
			name:     "multi line comments",
			content:  "# This is a test policy\n# that spans multiple lines\npackage test",
			expected: "This is a test policy that spans multiple lines",
		},
		{
			name:     "no header",
			content:  "package test\n\n# rule comment\ndeny contains \"x\" if false",
			expected: "",
		},
		{
			name:             "severity line",
			content:          "# First line\n#\n# severity: error\n# Second line\npackage test",
			expected:         "First line Second line",
			expectedSeverity: SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			description, severity := extractHeader(tt.content)
			if description != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, description)
			}
			if severity != tt.expectedSeverity {
				t.Errorf("Expected severity '%s', got '%s'", tt.expectedSeverity, severity)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test.rego")
	writePolicy(t, policyFile, "package test\n")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	txt := filepath.Join(tmpDir, "test.txt")
	writePolicy(t, txt, "not a policy")
	if _, err := loader.loadFromFile(context.Background(), txt); err == nil {
		t.Error("Expected error for unsupported file type")
	}

	invalid := filepath.Join(tmpDir, "test.json")
	writePolicy(t, invalid, "invalid json")
	if _, err := loader.loadFromFile(context.Background(), invalid); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	tmpDir := t.TempDir()

	writePolicy(t, filepath.Join(tmpDir, "no-store.rego"), `# Store units are not allowed
# severity: error
package strata.custom.nostore

import rego.v1

deny contains violation if {
	some step in input.plan.steps
	step.unit == "store"
	violation := {"message": "store is not allowed", "unit": step.unit}
}
`)

	if err := eng.LoadPolicies(context.Background(), []string{tmpDir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	policy, err := eng.GetPolicy("no-store")
	if err != nil {
		t.Fatalf("Expected the loaded policy, got: %v", err)
	}
	if policy.Builtin || policy.Severity != SeverityError {
		t.Errorf("Expected a user error policy, got %+v", policy)
	}

	if err := eng.Check(context.Background(), resolvePlan(t, "full", netStoreAPI...)); err == nil {
		t.Error("Expected the loaded policy to deny the plan")
	}

	writePolicy(t, filepath.Join(tmpDir, "broken.rego"), "package broken\ndeny contains")
	if err := eng.LoadPolicies(context.Background(), []string{tmpDir}); err == nil {
		t.Error("Expected a compile error for a broken policy")
	}
}

func TestEngineWatch_ReloadsPolicies(t *testing.T) {
	eng := newTestEngine(t)
	eng.loader.reloadDelay = 20 * time.Millisecond
	tmpDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan error, 4)
	if err := eng.Watch(ctx, []string{tmpDir}, func(err error) { reloaded <- err }); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	writePolicy(t, filepath.Join(tmpDir, "extra.rego"), "package extra\n\nimport rego.v1\n\ndeny contains \"x\" if false\n")

	// A reload may fire between file creation and write; wait for the one
	// that sees the policy.
	timeout := time.After(5 * time.Second)
	for loaded := false; !loaded; {
		select {
		case err := <-reloaded:
			if err != nil {
				t.Fatalf("Expected the reload to succeed, got: %v", err)
			}
			_, err = eng.GetPolicy("extra")
			loaded = err == nil
		case <-timeout:
			t.Fatal("Expected the new policy to be loaded after writing it")
		}
	}
	if len(eng.ListPolicies()) != 6 {
		t.Errorf("Expected the built-ins to survive the reload, got %d policies", len(eng.ListPolicies()))
	}
}

func TestWatch_MissingPath(t *testing.T) {
	loader := newTestLoader()
	err := loader.Watch(context.Background(), []string{"/nonexistent/path"}, func([]Policy) error { return nil })
	if err == nil {
		t.Error("Expected an error for a missing path")
	}
	if err := loader.StopWatching(); err != nil {
		t.Errorf("Expected StopWatching without a watcher to succeed, got: %v", err)
	}
}
