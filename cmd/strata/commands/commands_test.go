package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/stacks"
	"github.com/strata-dev/strata/pkg/stores"
)

// execute runs the root command with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand("test")
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProfilesCommand(t *testing.T) {
	out, err := execute(t, "profiles", "--output", "json")
	if err != nil {
		t.Fatalf("Failed to list profiles: %v", err)
	}

	var profiles []engine.Profile
	if err := json.Unmarshal([]byte(out), &profiles); err != nil {
		t.Fatalf("Failed to decode profiles: %v\n%s", err, out)
	}
	if len(profiles) != 2 || profiles[0].Name != stacks.ProfileDev || profiles[1].Name != stacks.ProfileSte {
		t.Errorf("Expected dev and ste, got %+v", profiles)
	}
}

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, "plan", "ste", "--output", "json", "--project", "shop")
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	var plan engine.BuildPlan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("Failed to decode plan: %v", err)
	}
	if plan.Profile != "ste" || plan.Len() != 12 {
		t.Errorf("Expected a 12 unit ste plan, got %d steps", plan.Len())
	}
	if got := plan.Order()[11]; got != stacks.UnitRestAPIPipeline {
		t.Errorf("Expected restapi-pipeline last, got %s", got)
	}

	dot, err := execute(t, "plan", "dev", "--dot")
	if err != nil {
		t.Fatalf("Failed to render DOT: %v", err)
	}
	if !strings.HasPrefix(dot, "digraph") {
		t.Errorf("Expected a DOT graph, got:\n%s", dot)
	}

	text, err := execute(t, "plan", "dev")
	if err != nil {
		t.Fatalf("Failed to render the plan: %v", err)
	}
	if !strings.Contains(text, stacks.UnitAPIGateway) {
		t.Errorf("Expected the plan table to list api-gateway, got:\n%s", text)
	}
}

func TestPlanCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "unknown profile", args: []string{"plan", "prod"}, want: engine.ErrUnknownProfile},
		{name: "bad output", args: []string{"plan", "dev", "--output", "xml"}},
		{name: "missing profile", args: []string{"plan"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("Expected an error, got none")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got: %v", tt.want, err)
			}
		})
	}
}

func TestApplyHistoryOutputs(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state", "strata.db")

	if _, err := execute(t, "apply", "dev", "--state", state); err != nil {
		t.Fatalf("Failed to apply dev: %v", err)
	}

	out, err := execute(t, "history", "--state", state, "--output", "json")
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	var runs []stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("Failed to decode history: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].Status != stores.RunStatusSucceeded || runs[0].Profile != "dev" {
		t.Fatalf("Expected one succeeded dev run, got %+v", runs)
	}

	out, err = execute(t, "outputs", runs[0].ID, "--state", state, "--output", "json")
	if err != nil {
		t.Fatalf("Failed to list outputs: %v", err)
	}
	var outputs []stores.CapabilityOutput
	if err := json.Unmarshal([]byte(out), &outputs); err != nil {
		t.Fatalf("Failed to decode outputs: %v", err)
	}
	if len(outputs) != 20 {
		t.Errorf("Expected 20 outputs, got %d", len(outputs))
	}

	out, err = execute(t, "outputs", runs[0].ID, "--state", state, "--secret")
	if err != nil {
		t.Fatalf("Failed to read the secret: %v", err)
	}
	var doc stacks.SecretConfig
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("Failed to decode the secret: %v\n%s", err, out)
	}
	if doc.ProjectName != "foto" || doc.UploadBucket != "foto-upload-bucket" {
		t.Errorf("Unexpected secret document: %+v", doc)
	}

	if _, err := execute(t, "outputs", "missing", "--state", state); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown run, got: %v", err)
	}
}

func TestApplyCommand_PolicyDenied(t *testing.T) {
	_, err := execute(t, "apply", "dev", "--stage", "prod")
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Fatalf("Expected ErrPolicyDenied, got: %v", err)
	}
}

func TestHistoryCommand_NoState(t *testing.T) {
	t.Setenv("STRATA_STATE_PATH", "")
	if _, err := execute(t, "history"); err == nil {
		t.Error("Expected an error without a state path")
	}
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("Expected the catalog to validate, got: %v\n%s", err, out)
	}
	for _, profile := range []string{"dev", "ste"} {
		if !strings.Contains(out, profile+": 5 policies passed") {
			t.Errorf("Expected %s to pass, got:\n%s", profile, out)
		}
	}
}

func TestValidateCommand_Topology(t *testing.T) {
	dir := t.TempDir()
	topology := `
unit "a" {
  requires = ["b"]
  produces = ["a"]
  builder  = "static"
  outputs  = { a = "a" }
}

unit "b" {
  requires = ["a"]
  produces = ["b"]
  builder  = "static"
  outputs  = { b = "b" }
}

unit "c" {
  produces = ["c"]
  builder  = "static"
  outputs  = { c = "c" }
}

profile "loop" {
  units = ["a", "b"]
}

profile "single" {
  units = ["c"]
}
`
	path := filepath.Join(dir, "topology.hcl")
	if err := os.WriteFile(path, []byte(topology), 0o644); err != nil {
		t.Fatalf("Failed to write topology: %v", err)
	}

	out, err := execute(t, "validate", "--topology", path)
	if !errors.Is(err, errValidationFailed) {
		t.Fatalf("Expected the cycle to fail validation, got: %v\n%s", err, out)
	}
	if !strings.Contains(out, "loop") || !strings.Contains(out, "single: 5 policies passed") {
		t.Errorf("Expected loop to fail and single to pass, got:\n%s", out)
	}

	out, err = execute(t, "profiles", "--topology", path, "--output", "yaml")
	if err != nil {
		t.Fatalf("Failed to list topology profiles: %v", err)
	}
	if !strings.Contains(out, "name: loop") || !slices.Contains(strings.Fields(out), "single") {
		t.Errorf("Expected both topology profiles, got:\n%s", out)
	}
}
