package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// hclTopologyFile is the top-level structure of an HCL topology file.
type hclTopologyFile struct {
	APIVersion string        `hcl:"api_version,optional"`
	Units      []*hclUnit    `hcl:"unit,block"`
	Profiles   []*hclProfile `hcl:"profile,block"`
}

type hclUnit struct {
	Name        string            `hcl:"name,label"`
	Description string            `hcl:"description,optional"`
	Version     string            `hcl:"version,optional"`
	Requires    []string          `hcl:"requires,optional"`
	Produces    []string          `hcl:"produces,optional"`
	Labels      map[string]string `hcl:"labels,optional"`
	Builder     string            `hcl:"builder"`
	Outputs     cty.Value         `hcl:"outputs,optional"`
	Script      string            `hcl:"script,optional"`
	Stack       string            `hcl:"stack,optional"`
}

type hclProfile struct {
	Name        string   `hcl:"name,label"`
	Description string   `hcl:"description,optional"`
	Units       []string `hcl:"units"`
}

// HCLParser parses HCL topology files. Expressions are evaluated against a
// `settings` object and a small function library.
type HCLParser struct {
	parser    *hclparse.Parser
	evalCtx   *hcl.EvalContext
	validator *validator.Validate
}

// NewHCLParser creates an HCL parser whose files can reference settings.
// A nil settings value exposes the defaults.
func NewHCLParser(settings *Settings) *HCLParser {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &HCLParser{
		parser: hclparse.NewParser(),
		evalCtx: &hcl.EvalContext{
			Variables: map[string]cty.Value{
				"settings": settings.ctyValue(),
			},
			Functions: map[string]function.Function{
				"upper":  stdlib.UpperFunc,
				"lower":  stdlib.LowerFunc,
				"format": stdlib.FormatFunc,
				"join":   stdlib.JoinFunc,
				"concat": stdlib.ConcatFunc,
			},
		},
		validator: validator.New(),
	}
}

// Parse parses the given HCL files into a single topology. Diagnostics are
// recorded in Topology.Errors.
func (hp *HCLParser) Parse(ctx context.Context, sources []string) (*Topology, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	topology := &Topology{}
	for _, source := range sources {
		if _, err := os.Stat(source); err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		file, diags := hp.parser.ParseHCLFile(source)
		topology.SourceFiles = append(topology.SourceFiles, source)
		if diags.HasErrors() {
			topology.Errors = append(topology.Errors, convertDiagnostics(diags)...)
			continue
		}
		hp.decode(file, topology)
	}

	topology.ParsedAt = time.Now()
	if !topology.HasErrors() {
		topology.Errors = append(topology.Errors, validateStruct(hp.validator, topology)...)
	}
	return topology, nil
}

// ParseInline parses inline HCL content.
func (hp *HCLParser) ParseInline(ctx context.Context, content string) (*Topology, error) {
	topology := &Topology{SourceFiles: []string{"inline.hcl"}}

	file, diags := hp.parser.ParseHCL([]byte(content), "inline.hcl")
	if diags.HasErrors() {
		topology.Errors = convertDiagnostics(diags)
	} else {
		hp.decode(file, topology)
	}

	topology.ParsedAt = time.Now()
	if !topology.HasErrors() {
		topology.Errors = append(topology.Errors, validateStruct(hp.validator, topology)...)
	}
	return topology, nil
}

// decode appends the file's units and profiles to topology.
func (hp *HCLParser) decode(file *hcl.File, topology *Topology) {
	var parsed hclTopologyFile
	if diags := gohcl.DecodeBody(file.Body, hp.evalCtx, &parsed); diags.HasErrors() {
		topology.Errors = append(topology.Errors, convertDiagnostics(diags)...)
		return
	}

	if parsed.APIVersion != "" {
		if topology.APIVersion != "" && topology.APIVersion != parsed.APIVersion {
			msg := fmt.Sprintf("conflicting api_version %q and %q", topology.APIVersion, parsed.APIVersion)
			topology.Errors = append(topology.Errors, ValidationError{
				Path:     "api_version",
				Message:  msg,
				Severity: SeverityError,
			})
		}
		topology.APIVersion = parsed.APIVersion
	}

	for _, u := range parsed.Units {
		outputs, err := ctyObjectToMap(u.Outputs)
		if err != nil {
			topology.Errors = append(topology.Errors, ValidationError{
				Path:     fmt.Sprintf("unit.%s.outputs", u.Name),
				Message:  err.Error(),
				Severity: SeverityError,
			})
			continue
		}
		topology.Units = append(topology.Units, UnitConfig{
			Name:        u.Name,
			Description: u.Description,
			Version:     u.Version,
			Requires:    u.Requires,
			Produces:    u.Produces,
			Labels:      u.Labels,
			Builder:     BuilderKind(u.Builder),
			Outputs:     outputs,
			Script:      u.Script,
			Stack:       u.Stack,
		})
	}

	for _, p := range parsed.Profiles {
		units := p.Units
		if units == nil {
			units = []string{}
		}
		topology.Profiles = append(topology.Profiles, ProfileConfig{
			Name:        p.Name,
			Description: p.Description,
			Units:       units,
		})
	}
}

// ctyObjectToMap converts an object or map value into plain Go values.
func ctyObjectToMap(val cty.Value) (map[string]any, error) {
	if val.IsNull() {
		return nil, nil
	}

	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("outputs must be an object, got %s", ty.FriendlyName())
	}

	data, err := ctyjson.Marshal(val, ty)
	if err != nil {
		return nil, fmt.Errorf("failed to convert outputs: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert outputs: %w", err)
	}
	return out, nil
}

// convertDiagnostics converts HCL diagnostics to ValidationErrors.
func convertDiagnostics(diags hcl.Diagnostics) []ValidationError {
	out := make([]ValidationError, 0, len(diags))
	for _, d := range diags {
		ve := ValidationError{
			Message:  d.Summary,
			Severity: SeverityError,
		}
		if d.Severity == hcl.DiagWarning {
			ve.Severity = SeverityWarning
		}
		if d.Detail != "" {
			ve.Message = d.Summary + ": " + d.Detail
		}
		if d.Subject != nil {
			ve.File = d.Subject.Filename
			ve.Line = d.Subject.Start.Line
			ve.Column = d.Subject.Start.Column
		}
		out = append(out, ve)
	}
	return out
}
