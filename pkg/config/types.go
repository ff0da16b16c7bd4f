package config

import (
	"errors"
	"fmt"
	"time"
)

// BuilderKind selects how a topology unit is turned into an engine builder.
type BuilderKind string

const (
	// BuilderStatic returns the unit's fixed outputs map.
	BuilderStatic BuilderKind = "static"

	// BuilderScript runs a Starlark script that assigns outputs.
	BuilderScript BuilderKind = "script"

	// BuilderStack delegates to a named Go builder from the stack catalog.
	BuilderStack BuilderKind = "stack"
)

// UnitConfig is a unit declared in a topology file.
type UnitConfig struct {
	// Name uniquely identifies the unit (e.g., "api-gateway").
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Version is an optional semantic version of the unit definition.
	Version string `json:"version,omitempty" yaml:"version,omitempty" validate:"omitempty,semver"`

	// Requires lists the capabilities the unit consumes.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty" validate:"dive,required"`

	// Produces lists the capabilities the unit's builder returns.
	Produces []string `json:"produces,omitempty" yaml:"produces,omitempty" validate:"dive,required"`

	// Labels are free-form annotations.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Builder is the builder kind.
	Builder BuilderKind `json:"builder" yaml:"builder" validate:"required,oneof=static script stack"`

	// Outputs are the fixed capabilities of a static builder.
	Outputs map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Script is the Starlark source of a script builder.
	Script string `json:"script,omitempty" yaml:"script,omitempty" validate:"required_if=Builder script"`

	// Stack names the Go builder of a stack unit. Defaults to the unit name.
	Stack string `json:"stack,omitempty" yaml:"stack,omitempty"`
}

// StackName returns the Go builder a stack unit binds to.
func (u UnitConfig) StackName() string {
	if u.Stack != "" {
		return u.Stack
	}
	return u.Name
}

// ProfileConfig is a named subset of the topology's units.
type ProfileConfig struct {
	// Name is the profile name (e.g., "dev").
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Units lists the selected unit names.
	Units []string `json:"units" yaml:"units" validate:"dive,required"`
}

// Topology is a parsed catalog of units and profiles.
type Topology struct {
	// APIVersion is the topology format version. Empty means CurrentAPIVersion.
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`

	// Units in declaration order.
	Units []UnitConfig `json:"units" yaml:"units" validate:"dive"`

	// Profiles in declaration order.
	Profiles []ProfileConfig `json:"profiles" yaml:"profiles" validate:"dive"`

	// SourceFiles lists the files that contributed to this topology.
	SourceFiles []string `json:"source_files,omitempty" yaml:"source_files,omitempty"`

	// ParsedAt is when parsing finished.
	ParsedAt time.Time `json:"parsed_at" yaml:"parsed_at"`

	// Errors holds parse and validation errors.
	Errors []ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Unit returns the unit with the given name.
func (t *Topology) Unit(name string) (UnitConfig, bool) {
	for _, u := range t.Units {
		if u.Name == name {
			return u, true
		}
	}
	return UnitConfig{}, false
}

// HasErrors reports whether parsing or validation recorded any error.
func (t *Topology) HasErrors() bool {
	for _, e := range t.Errors {
		if e.Severity != SeverityWarning {
			return true
		}
	}
	return false
}

// Err joins the recorded errors, or returns nil when there are none.
func (t *Topology) Err() error {
	if !t.HasErrors() {
		return nil
	}
	errs := make([]error, 0, len(t.Errors))
	for _, e := range t.Errors {
		if e.Severity == SeverityWarning {
			continue
		}
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// Severity levels for validation errors.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// File is the source file where the error occurred.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty" yaml:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty" yaml:"column,omitempty"`

	// Path is the configuration path (e.g., "units.vpc.produces").
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Message describes the validation error.
	Message string `json:"message" yaml:"message"`

	// Severity indicates the error severity (error, warning).
	Severity string `json:"severity" yaml:"severity"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	loc := ve.File
	if ve.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", ve.File, ve.Line, ve.Column)
	}
	switch {
	case loc != "" && ve.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, ve.Path, ve.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, ve.Message)
	case ve.Path != "":
		return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	default:
		return ve.Message
	}
}

// ScriptResult holds the result of a Starlark evaluation.
type ScriptResult struct {
	// Output contains the script's exported globals.
	Output map[string]interface{} `json:"output"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error contains any error message from execution.
	Error string `json:"error,omitempty"`
}
