package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Builder provisions one unit. It receives the capabilities the unit requires and
// returns the capabilities it produces. Builders are opaque to the engine: any
// provisioning, waiting, or retrying happens inside Build.
type Builder interface {
	Build(ctx context.Context, in Capabilities) (Capabilities, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, in Capabilities) (Capabilities, error)

// Build calls f(ctx, in).
func (f BuilderFunc) Build(ctx context.Context, in Capabilities) (Capabilities, error) {
	return f(ctx, in)
}

// UnitDescriptor is a registered unit: its name, the capabilities it consumes and
// produces, and the builder that turns the former into the latter.
type UnitDescriptor struct {
	// Name uniquely identifies the unit within a catalog.
	Name string `json:"name" yaml:"name"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Version is an optional semantic version of the unit definition.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Requires lists capabilities that must be produced before this unit builds.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Produces lists capabilities this unit's builder returns.
	Produces []string `json:"produces,omitempty" yaml:"produces,omitempty"`

	// Labels are free-form annotations, not used for ordering.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Builder performs the build.
	Builder Builder `json:"-" yaml:"-"`
}

// Validate checks the descriptor in isolation.
// A unit requiring one of its own products is reported as a one-unit cycle.
func (d *UnitDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return invalidDescriptor(d.Name, "unit name is empty")
	}
	if strings.ContainsAny(d.Name, " \t\n") {
		return invalidDescriptor(d.Name, "unit name contains whitespace")
	}
	if d.Builder == nil {
		return invalidDescriptor(d.Name, "unit has no builder")
	}
	if d.Version != "" {
		if _, err := semver.NewVersion(d.Version); err != nil {
			return invalidDescriptor(d.Name, fmt.Sprintf("invalid version %q", d.Version)).
				WithDetail("cause", err.Error())
		}
	}
	if err := checkCapabilityList(d.Name, "requires", d.Requires); err != nil {
		return err
	}
	if err := checkCapabilityList(d.Name, "produces", d.Produces); err != nil {
		return err
	}

	for _, req := range d.Requires {
		if slices.Contains(d.Produces, req) {
			return newCyclicDependencyError([]string{d.Name}, []string{d.Name, d.Name}).
				WithUnit(d.Name).
				WithCapability(req)
		}
	}
	return nil
}

// clone returns a copy whose slices and labels are not shared with d.
func (d *UnitDescriptor) clone() *UnitDescriptor {
	c := *d
	c.Requires = slices.Clone(d.Requires)
	c.Produces = slices.Clone(d.Produces)
	if d.Labels != nil {
		c.Labels = make(map[string]string, len(d.Labels))
		for k, v := range d.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}

func checkCapabilityList(unit, field string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return invalidDescriptor(unit, fmt.Sprintf("%s contains an empty capability name", field))
		}
		if _, dup := seen[name]; dup {
			return invalidDescriptor(unit, fmt.Sprintf("%s lists %q more than once", field, name)).
				WithCapability(name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func invalidDescriptor(unit, msg string) *EngineError {
	return NewUserError(msg, nil).
		WithCode(ErrCodeInvalidDescriptor).
		WithUnit(unit).
		WithOperation("register_unit")
}
