package config

import (
	"context"
	"fmt"
	"maps"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/strata-dev/strata/pkg/engine"
)

const (
	// CurrentAPIVersion is the topology format version written by this release.
	CurrentAPIVersion = "1.0.0"

	// SupportedAPIVersions is the range of topology versions this release reads.
	SupportedAPIVersions = ">=1.0.0, <2.0.0"
)

var supportedAPIConstraint = mustConstraint(SupportedAPIVersions)

func mustConstraint(raw string) *semver.Constraints {
	c, err := semver.NewConstraint(raw)
	if err != nil {
		panic(fmt.Sprintf("config: parse constraint %q: %v", raw, err))
	}
	return c
}

// CheckAPIVersion reports whether a topology api_version can be read.
// An empty version means CurrentAPIVersion.
func CheckAPIVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid api_version %q: %w", raw, err)
	}
	if !supportedAPIConstraint.Check(v) {
		return fmt.Errorf("unsupported api_version %s (supported: %s)", v, SupportedAPIVersions)
	}
	return nil
}

// StackResolver returns the Go builder registered under name.
type StackResolver func(name string) (engine.Builder, bool)

// Binder turns topology units into engine descriptors and registers them.
type Binder struct {
	settings  *Settings
	evaluator *StarlarkEvaluator
	stacks    StackResolver
	logger    zerolog.Logger
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithStackResolver sets where `stack` units find their builders.
func WithStackResolver(resolver StackResolver) BinderOption {
	return func(b *Binder) {
		b.stacks = resolver
	}
}

// WithEvaluator sets the Starlark evaluator used by `script` units.
func WithEvaluator(evaluator *StarlarkEvaluator) BinderOption {
	return func(b *Binder) {
		b.evaluator = evaluator
	}
}

// WithBinderLogger sets the binder's logger.
func WithBinderLogger(logger zerolog.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = logger
	}
}

// NewBinder creates a binder. A nil settings value uses the defaults.
func NewBinder(settings *Settings, opts ...BinderOption) *Binder {
	if settings == nil {
		settings = DefaultSettings()
	}
	b := &Binder{
		settings:  settings,
		evaluator: NewStarlarkEvaluator(0),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Descriptors converts every topology unit into an engine descriptor, in
// declaration order.
func (b *Binder) Descriptors(t *Topology) ([]engine.UnitDescriptor, error) {
	if err := t.Err(); err != nil {
		return nil, err
	}
	if err := CheckAPIVersion(t.APIVersion); err != nil {
		return nil, err
	}

	descs := make([]engine.UnitDescriptor, 0, len(t.Units))
	for _, u := range t.Units {
		builder, err := b.builderFor(u)
		if err != nil {
			return nil, err
		}
		descs = append(descs, engine.UnitDescriptor{
			Name:        u.Name,
			Description: u.Description,
			Version:     u.Version,
			Requires:    u.Requires,
			Produces:    u.Produces,
			Labels:      u.Labels,
			Builder:     builder,
		})
	}
	return descs, nil
}

// Bind registers the topology's units, then its profiles, with e. Registration
// stops at the first error, which is returned unchanged.
func (b *Binder) Bind(e *engine.Engine, t *Topology) error {
	descs, err := b.Descriptors(t)
	if err != nil {
		return err
	}

	for _, desc := range descs {
		if err := e.RegisterUnit(desc); err != nil {
			return err
		}
	}
	for _, p := range t.Profiles {
		if err := e.AddProfile(engine.Profile{
			Name:        p.Name,
			Description: p.Description,
			Units:       p.Units,
		}); err != nil {
			return err
		}
	}

	b.logger.Debug().
		Int("units", len(descs)).
		Int("profiles", len(t.Profiles)).
		Strs("sources", t.SourceFiles).
		Msg("Topology bound")
	return nil
}

func (b *Binder) builderFor(u UnitConfig) (engine.Builder, error) {
	switch u.Builder {
	case BuilderStatic:
		return staticBuilder(u.Outputs), nil
	case BuilderScript:
		return NewScriptBuilder(b.evaluator, u.Name, u.Script, b.settings.Values()), nil
	case BuilderStack:
		if b.stacks == nil {
			return nil, fmt.Errorf("unit %s: no stack catalog configured", u.Name)
		}
		builder, ok := b.stacks(u.StackName())
		if !ok {
			return nil, fmt.Errorf("unit %s: unknown stack builder %q", u.Name, u.StackName())
		}
		return builder, nil
	default:
		return nil, fmt.Errorf("unit %s: unknown builder kind %q", u.Name, u.Builder)
	}
}

// staticBuilder returns a copy of outputs on every build.
func staticBuilder(outputs map[string]any) engine.Builder {
	return engine.BuilderFunc(func(context.Context, engine.Capabilities) (engine.Capabilities, error) {
		out := make(engine.Capabilities, len(outputs))
		maps.Copy(out, outputs)
		return out, nil
	})
}
