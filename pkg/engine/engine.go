package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Engine is the registration and execution entry point. It owns one catalog of
// units and profiles; each Run builds into its own registry, so runs of
// different profiles share no mutable state.
type Engine struct {
	catalog   *Catalog
	resolver  *Resolver
	composer  *Composer
	logger    zerolog.Logger
	observers []Observer
	gates     []PlanGate
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "engine").Logger()
	}
}

// WithObservers attaches lifecycle observers.
func WithObservers(observers ...Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, observers...)
	}
}

// WithPlanGate adds a check that every plan must pass before it executes.
func WithPlanGate(gate PlanGate) Option {
	return func(e *Engine) {
		e.gates = append(e.gates, gate)
	}
}

// WithClock overrides the time source used for plan and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine with an empty catalog.
func New(opts ...Option) *Engine {
	e := &Engine{
		catalog: NewCatalog(),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = &Resolver{now: e.now}
	e.composer = NewComposer(e.catalog, e.resolver)
	return e
}

// RegisterUnit adds a unit to the catalog.
func (e *Engine) RegisterUnit(desc UnitDescriptor) error {
	if err := e.catalog.AddUnit(desc); err != nil {
		return err
	}
	e.logger.Debug().
		Str("unit", desc.Name).
		Strs("requires", desc.Requires).
		Strs("produces", desc.Produces).
		Msg("Unit registered")
	return nil
}

// RegisterProfile associates a profile name with previously registered units.
func (e *Engine) RegisterProfile(name string, unitNames []string) error {
	return e.AddProfile(Profile{Name: name, Units: unitNames})
}

// AddProfile registers a fully described profile.
func (e *Engine) AddProfile(p Profile) error {
	if err := e.catalog.AddProfile(p); err != nil {
		return err
	}
	e.logger.Debug().Str("profile", p.Name).Strs("units", p.Units).Msg("Profile registered")
	return nil
}

// Plan resolves a profile without executing it.
func (e *Engine) Plan(profile string) (*BuildPlan, error) {
	return e.composer.ResolveProfile(profile)
}

// Validate resolves every registered profile and returns all structural failures joined.
func (e *Engine) Validate() error {
	return e.composer.ValidateAll()
}

// Run resolves and executes a profile.
//
// Structural failures and plan gate rejections return a nil Run. Build
// failures return the failed Run alongside the error so the partial registry
// can be inspected; a failed Run is never a success.
func (e *Engine) Run(ctx context.Context, profile string) (*Run, error) {
	plan, err := e.composer.ResolveProfile(profile)
	if err == nil {
		err = e.checkGates(ctx, plan)
	}
	for _, o := range e.observers {
		o.PlanResolved(ctx, profile, plan, err)
	}
	if err != nil {
		e.logger.Error().Err(err).Str("profile", profile).Msg("Plan rejected")
		return nil, err
	}

	e.logger.Debug().
		Str("profile", profile).
		Str("plan_id", plan.ID).
		Strs("order", plan.Order()).
		Msg("Plan resolved")

	executor := &Executor{logger: e.logger, observers: e.observers, now: e.now}
	return executor.Execute(ctx, plan)
}

// checkGates runs every plan gate. A gate error that is not already classified
// is reported as a policy denial.
func (e *Engine) checkGates(ctx context.Context, plan *BuildPlan) error {
	for _, gate := range e.gates {
		if err := gate.Check(ctx, plan); err != nil {
			if _, ok := AsEngineError(err); ok {
				return err
			}
			return NewPermanentError("plan rejected", err).
				WithCode(ErrCodePolicyDenied).
				WithOperation("check_plan").
				WithDetail("profile", plan.Profile)
		}
	}
	return nil
}

// Unit returns a registered descriptor.
func (e *Engine) Unit(name string) (UnitDescriptor, bool) {
	return e.catalog.Unit(name)
}

// Units returns all registered descriptors in registration order.
func (e *Engine) Units() []UnitDescriptor {
	return e.catalog.Units()
}

// Profile returns a registered profile.
func (e *Engine) Profile(name string) (Profile, bool) {
	return e.catalog.Profile(name)
}

// Profiles returns all registered profiles in registration order.
func (e *Engine) Profiles() []Profile {
	return e.catalog.Profiles()
}
