package engine

import (
	"context"
)

// Observer receives lifecycle notifications from the engine.
// Observers must not fail a run: anything they need to report goes to their
// own logs. The context returned by RunStarted and UnitStarted is passed on to
// later hooks and to the unit's builder, which lets tracing observers nest spans.
type Observer interface {
	// PlanResolved is called after resolution and plan gates, with the
	// resolution or gate error if there was one.
	PlanResolved(ctx context.Context, profile string, plan *BuildPlan, err error)

	// RunStarted is called before the first unit builds.
	RunStarted(ctx context.Context, run *Run) context.Context

	// UnitStarted is called before a unit's builder is invoked.
	UnitStarted(ctx context.Context, run *Run, step PlanStep) context.Context

	// UnitFinished is called after a unit's builder returns.
	UnitFinished(ctx context.Context, run *Run, result UnitResult)

	// RunFinished is called once the run reached a terminal status.
	RunFinished(ctx context.Context, run *Run, err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement only some hooks.
type NopObserver struct{}

// PlanResolved does nothing.
func (NopObserver) PlanResolved(context.Context, string, *BuildPlan, error) {}

// RunStarted returns ctx unchanged.
func (NopObserver) RunStarted(ctx context.Context, _ *Run) context.Context { return ctx }

// UnitStarted returns ctx unchanged.
func (NopObserver) UnitStarted(ctx context.Context, _ *Run, _ PlanStep) context.Context {
	return ctx
}

// UnitFinished does nothing.
func (NopObserver) UnitFinished(context.Context, *Run, UnitResult) {}

// RunFinished does nothing.
func (NopObserver) RunFinished(context.Context, *Run, error) {}

// PlanGate inspects a resolved plan before it executes. A non-nil error
// prevents the run.
type PlanGate interface {
	Check(ctx context.Context, plan *BuildPlan) error
}

// PlanGateFunc adapts a function to the PlanGate interface.
type PlanGateFunc func(ctx context.Context, plan *BuildPlan) error

// Check calls f(ctx, plan).
func (f PlanGateFunc) Check(ctx context.Context, plan *BuildPlan) error {
	return f(ctx, plan)
}
