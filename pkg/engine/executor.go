package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Executor builds the units of a plan one at a time, in plan order.
// It never retries and never rolls back: when a builder fails the run halts
// and whatever completed units provisioned stays in place.
type Executor struct {
	logger    zerolog.Logger
	observers []Observer
	now       func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(logger zerolog.Logger, observers ...Observer) *Executor {
	return &Executor{
		logger:    logger,
		observers: observers,
		now:       time.Now,
	}
}

// Execute runs every step of plan against a fresh registry.
//
// The returned Run is never nil for an executable plan. On success its Registry
// holds every produced capability. On failure the error is a BUILD_FAILED (or
// output contract) EngineError naming the unit and its position, the Run is
// marked failed, and its Registry holds only what completed units produced.
func (e *Executor) Execute(ctx context.Context, plan *BuildPlan) (*Run, error) {
	if !plan.Executable() {
		return nil, NewPermanentError("plan carries no builders", nil).
			WithCode(ErrCodePlanNotExecutable).
			WithOperation("execute").
			WithDetail("plan_id", plan.ID)
	}

	run := newRun(uuid.New().String(), plan, e.now())
	logger := e.logger.With().
		Str("run_id", run.ID).
		Str("profile", run.Profile).
		Logger()

	for _, o := range e.observers {
		ctx = o.RunStarted(ctx, run)
	}
	run.Status = RunStatusRunning
	logger.Info().Int("units", plan.Len()).Msg("Run started")

	var runErr error
	for i, step := range plan.Steps {
		if runErr = e.executeStep(ctx, run, i, step, logger); runErr != nil {
			for j := i + 1; j < len(run.Units); j++ {
				run.Units[j].Status = UnitStatusSkipped
			}
			break
		}
	}

	completed := e.now()
	run.CompletedAt = &completed
	run.Duration = completed.Sub(run.StartedAt)
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
		logger.Error().Err(runErr).Dur("duration", run.Duration).Msg("Run failed")
	} else {
		run.Status = RunStatusSucceeded
		logger.Info().
			Int("capabilities", run.Registry.Len()).
			Dur("duration", run.Duration).
			Msg("Run succeeded")
	}

	for _, o := range e.observers {
		o.RunFinished(ctx, run, runErr)
	}
	return run, runErr
}

// executeStep builds one unit and stores its products.
func (e *Executor) executeStep(ctx context.Context, run *Run, i int, step PlanStep, logger zerolog.Logger) error {
	desc := run.Plan.units[i]
	result := &run.Units[i]

	in, err := run.Registry.GetMany(step.Requires)
	if err != nil {
		// Resolution guarantees every requirement was produced by an earlier step.
		panic(fmt.Errorf("engine invariant violated at unit %q: %w", step.Unit, err))
	}

	unitCtx := ctx
	for _, o := range e.observers {
		unitCtx = o.UnitStarted(unitCtx, run, cloneStep(step))
	}

	unitLogger := logger.With().Str("unit", step.Unit).Int("position", step.Position).Logger()
	unitLogger.Debug().Strs("requires", step.Requires).Msg("Building unit")

	result.Status = UnitStatusRunning
	result.StartedAt = e.now()

	out, buildErr := desc.Builder.Build(unitCtx, in)

	var stepErr error
	switch {
	case buildErr != nil:
		stepErr = newBuildFailedError(step.Unit, step.Position, buildErr)
	default:
		stepErr = checkOutputs(step, out)
	}

	if stepErr == nil {
		for _, name := range step.Produces {
			if err := run.Registry.Put(name, out[name]); err != nil {
				stepErr = NewInternalError("registry rejected unit product", err).
					WithCode(ErrCodeInternal).
					WithUnit(step.Unit).
					WithPosition(step.Position).
					WithCapability(name)
				break
			}
			result.Produced = append(result.Produced, name)
		}
	}

	result.Duration = e.now().Sub(result.StartedAt)
	if stepErr != nil {
		result.Status = UnitStatusFailed
		result.Error = stepErr.Error()
		unitLogger.Error().Err(stepErr).Dur("duration", result.Duration).Msg("Unit failed")
	} else {
		result.Status = UnitStatusSucceeded
		unitLogger.Debug().
			Strs("produced", result.Produced).
			Dur("duration", result.Duration).
			Msg("Unit built")
	}

	for _, o := range e.observers {
		o.UnitFinished(unitCtx, run, *result)
	}
	return stepErr
}

// checkOutputs enforces that a builder returned exactly its declared products.
func checkOutputs(step PlanStep, out Capabilities) error {
	for _, name := range step.Produces {
		if _, ok := out[name]; !ok {
			return NewPermanentError(fmt.Sprintf("unit %q did not return declared capability %q", step.Unit, name), nil).
				WithCode(ErrCodeMissingOutput).
				WithUnit(step.Unit).
				WithPosition(step.Position).
				WithCapability(name).
				WithOperation("build")
		}
	}
	for _, name := range out.Names() {
		if !slices.Contains(step.Produces, name) {
			return NewPermanentError(fmt.Sprintf("unit %q returned undeclared capability %q", step.Unit, name), nil).
				WithCode(ErrCodeUndeclaredCapability).
				WithUnit(step.Unit).
				WithPosition(step.Position).
				WithCapability(name).
				WithOperation("build")
		}
	}
	return nil
}
