package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/strata-dev/strata/pkg/engine"
)

// Observer reports engine lifecycle hooks as spans, metrics, and events.
// Run and unit spans travel in the context returned from RunStarted and
// UnitStarted, so builders can start child spans of their own.
type Observer struct {
	logger  *Logger
	tracer  *Tracer
	metrics *Metrics
	events  *EventPublisher

	// runLogger is handed to builders through the run context.
	runLogger *Logger
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer. Nil components are replaced by disabled ones.
func NewObserver(logger *Logger, tracer *Tracer, metrics *Metrics, events *EventPublisher) *Observer {
	if logger == nil {
		logger, _ = NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "discard"})
	}
	if tracer == nil {
		tracer, _ = NewTracer(TracingConfig{}, ResourceInfo{ServiceName: "strata"})
	}
	if metrics == nil {
		metrics, _ = NewMetrics(MetricsConfig{})
	}
	if events == nil {
		events, _ = NewEventPublisher(EventsConfig{})
	}
	return &Observer{
		logger:    logger.Component("telemetry"),
		runLogger: logger,
		tracer:    tracer,
		metrics:   metrics,
		events:    events,
	}
}

// PlanResolved records the outcome of resolving a profile.
func (o *Observer) PlanResolved(_ context.Context, profile string, plan *engine.BuildPlan, err error) {
	if err != nil {
		o.metrics.RecordPlanResolved(profile, "rejected")
		code := ""
		if e, ok := engine.AsEngineError(err); ok {
			code = string(e.Code)
			o.metrics.RecordError(string(e.Class))
		}
		if engine.IsStructural(err) {
			o.metrics.RecordStructuralError(code)
		}
		o.publish(o.events.PublishPlanRejected(profile, code, err.Error()))
		return
	}

	o.metrics.RecordPlanResolved(profile, "resolved")
	o.publish(o.events.PublishPlanResolved(profile, plan.ID, plan.Len(), plan.Depth))
}

// RunStarted opens the run span.
func (o *Observer) RunStarted(ctx context.Context, run *engine.Run) context.Context {
	ctx, _ = o.tracer.StartRunSpan(ctx, run.ID, run.Profile, run.PlanID, len(run.Units))
	o.metrics.RecordRunStarted(run.Profile)
	o.publish(o.events.PublishRunStarted(run.ID, run.Profile, len(run.Units)))
	return o.runLogger.WithRunID(run.ID).WithProfile(run.Profile).WithContext(ctx)
}

// UnitStarted opens a unit span as a child of the run span.
func (o *Observer) UnitStarted(ctx context.Context, run *engine.Run, step engine.PlanStep) context.Context {
	ctx, span := o.tracer.StartUnitSpan(ctx, run.ID, step.Unit, step.Position)
	span.SetAttributes(AttrCapabilities.StringSlice(step.Requires))
	o.publish(o.events.PublishUnitStarted(run.ID, step.Unit, step.Position))
	return FromContext(ctx).WithUnit(step.Unit, step.Position).WithContext(ctx)
}

// UnitFinished closes the unit span.
func (o *Observer) UnitFinished(ctx context.Context, run *engine.Run, result engine.UnitResult) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrUnitStatus.String(string(result.Status)))

	o.metrics.RecordUnitBuild(result.Unit, string(result.Status), result.Duration)

	if result.Status == engine.UnitStatusFailed {
		RecordError(span, errorString(result.Error))
		o.publish(o.events.PublishUnitFailed(run.ID, result.Unit, result.Position, result.Error))
	} else {
		RecordSuccess(span)
		o.publish(o.events.PublishUnitCompleted(run.ID, result.Unit, result.Position, result.Duration, result.Produced))
	}
	span.End()
}

// RunFinished closes the run span and reports units that never ran.
func (o *Observer) RunFinished(ctx context.Context, run *engine.Run, err error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrRunStatus.String(string(run.Status)))

	capabilities := 0
	if run.Registry != nil {
		capabilities = run.Registry.Len()
	}
	o.metrics.RecordRunCompleted(run.Profile, string(run.Status), run.Duration, capabilities)

	if err != nil {
		if e, ok := engine.AsEngineError(err); ok {
			span.SetAttributes(
				AttrErrorClass.String(string(e.Class)),
				AttrErrorCode.String(string(e.Code)),
			)
			o.metrics.RecordError(string(e.Class))
		}
		RecordError(span, err)
		for _, u := range run.Units {
			if u.Status == engine.UnitStatusSkipped {
				o.metrics.RecordUnitBuild(u.Unit, string(u.Status), 0)
				o.publish(o.events.PublishUnitSkipped(run.ID, u.Unit, u.Position))
			}
		}
		o.publish(o.events.PublishRunFailed(run.ID, run.Profile, err.Error()))
	} else {
		RecordSuccess(span)
		o.publish(o.events.PublishRunCompleted(run.ID, run.Profile, run.Duration, capabilities))
	}
	span.End()
}

func (o *Observer) publish(err error) {
	if err != nil {
		zlog := o.logger.Zerolog()
		zlog.Warn().Err(err).Msg("Event not published")
	}
}

// errorString carries a recorded failure message back onto a span.
type errorString string

func (e errorString) Error() string { return string(e) }
