package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/telemetry"
)

// Recorder persists runs, unit results, and produced capabilities as the
// engine reports them. Storage failures are logged and never fail the run.
type Recorder struct {
	engine.NopObserver

	store  Store
	logger zerolog.Logger
	// ctx outlives a single run so late events still reach the store.
	ctx context.Context
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "recorder").Logger(),
		ctx:    context.Background(),
	}
}

// RunStarted inserts the run record together with its plan.
func (r *Recorder) RunStarted(ctx context.Context, run *engine.Run) context.Context {
	plan, err := json.Marshal(run.Plan)
	if err != nil {
		r.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to encode plan")
		plan = []byte("{}")
	}

	rec := &Run{
		ID:        run.ID,
		Profile:   run.Profile,
		PlanID:    run.PlanID,
		Status:    RunStatusRunning,
		StartedAt: run.StartedAt,
		Plan:      string(plan),
	}
	if err := r.store.CreateRun(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record run")
		return ctx
	}

	for _, u := range run.Units {
		r.saveUnit(ctx, run.ID, u)
	}
	return ctx
}

// UnitFinished records the unit's outcome.
func (r *Recorder) UnitFinished(ctx context.Context, run *engine.Run, result engine.UnitResult) {
	r.saveUnit(ctx, run.ID, result)
}

// RunFinished records the terminal status, skipped units, and every produced capability.
func (r *Recorder) RunFinished(ctx context.Context, run *engine.Run, err error) {
	for _, u := range run.Units {
		if u.Status == engine.UnitStatusSkipped {
			r.saveUnit(ctx, run.ID, u)
		}
	}

	if outputs, encErr := capabilityOutputs(run); encErr != nil {
		r.logger.Error().Err(encErr).Str("run_id", run.ID).Msg("Failed to encode outputs")
	} else if saveErr := r.store.SaveOutputs(ctx, outputs); saveErr != nil {
		r.logger.Error().Err(saveErr).Str("run_id", run.ID).Msg("Failed to record outputs")
	}

	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
	}
	completed := time.Now().UTC()
	if run.CompletedAt != nil {
		completed = *run.CompletedAt
	}
	if finErr := r.store.FinishRun(ctx, run.ID, RunStatus(run.Status), completed, run.Duration, errMsg); finErr != nil {
		r.logger.Error().Err(finErr).Str("run_id", run.ID).Msg("Failed to finish run record")
	}
}

// HandleEvent appends a telemetry event to the event log. It is meant to be
// registered with telemetry.EventPublisher.Subscribe.
func (r *Recorder) HandleEvent(e telemetry.Event) {
	rec := &Event{
		EventID:   e.ID,
		Type:      e.Type,
		RunID:     optional(e.RunID),
		Profile:   optional(e.Profile),
		Unit:      optional(e.Unit),
		Level:     EventLevel(e.Level),
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	if len(e.Data) > 0 {
		if data, err := json.Marshal(e.Data); err == nil {
			details := string(data)
			rec.Details = &details
		}
	}
	if err := r.store.AppendEvent(r.ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("type", e.Type).Msg("Failed to record event")
	}
}

func (r *Recorder) saveUnit(ctx context.Context, runID string, u engine.UnitResult) {
	produced, _ := json.Marshal(u.Produced)
	if u.Produced == nil {
		produced = []byte("[]")
	}

	rec := &UnitResult{
		RunID:      runID,
		Position:   u.Position,
		Unit:       u.Unit,
		Status:     UnitStatus(u.Status),
		DurationMS: u.Duration.Milliseconds(),
		Produced:   string(produced),
		Error:      optional(u.Error),
	}
	if !u.StartedAt.IsZero() {
		started := u.StartedAt
		rec.StartedAt = &started
	}

	if err := r.store.UpsertUnitResult(ctx, rec); err != nil {
		r.logger.Error().Err(err).
			Str("run_id", runID).
			Str("unit", u.Unit).
			Msg("Failed to record unit result")
	}
}

// capabilityOutputs flattens the run registry in production order.
func capabilityOutputs(run *engine.Run) ([]*CapabilityOutput, error) {
	if run.Registry == nil {
		return nil, nil
	}

	producers := make(map[string]string)
	for _, u := range run.Units {
		for _, name := range u.Produced {
			producers[name] = u.Unit
		}
	}

	outputs := make([]*CapabilityOutput, 0, run.Registry.Len())
	for i, name := range run.Registry.Names() {
		value, _ := run.Registry.Get(name)
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", name, err)
		}
		outputs = append(outputs, &CapabilityOutput{
			RunID:    run.ID,
			Name:     name,
			Producer: producers[name],
			Seq:      i + 1,
			Value:    string(data),
		})
	}
	return outputs, nil
}

// LoadCapabilities decodes the stored outputs of a run back into capabilities.
func LoadCapabilities(ctx context.Context, store Store, runID string) (engine.Capabilities, error) {
	if _, err := store.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	outputs, err := store.ListOutputs(ctx, runID)
	if err != nil {
		return nil, err
	}

	caps := make(engine.Capabilities, len(outputs))
	for _, out := range outputs {
		var v any
		if err := json.Unmarshal([]byte(out.Value), &v); err != nil {
			return nil, fmt.Errorf("capability %s: %w", out.Name, err)
		}
		caps[out.Name] = v
	}
	return caps, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
