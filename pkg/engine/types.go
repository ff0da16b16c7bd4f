package engine

import (
	"slices"
	"time"
)

// BuildPlan is the resolved build order for one profile.
// A plan is computed fresh on every resolve and must not be modified afterwards.
type BuildPlan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id" yaml:"id"`

	// Profile is the profile the plan was resolved for.
	Profile string `json:"profile" yaml:"profile"`

	// CreatedAt is when the plan was resolved.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Steps are the units in build order.
	Steps []PlanStep `json:"steps" yaml:"steps"`

	// Edges are the producer to consumer links, one per capability.
	Edges []PlanEdge `json:"edges" yaml:"edges"`

	// Depth is the number of dependency levels.
	Depth int `json:"depth" yaml:"depth"`

	// units holds the descriptors aligned with Steps. A plan decoded from JSON
	// has none and cannot be executed.
	units []*UnitDescriptor
}

// PlanStep is one unit in a build plan.
type PlanStep struct {
	// Position is the 1-based index in the build order.
	Position int `json:"position" yaml:"position"`

	// Unit is the unit name.
	Unit string `json:"unit" yaml:"unit"`

	// Level is the longest dependency chain leading to this unit.
	Level int `json:"level" yaml:"level"`

	// Requires are the capabilities this unit reads.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Produces are the capabilities this unit writes.
	Produces []string `json:"produces,omitempty" yaml:"produces,omitempty"`

	// DependsOn are the units producing this unit's requirements, in plan order.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// PlanEdge links a producer to a consumer through one capability.
type PlanEdge struct {
	// From is the producing unit.
	From string `json:"from" yaml:"from"`

	// To is the consuming unit.
	To string `json:"to" yaml:"to"`

	// Capability is the capability that flows along the edge.
	Capability string `json:"capability" yaml:"capability"`
}

// Order returns the unit names in build order.
func (p *BuildPlan) Order() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Unit
	}
	return out
}

// Len returns the number of steps.
func (p *BuildPlan) Len() int {
	return len(p.Steps)
}

// Step returns the step for a unit.
func (p *BuildPlan) Step(unit string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.Unit == unit {
			return s, true
		}
	}
	return PlanStep{}, false
}

// Levels groups unit names by dependency level.
func (p *BuildPlan) Levels() [][]string {
	levels := make([][]string, p.Depth)
	for _, s := range p.Steps {
		levels[s.Level] = append(levels[s.Level], s.Unit)
	}
	return levels
}

// Capabilities returns every produced capability in build order.
func (p *BuildPlan) Capabilities() []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.Produces...)
	}
	return out
}

// Executable reports whether the plan still carries its builders.
func (p *BuildPlan) Executable() bool {
	return len(p.units) == len(p.Steps)
}

// Run represents one execution of a build plan.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id" yaml:"id"`

	// Profile is the profile that was run.
	Profile string `json:"profile" yaml:"profile"`

	// PlanID is the ID of the plan being executed.
	PlanID string `json:"plan_id" yaml:"plan_id"`

	// Status is the current status of the run.
	Status RunStatus `json:"status" yaml:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at" yaml:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Units holds one result per plan step, in plan order.
	Units []UnitResult `json:"units" yaml:"units"`

	// Error is the failure message of a failed run.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Plan is the plan that was executed.
	Plan *BuildPlan `json:"-" yaml:"-"`

	// Registry holds every capability produced so far. After a failed run it
	// holds the products of the units that completed before the failure.
	Registry *Registry `json:"-" yaml:"-"`
}

// UnitResult records what happened to one plan step.
type UnitResult struct {
	// Unit is the unit name.
	Unit string `json:"unit" yaml:"unit"`

	// Position is the 1-based plan position.
	Position int `json:"position" yaml:"position"`

	// Status is the unit outcome.
	Status UnitStatus `json:"status" yaml:"status"`

	// StartedAt is when the builder was invoked.
	StartedAt time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`

	// Duration is how long the builder ran.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Produced lists the capabilities written to the registry.
	Produced []string `json:"produced,omitempty" yaml:"produced,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Total is the total number of plan steps.
	Total int `json:"total" yaml:"total"`

	// Succeeded is the number of units that built.
	Succeeded int `json:"succeeded" yaml:"succeeded"`

	// Failed is the number of units that failed.
	Failed int `json:"failed" yaml:"failed"`

	// Skipped is the number of units never attempted.
	Skipped int `json:"skipped" yaml:"skipped"`

	// Capabilities is the number of capabilities in the registry.
	Capabilities int `json:"capabilities" yaml:"capabilities"`
}

// Summary computes statistics for the run.
func (r *Run) Summary() RunSummary {
	s := RunSummary{Total: len(r.Units)}
	for _, u := range r.Units {
		switch u.Status {
		case UnitStatusSucceeded:
			s.Succeeded++
		case UnitStatusFailed:
			s.Failed++
		case UnitStatusSkipped, UnitStatusPending:
			s.Skipped++
		}
	}
	if r.Registry != nil {
		s.Capabilities = r.Registry.Len()
	}
	return s
}

// Outputs returns a copy of the produced capabilities.
func (r *Run) Outputs() Capabilities {
	if r.Registry == nil {
		return Capabilities{}
	}
	return r.Registry.Snapshot()
}

// BuiltUnits returns the names of units that built successfully, in order.
func (r *Run) BuiltUnits() []string {
	var out []string
	for _, u := range r.Units {
		if u.Status == UnitStatusSucceeded {
			out = append(out, u.Unit)
		}
	}
	return out
}

func newRun(id string, plan *BuildPlan, now time.Time) *Run {
	run := &Run{
		ID:        id,
		Profile:   plan.Profile,
		PlanID:    plan.ID,
		Status:    RunStatusPending,
		StartedAt: now,
		Units:     make([]UnitResult, len(plan.Steps)),
		Plan:      plan,
		Registry:  NewRegistry(),
	}
	for i, s := range plan.Steps {
		run.Units[i] = UnitResult{
			Unit:     s.Unit,
			Position: s.Position,
			Status:   UnitStatusPending,
		}
	}
	return run
}

func cloneStep(s PlanStep) PlanStep {
	s.Requires = slices.Clone(s.Requires)
	s.Produces = slices.Clone(s.Produces)
	s.DependsOn = slices.Clone(s.DependsOn)
	return s
}
