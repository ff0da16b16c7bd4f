package engine

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scenario registers Net -> Store -> Api and records builder invocations.
type scenario struct {
	engine   *Engine
	calls    []string
	storeErr error
}

func newScenario(t *testing.T, opts ...Option) *scenario {
	t.Helper()
	s := &scenario{}
	s.engine = New(append([]Option{WithLogger(zerolog.New(nil).Level(zerolog.Disabled))}, opts...)...)

	register := func(name string, requires, produces []string, build func(Capabilities) (Capabilities, error)) {
		err := s.engine.RegisterUnit(UnitDescriptor{
			Name:     name,
			Requires: requires,
			Produces: produces,
			Builder: BuilderFunc(func(_ context.Context, in Capabilities) (Capabilities, error) {
				s.calls = append(s.calls, name)
				return build(in)
			}),
		})
		if err != nil {
			t.Fatalf("Expected no error registering %s, got: %v", name, err)
		}
	}

	register("Net", nil, []string{"vpcId"}, func(Capabilities) (Capabilities, error) {
		return Capabilities{"vpcId": "vpc-0a1b"}, nil
	})
	register("Store", []string{"vpcId"}, []string{"tableArn"}, func(in Capabilities) (Capabilities, error) {
		if s.storeErr != nil {
			return nil, s.storeErr
		}
		return Capabilities{"tableArn": "arn:table@" + in["vpcId"].(string)}, nil
	})
	register("Api", []string{"tableArn"}, []string{"apiUrl"}, func(in Capabilities) (Capabilities, error) {
		if _, ok := in["vpcId"]; ok {
			return nil, errors.New("received a capability it did not require")
		}
		return Capabilities{"apiUrl": "https://api.example.com"}, nil
	})

	if err := s.engine.RegisterProfile("full", []string{"Net", "Store", "Api"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := s.engine.RegisterProfile("minimal", []string{"Net", "Store"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return s
}

func TestEngine_Run_Full(t *testing.T) {
	s := newScenario(t)

	run, err := s.engine.Run(context.Background(), "full")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !reflect.DeepEqual(s.calls, []string{"Net", "Store", "Api"}) {
		t.Errorf("Expected build order Net, Store, Api, got %v", s.calls)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("Expected status succeeded, got %s", run.Status)
	}

	out := run.Outputs()
	for _, name := range []string{"vpcId", "tableArn", "apiUrl"} {
		if _, ok := out[name]; !ok {
			t.Errorf("Expected registry to contain %s", name)
		}
	}
	if out["tableArn"] != "arn:table@vpc-0a1b" {
		t.Errorf("Expected Store to receive vpcId, got %v", out["tableArn"])
	}

	summary := run.Summary()
	if summary.Succeeded != 3 || summary.Failed != 0 || summary.Capabilities != 3 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestEngine_Run_Minimal(t *testing.T) {
	s := newScenario(t)

	run, err := s.engine.Run(context.Background(), "minimal")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	names := run.Registry.Names()
	slices.Sort(names)
	if !reflect.DeepEqual(names, []string{"tableArn", "vpcId"}) {
		t.Errorf("Expected exactly {vpcId, tableArn}, got %v", names)
	}
	if slices.Contains(s.calls, "Api") {
		t.Error("Expected Api builder never to be invoked")
	}
}

func TestEngine_Run_BuildFailure(t *testing.T) {
	s := newScenario(t)
	s.storeErr = errors.New("table quota exceeded")

	run, err := s.engine.Run(context.Background(), "full")
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Expected BuildFailed, got: %v", err)
	}

	e, _ := AsEngineError(err)
	if e.Unit != "Store" || e.Position != 2 {
		t.Errorf("Expected Store at position 2, got unit %q position %d", e.Unit, e.Position)
	}
	if !errors.Is(err, s.storeErr) {
		t.Errorf("Expected underlying error to be wrapped, got: %v", err)
	}

	if run == nil {
		t.Fatal("Expected failed run to be returned for inspection")
	}
	if run.Status != RunStatusFailed {
		t.Errorf("Expected status failed, got %s", run.Status)
	}
	if !run.Registry.Has("vpcId") {
		t.Error("Expected vpcId from the completed unit")
	}
	if run.Registry.Has("tableArn") || run.Registry.Has("apiUrl") {
		t.Errorf("Expected no products after the failure, got %v", run.Registry.Names())
	}
	if slices.Contains(s.calls, "Api") {
		t.Error("Expected Api never to be attempted")
	}

	want := []UnitStatus{UnitStatusSucceeded, UnitStatusFailed, UnitStatusSkipped}
	for i, u := range run.Units {
		if u.Status != want[i] {
			t.Errorf("Expected %s to be %s, got %s", u.Unit, want[i], u.Status)
		}
	}
}

func TestEngine_Run_BuildFailureKeepsClass(t *testing.T) {
	s := newScenario(t)
	s.storeErr = NewThrottledError("provisioning API throttled", nil)

	_, err := s.engine.Run(context.Background(), "full")
	if !IsRetryable(err) {
		t.Errorf("Expected throttled cause to keep its class, got: %v", err)
	}
	if !errors.Is(err, ErrBuildFailed) {
		t.Errorf("Expected BuildFailed, got: %v", err)
	}
}

func TestEngine_Run_UnknownProfile(t *testing.T) {
	s := newScenario(t)

	run, err := s.engine.Run(context.Background(), "staging")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("Expected UnknownProfile, got: %v", err)
	}
	if run != nil {
		t.Error("Expected no run for a structural failure")
	}
	if len(s.calls) != 0 {
		t.Errorf("Expected no builder invocations, got %v", s.calls)
	}
}

func TestEngine_Run_StructuralFailureInProfile(t *testing.T) {
	e := New()
	_ = e.RegisterUnit(*staticUnit("A", []string{"b"}, []string{"a"}))
	_ = e.RegisterUnit(*staticUnit("B", []string{"a"}, []string{"b"}))
	_ = e.RegisterUnit(*staticUnit("X", []string{"c"}, []string{"x"}))
	_ = e.RegisterUnit(*staticUnit("D1", nil, []string{"d"}))
	_ = e.RegisterUnit(*staticUnit("D2", nil, []string{"d"}))
	_ = e.RegisterProfile("cycle", []string{"A", "B"})
	_ = e.RegisterProfile("unsatisfied", []string{"X"})
	_ = e.RegisterProfile("duplicate", []string{"D1", "D2"})

	tests := []struct {
		profile string
		want    *EngineError
	}{
		{"cycle", ErrCyclicDependency},
		{"unsatisfied", ErrUnsatisfiedDependency},
		{"duplicate", ErrDuplicateProducer},
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			_, err := e.Run(context.Background(), tt.profile)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %s, got: %v", tt.want.Code, err)
			}
			if !IsStructural(err) {
				t.Errorf("Expected structural error, got: %v", err)
			}
		})
	}

	err := e.Validate()
	for _, tt := range tests {
		if !errors.Is(err, tt.want) {
			t.Errorf("Expected Validate to report %s, got: %v", tt.want.Code, err)
		}
	}
}

func TestEngine_Run_ProfileExcludesOutsideProducers(t *testing.T) {
	s := newScenario(t)
	if err := s.engine.RegisterProfile("api-only", []string{"Api"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err := s.engine.Run(context.Background(), "api-only")
	if !errors.Is(err, ErrUnsatisfiedDependency) {
		t.Fatalf("Expected UnsatisfiedDependency, got: %v", err)
	}
}

func TestEngine_Run_OutputContract(t *testing.T) {
	tests := []struct {
		name string
		out  Capabilities
		want *EngineError
	}{
		{"missing output", Capabilities{}, ErrMissingOutput},
		{"undeclared output", Capabilities{"vpcId": "v", "extra": 1}, ErrUndeclaredCapability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			_ = e.RegisterUnit(UnitDescriptor{
				Name:     "Net",
				Produces: []string{"vpcId"},
				Builder: BuilderFunc(func(context.Context, Capabilities) (Capabilities, error) {
					return tt.out, nil
				}),
			})
			_ = e.RegisterProfile("p", []string{"Net"})

			run, err := e.Run(context.Background(), "p")
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %s, got: %v", tt.want.Code, err)
			}
			if run.Registry.Len() != 0 {
				t.Errorf("Expected nothing stored from a rejected output, got %v", run.Registry.Names())
			}
		})
	}
}

func TestEngine_Run_PlanGate(t *testing.T) {
	denied := errors.New("pipelines are not allowed in this account")
	s := newScenario(t, WithPlanGate(PlanGateFunc(func(_ context.Context, plan *BuildPlan) error {
		if plan.Profile == "full" {
			return denied
		}
		return nil
	})))

	_, err := s.engine.Run(context.Background(), "full")
	if !errors.Is(err, ErrPolicyDenied) || !errors.Is(err, denied) {
		t.Fatalf("Expected PolicyDenied wrapping the gate error, got: %v", err)
	}
	if len(s.calls) != 0 {
		t.Errorf("Expected no builds after a gate rejection, got %v", s.calls)
	}

	if _, err := s.engine.Run(context.Background(), "minimal"); err != nil {
		t.Errorf("Expected minimal to pass the gate, got: %v", err)
	}
}

type recordingObserver struct {
	NopObserver
	events []string
}

type ctxKey struct{}

func (o *recordingObserver) PlanResolved(_ context.Context, profile string, _ *BuildPlan, err error) {
	o.events = append(o.events, "plan:"+profile+":"+errString(err))
}

func (o *recordingObserver) RunStarted(ctx context.Context, _ *Run) context.Context {
	o.events = append(o.events, "run:start")
	return context.WithValue(ctx, ctxKey{}, "traced")
}

func (o *recordingObserver) UnitFinished(_ context.Context, _ *Run, r UnitResult) {
	o.events = append(o.events, "unit:"+r.Unit+":"+string(r.Status))
}

func (o *recordingObserver) RunFinished(_ context.Context, run *Run, _ error) {
	o.events = append(o.events, "run:"+string(run.Status))
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	e, _ := AsEngineError(err)
	return e.Code
}

func TestEngine_Run_Observers(t *testing.T) {
	obs := &recordingObserver{}
	e := New(WithObservers(obs))

	var seen any
	_ = e.RegisterUnit(UnitDescriptor{
		Name:     "Net",
		Produces: []string{"vpcId"},
		Builder: BuilderFunc(func(ctx context.Context, _ Capabilities) (Capabilities, error) {
			seen = ctx.Value(ctxKey{})
			return Capabilities{"vpcId": "v"}, nil
		}),
	})
	_ = e.RegisterProfile("p", []string{"Net"})

	if _, err := e.Run(context.Background(), "p"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	_, _ = e.Run(context.Background(), "nope")

	want := []string{
		"plan:p:ok",
		"run:start",
		"unit:Net:succeeded",
		"run:succeeded",
		"plan:nope:UNKNOWN_PROFILE",
	}
	if !reflect.DeepEqual(obs.events, want) {
		t.Errorf("Expected events %v, got %v", want, obs.events)
	}
	if seen != "traced" {
		t.Errorf("Expected observer context to reach the builder, got %v", seen)
	}
}

func TestEngine_Run_Clock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newScenario(t, WithClock(func() time.Time { return fixed }))

	run, err := s.engine.Run(context.Background(), "minimal")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !run.StartedAt.Equal(fixed) || run.Duration != 0 {
		t.Errorf("Expected fixed clock, got start %v duration %v", run.StartedAt, run.Duration)
	}
	if !run.Plan.CreatedAt.Equal(fixed) {
		t.Errorf("Expected plan timestamp from clock, got %v", run.Plan.CreatedAt)
	}
}

func TestEngine_Run_IndependentRegistries(t *testing.T) {
	s := newScenario(t)

	first, err := s.engine.Run(context.Background(), "minimal")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := s.engine.Run(context.Background(), "full")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if first.Registry == second.Registry {
		t.Fatal("Expected each run to own its registry")
	}
	if first.Registry.Has("apiUrl") {
		t.Error("Expected the minimal run to be unaffected by the later full run")
	}
	if first.ID == second.ID {
		t.Error("Expected distinct run IDs")
	}
}

func TestExecutor_MissingCapabilityPanics(t *testing.T) {
	// A hand-built plan that skips resolution: the requirement is never produced.
	plan := &BuildPlan{
		ID:      "manual",
		Profile: "broken",
		Steps: []PlanStep{
			{Position: 1, Unit: "Store", Requires: []string{"vpcId"}, Produces: []string{"tableArn"}},
		},
		units: []*UnitDescriptor{staticUnit("Store", []string{"vpcId"}, []string{"tableArn"})},
		Depth: 1,
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Expected executor to panic on a missing capability")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrMissingCapability) {
			t.Errorf("Expected MissingCapability panic, got %v", r)
		}
	}()

	_, _ = NewExecutor(zerolog.Nop()).Execute(context.Background(), plan)
}

func TestExecutor_PlanWithoutBuilders(t *testing.T) {
	plan := &BuildPlan{ID: "decoded", Steps: []PlanStep{{Position: 1, Unit: "Net"}}}

	_, err := NewExecutor(zerolog.Nop()).Execute(context.Background(), plan)
	e, ok := AsEngineError(err)
	if !ok || e.Code != ErrCodePlanNotExecutable {
		t.Fatalf("Expected PlanNotExecutable, got: %v", err)
	}
}
