package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"
)

// staticUnit returns a descriptor whose builder emits "<capability>-value" for every product.
func staticUnit(name string, requires, produces []string) *UnitDescriptor {
	return &UnitDescriptor{
		Name:     name,
		Requires: requires,
		Produces: produces,
		Builder: BuilderFunc(func(_ context.Context, _ Capabilities) (Capabilities, error) {
			out := make(Capabilities, len(produces))
			for _, p := range produces {
				out[p] = p + "-value"
			}
			return out, nil
		}),
	}
}

func TestResolver_Resolve_Empty(t *testing.T) {
	plan, err := NewResolver().Resolve("empty", nil)
	if err != nil {
		t.Fatalf("Expected no error for empty units, got: %v", err)
	}
	if plan.Len() != 0 {
		t.Errorf("Expected 0 steps, got %d", plan.Len())
	}
	if plan.Depth != 0 {
		t.Errorf("Expected depth 0, got %d", plan.Depth)
	}
	if plan.ID == "" {
		t.Error("Expected plan ID to be set")
	}
}

func TestResolver_Resolve_LinearChain(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("api", []string{"tableArn"}, []string{"apiUrl"}),
		staticUnit("store", []string{"vpcId"}, []string{"tableArn"}),
		staticUnit("net", nil, []string{"vpcId"}),
	}

	plan, err := NewResolver().Resolve("full", units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"net", "store", "api"}
	if got := plan.Order(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected order %v, got %v", want, got)
	}
	if plan.Depth != 3 {
		t.Errorf("Expected depth 3, got %d", plan.Depth)
	}

	api, _ := plan.Step("api")
	if api.Position != 3 || api.Level != 2 {
		t.Errorf("Expected api at position 3 level 2, got position %d level %d", api.Position, api.Level)
	}
	if !reflect.DeepEqual(api.DependsOn, []string{"store"}) {
		t.Errorf("Expected api to depend on store, got %v", api.DependsOn)
	}
	if len(plan.Edges) != 2 {
		t.Errorf("Expected 2 edges, got %d", len(plan.Edges))
	}
}

func TestResolver_Resolve_TieBreakByRegistrationOrder(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("zeta", nil, []string{"z"}),
		staticUnit("alpha", nil, []string{"a"}),
		staticUnit("joiner", []string{"a", "z"}, []string{"j"}),
		staticUnit("mid", nil, []string{"m"}),
	}

	plan, err := NewResolver().Resolve("p", units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// joiner becomes ready once alpha is built and was registered before mid.
	want := []string{"zeta", "alpha", "joiner", "mid"}
	if got := plan.Order(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected order %v, got %v", want, got)
	}
}

func TestResolver_Resolve_ReadyUnitEarlierInRegistrationWins(t *testing.T) {
	// b becomes ready after a builds, and is registered before c which was
	// ready all along: b must come first.
	units := []*UnitDescriptor{
		staticUnit("a", nil, []string{"x"}),
		staticUnit("b", []string{"x"}, []string{"y"}),
		staticUnit("c", nil, []string{"z"}),
	}

	plan, err := NewResolver().Resolve("p", units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{"a", "b", "c"}
	if got := plan.Order(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected order %v, got %v", want, got)
	}
}

func TestResolver_Resolve_ProducersPrecedeConsumers(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("gateway", []string{"hostedZone", "fn", "pool"}, []string{"apiUrl"}),
		staticUnit("cognito", []string{"bucket"}, []string{"pool"}),
		staticUnit("upload", []string{"fn"}, []string{"bucket"}),
		staticUnit("secrets", []string{"pool", "bucket", "table"}, []string{"secret"}),
		staticUnit("lambda", nil, []string{"fn"}),
		staticUnit("dns", nil, []string{"hostedZone"}),
		staticUnit("dynamo", nil, []string{"table"}),
	}

	plan, err := NewResolver().Resolve("p", units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	pos := make(map[string]int)
	for _, s := range plan.Steps {
		pos[s.Unit] = s.Position
	}
	for _, e := range plan.Edges {
		if pos[e.From] >= pos[e.To] {
			t.Errorf("Expected %s (producer of %s) before %s, got positions %d and %d",
				e.From, e.Capability, e.To, pos[e.From], pos[e.To])
		}
	}
	if len(pos) != len(units) {
		t.Errorf("Expected every unit exactly once, got %d", len(pos))
	}
}

func TestResolver_Resolve_Deterministic(t *testing.T) {
	build := func() []*UnitDescriptor {
		var units []*UnitDescriptor
		for i := 0; i < 12; i++ {
			var req []string
			if i%3 != 0 {
				req = []string{fmt.Sprintf("c%d", i-1)}
			}
			units = append(units, staticUnit(fmt.Sprintf("u%02d", i), req, []string{fmt.Sprintf("c%d", i)}))
		}
		return units
	}

	first, err := NewResolver().Resolve("p", build())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := NewResolver().Resolve("p", build())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !reflect.DeepEqual(first.Order(), again.Order()) {
			t.Fatalf("Expected identical order, got %v and %v", first.Order(), again.Order())
		}
	}
}

func TestResolver_Resolve_Cycle(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("A", []string{"b"}, []string{"a"}),
		staticUnit("B", []string{"a"}, []string{"b"}),
	}

	_, err := NewResolver().Resolve("p", units)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Expected CyclicDependency, got: %v", err)
	}

	var e *EngineError
	errors.As(err, &e)
	if !reflect.DeepEqual(e.Units, []string{"A", "B"}) {
		t.Errorf("Expected participants [A B], got %v", e.Units)
	}
	if !IsPermanent(err) {
		t.Errorf("Expected cycle to be permanent, got class %s", e.Class)
	}
	if !strings.Contains(err.Error(), "A -> B -> A") {
		t.Errorf("Expected cycle path in message, got: %v", err)
	}
}

func TestResolver_Resolve_CycleReportsBlockedUnits(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("root", nil, []string{"r"}),
		staticUnit("A", []string{"r", "c"}, []string{"a"}),
		staticUnit("B", []string{"a"}, []string{"b"}),
		staticUnit("C", []string{"b"}, []string{"c"}),
		staticUnit("downstream", []string{"c"}, []string{"d"}),
	}

	_, err := NewResolver().Resolve("p", units)
	e, ok := AsEngineError(err)
	if !ok || e.Code != ErrCodeCyclicDependency {
		t.Fatalf("Expected CyclicDependency, got: %v", err)
	}
	for _, name := range []string{"A", "B", "C"} {
		if !slices.Contains(e.Units, name) {
			t.Errorf("Expected %s among participants, got %v", name, e.Units)
		}
	}
	if slices.Contains(e.Units, "root") {
		t.Errorf("Expected root to be resolved, got participants %v", e.Units)
	}
}

func TestResolver_Resolve_UnsatisfiedDependency(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("W", nil, []string{"w"}),
		staticUnit("X", []string{"w", "c"}, []string{"x"}),
	}

	_, err := NewResolver().Resolve("p", units)
	if !errors.Is(err, ErrUnsatisfiedDependency) {
		t.Fatalf("Expected UnsatisfiedDependency, got: %v", err)
	}
	e, _ := AsEngineError(err)
	if e.Unit != "X" || e.Capability != "c" {
		t.Errorf("Expected unit X and capability c, got unit %q capability %q", e.Unit, e.Capability)
	}
}

func TestResolver_Resolve_DuplicateProducer(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("first", nil, []string{"d"}),
		staticUnit("second", nil, []string{"e", "d"}),
	}

	_, err := NewResolver().Resolve("p", units)
	if !errors.Is(err, ErrDuplicateProducer) {
		t.Fatalf("Expected DuplicateProducer, got: %v", err)
	}
	e, _ := AsEngineError(err)
	if !reflect.DeepEqual(e.Units, []string{"first", "second"}) {
		t.Errorf("Expected both producers, got %v", e.Units)
	}
	if e.Capability != "d" {
		t.Errorf("Expected capability d, got %q", e.Capability)
	}
}

func TestResolver_Resolve_StructuralChecksNeverBuild(t *testing.T) {
	called := false
	spy := &UnitDescriptor{
		Name:     "spy",
		Requires: []string{"missing"},
		Produces: []string{"s"},
		Builder: BuilderFunc(func(_ context.Context, _ Capabilities) (Capabilities, error) {
			called = true
			return nil, nil
		}),
	}

	if _, err := NewResolver().Resolve("p", []*UnitDescriptor{spy}); err == nil {
		t.Fatal("Expected an error for unsatisfied requirement")
	}
	if called {
		t.Error("Expected resolution to never invoke a builder")
	}
}

func TestResolver_Resolve_SharedProducerCountsOnce(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("pool", nil, []string{"userPool", "userPoolClient", "identityPool"}),
		staticUnit("secret", []string{"userPool", "userPoolClient", "identityPool"}, []string{"secret"}),
	}

	plan, err := NewResolver().Resolve("p", units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(plan.Edges) != 3 {
		t.Errorf("Expected one edge per capability, got %d", len(plan.Edges))
	}
	step, _ := plan.Step("secret")
	if !reflect.DeepEqual(step.DependsOn, []string{"pool"}) {
		t.Errorf("Expected single dependency on pool, got %v", step.DependsOn)
	}
}

func TestBuildPlan_Levels(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("a", nil, []string{"x"}),
		staticUnit("b", nil, []string{"y"}),
		staticUnit("c", []string{"x", "y"}, []string{"z"}),
	}
	plan, err := NewResolver().Resolve("p", units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := [][]string{{"a", "b"}, {"c"}}
	if got := plan.Levels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected levels %v, got %v", want, got)
	}
	if got := plan.Capabilities(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("Expected capabilities in build order, got %v", got)
	}
}

func TestBuildPlan_ToDOT(t *testing.T) {
	units := []*UnitDescriptor{
		staticUnit("net", nil, []string{"vpcId"}),
		staticUnit("store", []string{"vpcId"}, []string{"tableArn"}),
	}
	plan, err := NewResolver().Resolve("full", units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := plan.ToDOT()
	for _, want := range []string{
		`digraph "plan_full"`,
		"cluster_level_0",
		"cluster_level_1",
		`"net" -> "store" [label="vpcId"]`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}
