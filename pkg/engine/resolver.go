package engine

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Resolver orders a set of unit descriptors by their capability dependencies.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// graph is the producer -> consumer graph over one descriptor set.
// Nodes are indexes into units, which is in registration order.
type graph struct {
	units []*UnitDescriptor

	// producers maps a capability to the index of the unit producing it.
	producers map[string]int

	// dependents maps a node to the nodes consuming its products.
	dependents [][]int

	// dependencies maps a node to the nodes producing its requirements.
	dependencies [][]int

	// inDegree counts distinct producers each node waits on.
	inDegree []int

	edges []PlanEdge
}

// Resolve computes the build order for units. The slice order is the
// registration order and breaks ties between units that are ready together, so
// identical input always yields an identical plan.
//
// Duplicate producers and unsatisfied requirements are reported before any
// ordering is attempted. No builder is invoked.
func (r *Resolver) Resolve(profile string, units []*UnitDescriptor) (*BuildPlan, error) {
	g, err := r.initialize(units)
	if err != nil {
		return nil, err
	}

	order, levels, err := g.sort()
	if err != nil {
		return nil, err
	}

	return g.buildPlan(profile, order, levels, r.now()), nil
}

// initialize indexes producers, runs the structural pre-pass and builds edges.
func (r *Resolver) initialize(units []*UnitDescriptor) (*graph, error) {
	n := len(units)
	g := &graph{
		units:        units,
		producers:    make(map[string]int),
		dependents:   make([][]int, n),
		dependencies: make([][]int, n),
		inDegree:     make([]int, n),
		edges:        make([]PlanEdge, 0),
	}

	names := make(map[string]struct{}, n)
	for _, u := range units {
		if _, dup := names[u.Name]; dup {
			return nil, newDuplicateUnitNameError(u.Name).WithOperation("resolve")
		}
		names[u.Name] = struct{}{}
	}

	// First pass: every capability has at most one producer
	for i, u := range units {
		for _, capName := range u.Produces {
			if owner, exists := g.producers[capName]; exists {
				return nil, newDuplicateProducerError(capName, units[owner].Name, u.Name)
			}
			g.producers[capName] = i
		}
	}

	// Second pass: every requirement has a producer
	for _, u := range units {
		for _, capName := range u.Requires {
			if _, ok := g.producers[capName]; !ok {
				return nil, newUnsatisfiedDependencyError(u.Name, capName)
			}
		}
	}

	// Third pass: edges. Several capabilities flowing between the same pair of
	// units count as one dependency.
	for consumer, u := range units {
		seen := make(map[int]bool)
		for _, capName := range u.Requires {
			producer := g.producers[capName]
			g.edges = append(g.edges, PlanEdge{
				From:       units[producer].Name,
				To:         u.Name,
				Capability: capName,
			})
			if seen[producer] {
				continue
			}
			seen[producer] = true
			g.dependents[producer] = append(g.dependents[producer], consumer)
			g.dependencies[consumer] = append(g.dependencies[consumer], producer)
			g.inDegree[consumer]++
		}
	}

	return g, nil
}

// sort runs Kahn's algorithm. Among ready nodes the lowest index is taken
// first. Levels are the longest path from any root.
func (g *graph) sort() ([]int, []int, error) {
	n := len(g.units)
	inDegree := slices.Clone(g.inDegree)
	levels := make([]int, n)

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		for _, dep := range g.dependents[node] {
			levels[dep] = max(levels[dep], levels[node]+1)
			inDegree[dep]--
			if inDegree[dep] == 0 {
				pos, _ := slices.BinarySearch(ready, dep)
				ready = slices.Insert(ready, pos, dep)
			}
		}
	}

	if len(order) != n {
		remaining := make([]string, 0, n-len(order))
		blocked := make(map[int]bool)
		for i := 0; i < n; i++ {
			if inDegree[i] > 0 {
				remaining = append(remaining, g.units[i].Name)
				blocked[i] = true
			}
		}
		return nil, nil, newCyclicDependencyError(remaining, g.findCycle(blocked))
	}

	return order, levels, nil
}

// findCycle returns one concrete cycle among the blocked nodes using
// depth-first search, as a path that starts and ends on the same unit.
func (g *graph) findCycle(blocked map[int]bool) []string {
	visited := make(map[int]bool)
	onStack := make(map[int]bool)
	path := make([]int, 0)

	var visit func(node int) []int
	visit = func(node int) []int {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, next := range g.dependents[node] {
			if !blocked[next] {
				continue
			}
			if !visited[next] {
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				start := slices.Index(path, next)
				return append(slices.Clone(path[start:]), next)
			}
		}

		onStack[node] = false
		path = path[:len(path)-1]
		return nil
	}

	for i := range g.units {
		if blocked[i] && !visited[i] {
			if cycle := visit(i); cycle != nil {
				names := make([]string, len(cycle))
				for j, idx := range cycle {
					names[j] = g.units[idx].Name
				}
				return names
			}
		}
	}
	return nil
}

// buildPlan creates the immutable plan from a successful sort.
func (g *graph) buildPlan(profile string, order, levels []int, now time.Time) *BuildPlan {
	plan := &BuildPlan{
		ID:        uuid.New().String(),
		Profile:   profile,
		CreatedAt: now,
		Steps:     make([]PlanStep, 0, len(order)),
		Edges:     slices.Clone(g.edges),
		units:     make([]*UnitDescriptor, 0, len(order)),
	}

	position := make(map[int]int, len(order))
	for i, node := range order {
		position[node] = i
	}

	for i, node := range order {
		u := g.units[node]

		deps := slices.Clone(g.dependencies[node])
		slices.SortFunc(deps, func(a, b int) int { return position[a] - position[b] })
		dependsOn := make([]string, len(deps))
		for j, d := range deps {
			dependsOn[j] = g.units[d].Name
		}

		plan.Steps = append(plan.Steps, PlanStep{
			Position:  i + 1,
			Unit:      u.Name,
			Level:     levels[node],
			Requires:  slices.Clone(u.Requires),
			Produces:  slices.Clone(u.Produces),
			DependsOn: dependsOn,
		})
		plan.units = append(plan.units, u)
		plan.Depth = max(plan.Depth, levels[node]+1)
	}

	return plan
}
