// Package engine assembles interdependent infrastructure units into a wired
// deployment topology for a named environment profile.
//
// # Overview
//
// A unit declares the capabilities it requires and the capabilities it
// produces. A capability is a named, opaque handle such as a VPC id or a table
// ARN; exactly one unit produces each name. The engine works in three steps:
//
//  1. Compose - select the units of a profile (Composer)
//  2. Resolve - order them so producers precede consumers (Resolver)
//  3. Execute - run each builder in order, threading handles through a Registry (Executor)
//
// The Engine type ties the three together behind RegisterUnit, RegisterProfile
// and Run.
//
// # Units and Builders
//
// Builders are opaque callbacks supplied by the application:
//
//	type Builder interface {
//	    Build(ctx context.Context, in Capabilities) (Capabilities, error)
//	}
//
// A builder receives exactly the capabilities listed in its unit's Requires and
// must return exactly those listed in Produces. Environment configuration such
// as project name or region belongs in the builder's closure; the engine never
// reads ambient configuration.
//
// # Profiles
//
// A profile is an explicit subset of registered units. There is no implicit
// "all units" profile, and a unit outside a profile never supplies a
// requirement for it.
//
// # Resolution
//
// Resolution is a topological sort over producer -> consumer edges. When
// several units are ready at once the earliest registered goes first, so the
// same catalog always yields the same order. Before sorting, the resolver
// rejects capabilities with two producers and requirements with none. Units
// still blocked after the sort form a cycle. All of this happens without
// invoking any builder.
//
// # Execution
//
// Units build strictly one at a time. The first builder failure halts the run;
// completed units are not rolled back and later units are skipped. There is no
// retry at this layer.
//
// # Errors
//
// Every failure is an *EngineError carrying a Code and the units and
// capability involved. Use errors.Is with the exported sentinels:
//
//	if errors.Is(err, engine.ErrCyclicDependency) {
//	    var e *engine.EngineError
//	    errors.As(err, &e)
//	    fmt.Println(e.Units)
//	}
//
// A requirement missing from the registry during execution means resolution
// was bypassed; the executor panics rather than hand a builder a default.
//
// # Observation
//
// Observers receive plan, run and unit lifecycle callbacks and may enrich the
// context passed to builders. PlanGates can veto a plan before it runs.
//
// # Thread Safety
//
// The catalog is safe for concurrent registration and lookup. Each Run owns its
// own Registry, so runs of different profiles may proceed concurrently.
package engine
