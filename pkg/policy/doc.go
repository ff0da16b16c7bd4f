// Package policy evaluates Rego policies against build plans.
//
// An Engine compiles built-in and user policies with Open Policy Agent and
// evaluates every enabled one against a resolved engine.BuildPlan. It
// implements engine.PlanGate, so plugging it into the build engine stops a
// plan with blocking violations before any unit builds:
//
//	gate, err := policy.NewEngine(logger, policy.WithEnvironment(policy.Environment{
//	    Project: settings.Project,
//	    Stage:   settings.Stage,
//	    Region:  settings.Region,
//	}))
//	if err != nil {
//	    return err
//	}
//	eng := engine.New(engine.WithPlanGate(gate))
//
// A denied plan fails with an engine error coded POLICY_DENIED.
//
// # Input
//
// Policies see the plan as input.plan (id, profile, steps, edges, depth) and
// the target as input.context (project, stage, region, operation,
// capabilities). Configured limits are available as data.strata.limits.
//
// # Built-in Policies
//
//   - unit-naming (warning): lowercase names with inner hyphens, at most 63 characters
//   - capability-naming (warning): lowerCamelCase capability names
//   - plan-limits (error): plan depth and unit count within data.strata.limits
//   - isolated-units (warning): units connected to nothing else in the plan
//   - stage-profile (critical): the dev profile cannot target the prod stage
//
// # Custom Policies
//
// User policies are Rego v1 modules defining a deny set. Entries are message
// strings or objects with message and optional severity, unit and capability:
//
//	# Frozen units are not rebuilt
//	# severity: error
//	package custom.frozen
//
//	import rego.v1
//
//	deny contains violation if {
//	    some step in input.plan.steps
//	    step.unit == "cognito"
//	    violation := {"message": "cognito is frozen", "unit": step.unit}
//	}
//
// .rego files are named after the file. .json files hold one Policy or a
// Bundle. Engine.LoadPolicies loads files and directories; Engine.Watch keeps
// user policies in sync with the files while built-ins stay.
//
// # Severity Levels
//
// Error and critical violations deny the plan. Info and warning violations
// are reported and logged.
package policy
