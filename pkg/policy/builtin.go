package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	policies := []Policy{
		unitNamingPolicy(),
		capabilityNamingPolicy(),
		planLimitsPolicy(),
		isolatedUnitsPolicy(),
		stageProfilePolicy(),
	}
	now := time.Now()
	for i := range policies {
		policies[i].Builtin = true
		policies[i].Enabled = true
		policies[i].CreatedAt = now
		policies[i].UpdatedAt = now
	}
	return policies
}

// unitNamingPolicy flags unit names that cannot be used verbatim in
// provisioned resource names. The engine accepts any non-empty name, so
// this only warns.
func unitNamingPolicy() Policy {
	return Policy{
		Name:        "unit-naming",
		Description: "Unit names are lowercase, alphanumeric with inner hyphens, at most 63 characters",
		Severity:    SeverityWarning,
		Tags:        []string{"naming", "conventions"},
		Rego: `package strata.policies.naming

import rego.v1

deny contains violation if {
	some step in input.plan.steps
	name := step.unit
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", name)
	violation := {
		"message": sprintf("unit name '%s' should contain only lowercase letters, numbers and inner hyphens", [name]),
		"unit": name,
	}
}

deny contains violation if {
	some step in input.plan.steps
	name := step.unit
	count(name) > 63
	violation := {
		"message": sprintf("unit name '%s' should be at most 63 characters long", [name]),
		"unit": name,
	}
}
`,
	}
}

// capabilityNamingPolicy keeps capability names usable as JSON keys and
// template identifiers.
func capabilityNamingPolicy() Policy {
	return Policy{
		Name:        "capability-naming",
		Description: "Capability names are lowerCamelCase identifiers",
		Severity:    SeverityWarning,
		Tags:        []string{"naming", "capabilities"},
		Rego: `package strata.policies.capabilities

import rego.v1

deny contains violation if {
	some step in input.plan.steps
	some name in step.produces
	not regex.match("^[a-z][A-Za-z0-9]*$", name)
	violation := {
		"message": sprintf("capability '%s' produced by '%s' should be lowerCamelCase", [name, step.unit]),
		"unit": step.unit,
		"capability": name,
	}
}
`,
	}
}

// planLimitsPolicy bounds plan size using data.strata.limits.
func planLimitsPolicy() Policy {
	return Policy{
		Name:        "plan-limits",
		Description: "Plans stay within the configured depth and unit count",
		Severity:    SeverityError,
		Tags:        []string{"limits"},
		Rego: `package strata.policies.limits

import rego.v1

deny contains violation if {
	limit := data.strata.limits.max_depth
	limit > 0
	input.plan.depth > limit
	violation := {"message": sprintf("plan depth %d exceeds the limit of %d", [input.plan.depth, limit])}
}

deny contains violation if {
	limit := data.strata.limits.max_units
	limit > 0
	count(input.plan.steps) > limit
	violation := {"message": sprintf("plan has %d units, more than the limit of %d", [count(input.plan.steps), limit])}
}
`,
	}
}

// isolatedUnitsPolicy flags units that neither read nor feed anything else in
// a multi-unit plan. They usually belong in a profile of their own.
func isolatedUnitsPolicy() Policy {
	return Policy{
		Name:        "isolated-units",
		Description: "Units in a multi-unit plan are connected to at least one other unit",
		Severity:    SeverityWarning,
		Tags:        []string{"structure"},
		Rego: `package strata.policies.structure

import rego.v1

consumed contains edge.from if {
	some edge in input.plan.edges
}

deny contains violation if {
	count(input.plan.steps) > 1
	some step in input.plan.steps
	count(object.get(step, "requires", [])) == 0
	not consumed[step.unit]
	violation := {
		"message": sprintf("unit '%s' has no dependencies and nothing in profile '%s' depends on it", [step.unit, input.plan.profile]),
		"unit": step.unit,
	}
}
`,
	}
}

// stageProfilePolicy keeps the dev profile away from the prod stage.
func stageProfilePolicy() Policy {
	return Policy{
		Name:        "stage-profile",
		Description: "The dev profile cannot be applied to a prod stage",
		Severity:    SeverityCritical,
		Tags:        []string{"operations", "stages"},
		Rego: `package strata.policies.stages

import rego.v1

deny contains violation if {
	input.context.stage == "prod"
	input.plan.profile == "dev"
	violation := sprintf("profile 'dev' cannot be applied to stage 'prod' of project '%s'", [input.context.project])
}
`,
	}
}
