package policy

import (
	"time"

	"github.com/strata-dev/strata/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo indicates informational messages.
	SeverityInfo Severity = "info"
	// SeverityWarning indicates warnings that don't block the run.
	SeverityWarning Severity = "warning"
	// SeverityError indicates errors that block the run.
	SeverityError Severity = "error"
	// SeverityCritical indicates critical errors that block the run.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy definition.
type Policy struct {
	// Name is the unique policy name.
	Name string `json:"name"`

	// Description describes what the policy checks.
	Description string `json:"description"`

	// Rego is the policy source. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations of this policy.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with strata.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are used for categorization.
	Tags []string `json:"tags,omitempty"`

	// Metadata holds additional policy metadata, such as its source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one deny entry produced by a policy.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy" yaml:"policy"`

	// Message describes the violation.
	Message string `json:"message" yaml:"message"`

	// Severity is taken from the deny entry, else from the policy.
	Severity Severity `json:"severity" yaml:"severity"`

	// Unit is the unit the violation refers to, if any.
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// Capability is the capability the violation refers to, if any.
	Capability string `json:"capability,omitempty" yaml:"capability,omitempty"`
}

// Result is the outcome of evaluating all enabled policies against a plan.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed" yaml:"allowed"`

	// Violations are all deny entries in policy name order.
	Violations []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`

	// Warnings are evaluation failures of individual policies.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Evaluated are the names of the policies that ran.
	Evaluated []string `json:"evaluated" yaml:"evaluated"`

	EvaluatedAt time.Time     `json:"evaluated_at" yaml:"evaluated_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// Blocking returns the violations that deny the plan.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as input.
type Input struct {
	Plan    *engine.BuildPlan `json:"plan"`
	Context *Context          `json:"context"`
}

// Context describes where the plan is going to be applied.
type Context struct {
	Project      string    `json:"project,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	Region       string    `json:"region,omitempty"`
	Operation    string    `json:"operation"`
	Capabilities []string  `json:"capabilities"`
	Timestamp    time.Time `json:"timestamp"`
}

// Environment identifies the deployment target passed to every evaluation.
type Environment struct {
	Project string
	Stage   string
	Region  string
}

// Limits are exposed to policies as data.strata.limits.
type Limits struct {
	MaxDepth int `json:"max_depth"`
	MaxUnits int `json:"max_units"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxDepth: 16, MaxUnits: 64}
}

// Bundle is a named, versioned set of policies stored in one JSON file.
type Bundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Policies    []Policy `json:"policies"`
}
