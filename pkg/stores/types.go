package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a recorded run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// UnitStatus represents the outcome of one unit in a recorded run
type UnitStatus string

const (
	UnitStatusPending   UnitStatus = "pending"
	UnitStatusRunning   UnitStatus = "running"
	UnitStatusSucceeded UnitStatus = "succeeded"
	UnitStatusFailed    UnitStatus = "failed"
	UnitStatusSkipped   UnitStatus = "skipped"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is the persisted record of one profile run
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	Profile     string     `json:"profile" yaml:"profile"`
	PlanID      string     `json:"plan_id" yaml:"plan_id"`
	Status      RunStatus  `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms" yaml:"duration_ms"`
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	Plan        string     `json:"plan" yaml:"-"` // JSON blob
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
}

// UnitResult is the persisted outcome of one plan step
type UnitResult struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	Position   int        `json:"position" yaml:"position"`
	Unit       string     `json:"unit" yaml:"unit"`
	Status     UnitStatus `json:"status" yaml:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	DurationMS int64      `json:"duration_ms" yaml:"duration_ms"`
	Produced   string     `json:"produced" yaml:"produced"` // JSON array of capability names
	Error      *string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// CapabilityOutput is one capability value produced during a run
type CapabilityOutput struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Name      string    `json:"name" yaml:"name"`
	Producer  string    `json:"producer" yaml:"producer"`
	Seq       int       `json:"seq" yaml:"seq"`
	Value     string    `json:"value" yaml:"value"` // JSON blob
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Event represents an append-only lifecycle event
type Event struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	Type      string     `json:"type"`
	RunID     *string    `json:"run_id,omitempty"`
	Profile   *string    `json:"profile,omitempty"`
	Unit      *string    `json:"unit,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// EventFilter selects events; nil fields match everything
type EventFilter struct {
	RunID *string
	Unit  *string
	Level *EventLevel
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "profile.applied", "outputs.read"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // run or profile
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the run history layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, completedAt time.Time, duration time.Duration, errMsg *string) error
	ListRuns(ctx context.Context, profile *string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Unit operations
	UpsertUnitResult(ctx context.Context, result *UnitResult) error
	ListUnitResults(ctx context.Context, runID string) ([]*UnitResult, error)

	// Capability operations
	SaveOutputs(ctx context.Context, outputs []*CapabilityOutput) error
	ListOutputs(ctx context.Context, runID string) ([]*CapabilityOutput, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, filter EventFilter, limit, offset int) ([]*Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
