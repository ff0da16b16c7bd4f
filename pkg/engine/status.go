package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a profile run.
type RunStatus string

const (
	// RunStatusPending indicates the run is created but no unit has started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates units are being built.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every unit in the plan built.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a unit failed and the run halted.
	RunStatusFailed RunStatus = "failed"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// UnitStatus represents the outcome of one plan step.
type UnitStatus string

const (
	// UnitStatusPending indicates the unit has not been reached yet.
	UnitStatusPending UnitStatus = "pending"

	// UnitStatusRunning indicates the unit's builder is executing.
	UnitStatusRunning UnitStatus = "running"

	// UnitStatusSucceeded indicates the unit built and its products were stored.
	UnitStatusSucceeded UnitStatus = "succeeded"

	// UnitStatusFailed indicates the unit's builder failed.
	UnitStatusFailed UnitStatus = "failed"

	// UnitStatusSkipped indicates the run halted before reaching the unit.
	UnitStatusSkipped UnitStatus = "skipped"
)

// Validate checks if the unit status is valid.
func (s UnitStatus) Validate() error {
	switch s {
	case UnitStatusPending, UnitStatusRunning, UnitStatusSucceeded,
		UnitStatusFailed, UnitStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid unit status: %s", s)
	}
}
