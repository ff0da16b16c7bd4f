package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Builders report these when the provisioning substrate times out or is unavailable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion in the substrate.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource state conflict reported by a builder.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Structural graph failures are permanent: they never resolve without changing declarations.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassUser indicates invalid input at registration time.
	ErrorClassUser ErrorClass = "user"

	// ErrorClassInternal indicates a broken engine invariant.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with unit and capability context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the failure for programmatic handling.
	Code string `json:"code,omitempty"`

	// Unit is the unit that caused the error, if applicable.
	Unit string `json:"unit,omitempty"`

	// Units lists every unit involved: cycle participants or competing producers.
	Units []string `json:"units,omitempty"`

	// Capability is the capability name involved, if applicable.
	Capability string `json:"capability,omitempty"`

	// Position is the 1-based plan position of Unit for execution failures.
	Position int `json:"position,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var ctx []string
	if e.Unit != "" {
		ctx = append(ctx, "unit="+e.Unit)
	}
	if e.Position > 0 {
		ctx = append(ctx, fmt.Sprintf("position=%d", e.Position))
	}
	if e.Capability != "" {
		ctx = append(ctx, "capability="+e.Capability)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}

	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// A target with an empty Class matches on Code alone.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Class != "" && t.Class != e.Class {
		return false
	}
	return e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewUserError creates a new user error.
func NewUserError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassUser,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithUnit adds unit context to an error.
func (e *EngineError) WithUnit(unit string) *EngineError {
	e.Unit = unit
	return e
}

// WithUnits records every unit involved in the error.
func (e *EngineError) WithUnits(units ...string) *EngineError {
	e.Units = append([]string(nil), units...)
	return e
}

// WithCapability adds capability context to an error.
func (e *EngineError) WithCapability(name string) *EngineError {
	e.Capability = name
	return e
}

// WithPosition adds the plan position of the failing unit.
func (e *EngineError) WithPosition(position int) *EngineError {
	e.Position = position
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsEngineError extracts the first EngineError in err's chain.
func AsEngineError(err error) (*EngineError, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	e, ok := AsEngineError(err)
	return ok && e.Class == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	e, ok := AsEngineError(err)
	return ok && e.Class == ErrorClassThrottled
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	e, ok := AsEngineError(err)
	return ok && e.Class == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	e, ok := AsEngineError(err)
	return ok && e.Class == ErrorClassPermanent
}

// IsUserError returns true if the error is classified as a user error.
func IsUserError(err error) bool {
	e, ok := AsEngineError(err)
	return ok && e.Class == ErrorClassUser
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable. The engine never
// retries on its own; callers that re-run a whole profile can consult this.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// IsStructural reports whether err is a registration or resolution failure,
// detectable without invoking any builder.
func IsStructural(err error) bool {
	e, ok := AsEngineError(err)
	if !ok {
		return false
	}
	switch e.Code {
	case ErrCodeDuplicateUnitName, ErrCodeUnknownUnit, ErrCodeUnknownProfile,
		ErrCodeDuplicateProfile, ErrCodeInvalidProfile, ErrCodeInvalidDescriptor,
		ErrCodeDuplicateProducer, ErrCodeUnsatisfiedDependency, ErrCodeCyclicDependency:
		return true
	}
	return false
}

// Error codes.
const (
	ErrCodeDuplicateUnitName     = "DUPLICATE_UNIT_NAME"
	ErrCodeUnknownUnit           = "UNKNOWN_UNIT"
	ErrCodeUnknownProfile        = "UNKNOWN_PROFILE"
	ErrCodeDuplicateProfile      = "DUPLICATE_PROFILE"
	ErrCodeInvalidProfile        = "INVALID_PROFILE"
	ErrCodeInvalidDescriptor     = "INVALID_DESCRIPTOR"
	ErrCodeDuplicateProducer     = "DUPLICATE_PRODUCER"
	ErrCodeUnsatisfiedDependency = "UNSATISFIED_DEPENDENCY"
	ErrCodeCyclicDependency      = "CYCLIC_DEPENDENCY"
	ErrCodeBuildFailed           = "BUILD_FAILED"
	ErrCodeUndeclaredCapability  = "UNDECLARED_CAPABILITY"
	ErrCodeMissingOutput         = "MISSING_OUTPUT"
	ErrCodeDuplicateCapability   = "DUPLICATE_CAPABILITY"
	ErrCodeMissingCapability     = "MISSING_CAPABILITY"
	ErrCodeCapabilityType        = "CAPABILITY_TYPE"
	ErrCodePolicyDenied          = "POLICY_DENIED"
	ErrCodePlanNotExecutable     = "PLAN_NOT_EXECUTABLE"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. They match on Code regardless of Class.
var (
	ErrDuplicateUnitName     = &EngineError{Code: ErrCodeDuplicateUnitName}
	ErrUnknownUnit           = &EngineError{Code: ErrCodeUnknownUnit}
	ErrUnknownProfile        = &EngineError{Code: ErrCodeUnknownProfile}
	ErrDuplicateProfile      = &EngineError{Code: ErrCodeDuplicateProfile}
	ErrInvalidProfile        = &EngineError{Code: ErrCodeInvalidProfile}
	ErrInvalidDescriptor     = &EngineError{Code: ErrCodeInvalidDescriptor}
	ErrDuplicateProducer     = &EngineError{Code: ErrCodeDuplicateProducer}
	ErrUnsatisfiedDependency = &EngineError{Code: ErrCodeUnsatisfiedDependency}
	ErrCyclicDependency      = &EngineError{Code: ErrCodeCyclicDependency}
	ErrBuildFailed           = &EngineError{Code: ErrCodeBuildFailed}
	ErrUndeclaredCapability  = &EngineError{Code: ErrCodeUndeclaredCapability}
	ErrMissingOutput         = &EngineError{Code: ErrCodeMissingOutput}
	ErrDuplicateCapability   = &EngineError{Code: ErrCodeDuplicateCapability}
	ErrMissingCapability     = &EngineError{Code: ErrCodeMissingCapability}
	ErrCapabilityType        = &EngineError{Code: ErrCodeCapabilityType}
	ErrPolicyDenied          = &EngineError{Code: ErrCodePolicyDenied}
)

func newDuplicateUnitNameError(name string) *EngineError {
	return NewUserError(fmt.Sprintf("unit %q is already registered", name), nil).
		WithCode(ErrCodeDuplicateUnitName).
		WithUnit(name).
		WithOperation("register_unit")
}

func newUnknownUnitError(profile, unit string) *EngineError {
	return NewUserError(fmt.Sprintf("profile %q references unknown unit %q", profile, unit), nil).
		WithCode(ErrCodeUnknownUnit).
		WithUnit(unit).
		WithOperation("register_profile").
		WithDetail("profile", profile)
}

func newUnknownProfileError(name string) *EngineError {
	return NewUserError(fmt.Sprintf("profile %q is not registered", name), nil).
		WithCode(ErrCodeUnknownProfile).
		WithOperation("resolve_profile").
		WithDetail("profile", name)
}

func newDuplicateProducerError(capability, first, second string) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("capability %q is produced by both %q and %q", capability, first, second), nil).
		WithCode(ErrCodeDuplicateProducer).
		WithCapability(capability).
		WithUnits(first, second).
		WithOperation("resolve")
}

func newUnsatisfiedDependencyError(unit, capability string) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("unit %q requires %q but no unit in the set produces it", unit, capability), nil).
		WithCode(ErrCodeUnsatisfiedDependency).
		WithUnit(unit).
		WithCapability(capability).
		WithOperation("resolve")
}

func newCyclicDependencyError(participants, path []string) *EngineError {
	msg := fmt.Sprintf("circular dependency among units: %s", strings.Join(participants, ", "))
	if len(path) > 0 {
		msg = fmt.Sprintf("circular dependency detected: %s", formatCycle(path))
	}
	e := NewPermanentError(msg, nil).
		WithCode(ErrCodeCyclicDependency).
		WithUnits(participants...).
		WithOperation("resolve")
	if len(path) > 0 {
		e.WithDetail("cycle", path)
	}
	return e
}

// newBuildFailedError wraps a builder failure. The class of a classified
// cause is kept so callers can still decide whether the run is worth repeating.
func newBuildFailedError(unit string, position int, cause error) *EngineError {
	class := ErrorClassPermanent
	if inner, ok := AsEngineError(cause); ok && inner.Class != "" {
		class = inner.Class
	}
	return &EngineError{
		Class:     class,
		Message:   fmt.Sprintf("unit %q failed to build", unit),
		Code:      ErrCodeBuildFailed,
		Unit:      unit,
		Position:  position,
		Operation: "build",
		Err:       cause,
	}
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
