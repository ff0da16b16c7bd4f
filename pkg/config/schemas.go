package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaTopology = "topology"
	SchemaSettings = "settings"
)

// SchemaRegistry manages CUE schemas for validation.
// Values produced by the registry share its cue.Context, so callers that unify
// against a schema must compile their input with Context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas. They are constants,
// so a compile failure is a programming error.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	if err := sr.RegisterSchema(SchemaTopology, builtinTopologySchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaSettings, builtinSettingsSchema); err != nil {
		panic(err)
	}
}

// Context returns the cue.Context schemas are compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Definition looks up a definition such as "#Topology" inside a named schema.
func (sr *SchemaRegistry) Definition(schemaName, definition string) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	def := schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("schema %s has no definition %s", schemaName, definition)
	}
	return def, nil
}

// Unify unifies val with a schema definition and returns the result.
// The result may carry errors; callers inspect them with Validate.
func (sr *SchemaRegistry) Unify(schemaName, definition string, val cue.Value) (cue.Value, error) {
	def, err := sr.Definition(schemaName, definition)
	if err != nil {
		return cue.Value{}, err
	}
	return def.Unify(val), nil
}

// ValidateAgainstSchema validates data against a schema definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName, definition string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified, err := sr.Unify(schemaName, definition, dataVal)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

const builtinTopologySchema = `
// Unit is one buildable piece of the topology.
#Unit: {
	// Name defaults to the key when units are declared as a struct
	name?: string & =~"^[A-Za-z0-9][A-Za-z0-9_.-]*$"

	description?: string

	// Version of the unit definition (semver)
	version?: string

	// Capabilities consumed and produced
	requires?: [...string]
	produces?: [...string]

	labels?: {[string]: string}

	builder: "static" | "script" | "stack"

	// Static builder outputs
	outputs?: {...}

	// Starlark source for script builders
	script?: string

	// Go builder name for stack builders
	stack?: string
}

// Profile selects units by name.
#Profile: {
	name?: string & =~"^[A-Za-z0-9][A-Za-z0-9_.-]*$"
	description?: string
	units: [...string]
}

#Topology: {
	api_version?: string

	units?: {[string]: #Unit} | [...#Unit]

	profiles?: {[string]: #Profile} | [...#Profile]

	metadata?: {[string]: _}
}
`

const builtinSettingsSchema = `
#Settings: {
	project?:    string & =~"^[a-z0-9][a-z0-9-]*$"
	stage?:      string & =~"^[a-z0-9][a-z0-9-]*$"
	region?:     string
	account?:    string
	domain?:     string
	state_path?: string
	log_level?:  "trace" | "debug" | "info" | "warn" | "error"

	repository?: {
		owner?:    string
		frontend?: string
		restapi?:  string
		branch?:   string
	}

	telemetry?: {
		service_name?:    string
		exporter?:        "otlp" | "stdout" | "none"
		endpoint?:        string
		metrics_address?: string
	}
}
`
