package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	err := sr.RegisterSchema("custom", customSchema)
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}

	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if _, err := sr.Definition("custom", "#CustomType"); err != nil {
		t.Errorf("expected #CustomType definition, got: %v", err)
	}
	if _, err := sr.Definition("custom", "#Missing"); err == nil {
		t.Error("expected error for missing definition")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	builtins := map[string][]string{
		SchemaTopology: {"#Topology", "#Unit", "#Profile"},
		SchemaSettings: {"#Settings"},
	}

	for name, defs := range builtins {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
			for _, def := range defs {
				if _, err := sr.Definition(name, def); err != nil {
					t.Errorf("expected %s in %s: %v", def, name, err)
				}
			}
		})
	}
}

func TestSchemaRegistry_ValidateUnit(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		unit    UnitConfig
		wantErr bool
	}{
		{
			name: "valid static unit",
			unit: UnitConfig{
				Name:     "vpc",
				Produces: []string{"vpcId"},
				Builder:  BuilderStatic,
				Outputs:  map[string]any{"vpcId": "vpc-123"},
			},
			wantErr: false,
		},
		{
			name: "valid script unit",
			unit: UnitConfig{
				Name:     "api",
				Requires: []string{"vpcId"},
				Produces: []string{"apiUrl"},
				Builder:  BuilderScript,
				Script:   `outputs = {"apiUrl": "https://" + inputs["vpcId"]}`,
			},
			wantErr: false,
		},
		{
			name: "invalid unit - name with spaces",
			unit: UnitConfig{
				Name:    "my unit",
				Builder: BuilderStatic,
			},
			wantErr: true,
		},
		{
			name: "invalid unit - unknown builder",
			unit: UnitConfig{
				Name:    "vpc",
				Builder: "terraform",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, SchemaTopology, "#Unit", tt.unit)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_ValidateSettings(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
	}{
		{
			name: "valid settings",
			settings: map[string]any{
				"project":   "foto",
				"stage":     "dev",
				"log_level": "debug",
				"telemetry": map[string]any{"exporter": "stdout"},
			},
			wantErr: false,
		},
		{
			name:     "invalid settings - uppercase project",
			settings: map[string]any{"project": "Foto"},
			wantErr:  true,
		},
		{
			name:     "invalid settings - unknown exporter",
			settings: map[string]any{"telemetry": map[string]any{"exporter": "zipkin"}},
			wantErr:  true,
		},
		{
			name:     "invalid settings - unknown field",
			settings: map[string]any{"bucket": "x"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, SchemaSettings, "#Settings", tt.settings)

			if tt.wantErr && err == nil {
				t.Error("expected validation error, got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	schemas := sr.ListSchemas()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 built-in schemas, got %d", len(schemas))
	}
	if schemas[0] != SchemaSettings || schemas[1] != SchemaTopology {
		t.Errorf("expected sorted [settings topology], got %v", schemas)
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	invalidSchema := `
this is not valid CUE syntax
`

	err := sr.RegisterSchema("invalid", invalidSchema)
	if err == nil {
		t.Error("expected error when registering invalid schema")
	}

	if _, err := sr.Unify("missing", "#Topology", sr.Context().CompileString("{}")); err == nil {
		t.Error("expected error for unknown schema")
	}
}
