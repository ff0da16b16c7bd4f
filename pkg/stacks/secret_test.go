package stacks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/strata-dev/strata/pkg/engine"
)

func TestMaterializeSecret(t *testing.T) {
	e := newRegisteredEngine(t, NewCatalog(testSettings()))
	run, err := e.Run(context.Background(), ProfileDev)
	if err != nil {
		t.Fatalf("Expected dev to run, got: %v", err)
	}
	outputs := run.Outputs()

	data, err := MaterializeSecret(outputs)
	if err != nil {
		t.Fatalf("Expected the secret document, got: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"userPoolId\"") {
		t.Errorf("Expected an indented document, got:\n%s", data)
	}

	var doc SecretConfig
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("failed to decode secret: %v", err)
	}

	pool, _ := AsHandle(outputs[CapUserPool])
	client, _ := AsHandle(outputs[CapUserPoolClient])
	identity, _ := AsHandle(outputs[CapIdentityPool])

	expected := SecretConfig{
		UserPoolID:       pool.ID,
		Region:           "eu-west-1",
		AppClient:        client.ID,
		ProjectName:      "foto",
		Stage:            "dev",
		RootDomain:       "foto.example.org",
		IdentityPoolID:   identity.ID,
		UploadBucket:     "foto-upload-bucket",
		ProfileTableName: "foto-profile-table",
	}
	if doc != expected {
		t.Errorf("Expected %+v, got %+v", expected, doc)
	}
	if !strings.HasPrefix(doc.UserPoolID, "eu-west-1_") {
		t.Errorf("Expected a regional user pool id, got %s", doc.UserPoolID)
	}
}

func TestMaterializeSecret_DecodedRegistry(t *testing.T) {
	e := newRegisteredEngine(t, NewCatalog(testSettings()))
	run, err := e.Run(context.Background(), ProfileDev)
	if err != nil {
		t.Fatalf("Expected dev to run, got: %v", err)
	}

	// Capabilities read back from the state store are plain JSON values.
	data, err := json.Marshal(run.Outputs())
	if err != nil {
		t.Fatalf("failed to encode outputs: %v", err)
	}
	var decoded engine.Capabilities
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode outputs: %v", err)
	}

	live, err := MaterializeSecret(run.Outputs())
	if err != nil {
		t.Fatalf("Expected the live secret, got: %v", err)
	}
	stored, err := MaterializeSecret(decoded)
	if err != nil {
		t.Fatalf("Expected the decoded secret, got: %v", err)
	}
	if string(live) != string(stored) {
		t.Errorf("Expected identical documents, got:\n%s\n%s", live, stored)
	}
}

func TestMaterializeSecret_Errors(t *testing.T) {
	tests := []struct {
		name    string
		reg     engine.Capabilities
		wantErr string
	}{
		{
			name:    "missing capability",
			reg:     engine.Capabilities{CapUserPool: Handle{Kind: KindUserPool, Name: "pool"}},
			wantErr: "not found",
		},
		{
			name:    "not a handle",
			reg:     engine.Capabilities{CapAppSecret: "arn:aws:secretsmanager:secret"},
			wantErr: CapAppSecret,
		},
		{
			name:    "missing attribute",
			reg:     engine.Capabilities{CapAppSecret: Handle{Kind: KindSecret, Name: "foto-dev-secret"}},
			wantErr: "no config attribute",
		},
		{
			name: "invalid document",
			reg: engine.Capabilities{CapAppSecret: Handle{
				Kind:       KindSecret,
				Name:       "foto-dev-secret",
				Attributes: map[string]string{SecretKey: "{"},
			}},
			wantErr: "failed to decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MaterializeSecret(tt.reg)
			if err == nil {
				t.Fatal("Expected an error, got none")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewSecretConfig_MissingInput(t *testing.T) {
	if _, err := NewSecretConfig(testSettings(), engine.Capabilities{}); err == nil {
		t.Error("Expected an error without the cognito handles")
	}
}
