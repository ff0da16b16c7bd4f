package stacks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/strata-dev/strata/pkg/config"
	"github.com/strata-dev/strata/pkg/engine"
)

// SecretKey is the secret attribute holding the configuration document.
const SecretKey = "config"

// SecretConfig is the document shared by the frontend and the backend.
type SecretConfig struct {
	UserPoolID       string `json:"userPoolId"`
	Region           string `json:"region"`
	AppClient        string `json:"appClient"`
	ProjectName      string `json:"projectName"`
	Stage            string `json:"stage"`
	RootDomain       string `json:"rootDomain"`
	IdentityPoolID   string `json:"identityPoolId"`
	UploadBucket     string `json:"uploadBucket"`
	ProfileTableName string `json:"profileTableName"`
}

// NewSecretConfig assembles the document from settings and the cognito,
// upload bucket and profile table handles.
func NewSecretConfig(settings *config.Settings, in engine.Capabilities) (*SecretConfig, error) {
	pool, err := handleOf(in, CapUserPool)
	if err != nil {
		return nil, err
	}
	client, err := handleOf(in, CapUserPoolClient)
	if err != nil {
		return nil, err
	}
	identity, err := handleOf(in, CapIdentityPool)
	if err != nil {
		return nil, err
	}
	bucket, err := handleOf(in, CapFileUploadBucket)
	if err != nil {
		return nil, err
	}
	table, err := handleOf(in, CapProfileTable)
	if err != nil {
		return nil, err
	}

	return &SecretConfig{
		UserPoolID:       pool.ID,
		Region:           settings.Region,
		AppClient:        client.ID,
		ProjectName:      settings.Project,
		Stage:            settings.Stage,
		RootDomain:       settings.Domain,
		IdentityPoolID:   identity.ID,
		UploadBucket:     bucket.Name,
		ProfileTableName: table.Name,
	}, nil
}

// JSON encodes the document.
func (s *SecretConfig) JSON() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode secret config: %w", err)
	}
	return data, nil
}

// MaterializeSecret returns the indented configuration document held by the
// appSecret capability of a finished registry.
func MaterializeSecret(reg engine.Capabilities) ([]byte, error) {
	v, ok := reg[CapAppSecret]
	if !ok {
		return nil, fmt.Errorf("capability %q not found: the run did not build the %s unit", CapAppSecret, UnitSecrets)
	}
	secret, err := AsHandle(v)
	if err != nil {
		return nil, fmt.Errorf("capability %q: %w", CapAppSecret, err)
	}

	raw := secret.Attributes[SecretKey]
	if raw == "" {
		return nil, fmt.Errorf("secret %s has no %s attribute", secret.Name, SecretKey)
	}

	var doc SecretConfig
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode secret config: %w", err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, []byte(raw), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to format secret config: %w", err)
	}
	return out.Bytes(), nil
}
