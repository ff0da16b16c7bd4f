package stacks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strata-dev/strata/pkg/engine"
)

// Kind identifies the type of a provisioned resource.
type Kind string

const (
	KindFunction       Kind = "lambda:function"
	KindTable          Kind = "dynamodb:table"
	KindBucket         Kind = "s3:bucket"
	KindUserPool       Kind = "cognito:user-pool"
	KindUserPoolClient Kind = "cognito:user-pool-client"
	KindUserPoolDomain Kind = "cognito:user-pool-domain"
	KindIdentityPool   Kind = "cognito:identity-pool"
	KindHostedZone     Kind = "route53:hosted-zone"
	KindDistribution   Kind = "cloudfront:distribution"
	KindPipeline       Kind = "codepipeline:pipeline"
	KindRestAPI        Kind = "apigateway:rest-api"
	KindSecret         Kind = "secretsmanager:secret"
	KindVPC            Kind = "ec2:vpc"
	KindService        Kind = "ecs:service"
	KindLoadBalancer   Kind = "elb:load-balancer"
)

// Resource is a provisioning request issued by a unit builder.
type Resource struct {
	// Unit is the unit issuing the request.
	Unit string `json:"unit"`

	Kind Kind   `json:"kind"`
	Name string `json:"name"`

	// Properties configure the resource.
	Properties map[string]any `json:"properties,omitempty"`

	// References are the handles the resource is wired to.
	References []Handle `json:"references,omitempty"`
}

// Handle identifies a provisioned resource. Handles are the capability values
// exchanged between photo-app units.
type Handle struct {
	Kind       Kind              `json:"kind" yaml:"kind"`
	Name       string            `json:"name" yaml:"name"`
	ID         string            `json:"id,omitempty" yaml:"id,omitempty"`
	ARN        string            `json:"arn,omitempty" yaml:"arn,omitempty"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Provisioner creates resources. Implementations may block until the resource
// is available and may retry on their own.
type Provisioner interface {
	Provision(ctx context.Context, res Resource) (Handle, error)
}

// ProvisionerFunc adapts a function to the Provisioner interface.
type ProvisionerFunc func(ctx context.Context, res Resource) (Handle, error)

// Provision calls f(ctx, res).
func (f ProvisionerFunc) Provision(ctx context.Context, res Resource) (Handle, error) {
	return f(ctx, res)
}

// AsHandle converts a capability value to a Handle. Values read back from the
// run store arrive as decoded JSON objects and are converted through JSON.
func AsHandle(v any) (Handle, error) {
	switch h := v.(type) {
	case Handle:
		return h, nil
	case *Handle:
		if h == nil {
			return Handle{}, fmt.Errorf("nil handle")
		}
		return *h, nil
	case map[string]any:
		data, err := json.Marshal(h)
		if err != nil {
			return Handle{}, fmt.Errorf("failed to encode handle: %w", err)
		}
		var out Handle
		if err := json.Unmarshal(data, &out); err != nil {
			return Handle{}, fmt.Errorf("failed to decode handle: %w", err)
		}
		if out.Kind == "" || out.Name == "" {
			return Handle{}, fmt.Errorf("value is not a resource handle")
		}
		return out, nil
	default:
		return Handle{}, fmt.Errorf("unexpected capability type %T", v)
	}
}

// handleOf reads one required capability as a Handle.
func handleOf(in engine.Capabilities, capability string) (Handle, error) {
	v, ok := in[capability]
	if !ok {
		return Handle{}, fmt.Errorf("capability %q not provided", capability)
	}
	h, err := AsHandle(v)
	if err != nil {
		return Handle{}, fmt.Errorf("capability %q: %w", capability, err)
	}
	return h, nil
}

// handlesOf reads several required capabilities in order.
func handlesOf(in engine.Capabilities, capabilities ...string) ([]Handle, error) {
	out := make([]Handle, len(capabilities))
	for i, c := range capabilities {
		h, err := handleOf(in, c)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}
