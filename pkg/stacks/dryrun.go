package stacks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strata-dev/strata/pkg/config"
	"github.com/strata-dev/strata/pkg/engine"
)

// dryRunAccount is used in ARNs when no account is configured.
const dryRunAccount = "000000000000"

// DryRunProvisioner provisions nothing. It derives stable identifiers, ARNs and
// URLs from the settings and the resource name, so repeated runs with the
// same settings produce the same handles.
type DryRunProvisioner struct {
	region  string
	account string
	logger  zerolog.Logger

	mu        sync.Mutex
	requested []Resource
	claims    map[string]string
}

// NewDryRunProvisioner creates a dry-run provisioner for the given settings.
func NewDryRunProvisioner(settings *config.Settings, logger zerolog.Logger) *DryRunProvisioner {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	account := settings.Account
	if account == "" {
		account = dryRunAccount
	}
	return &DryRunProvisioner{
		region:  settings.Region,
		account: account,
		logger:  logger,
		claims:  make(map[string]string),
	}
}

// Provision returns the handle the resource would have. A resource name can
// be claimed by one unit only; a second unit asking for the same kind and
// name gets a conflict. An expired context is reported as transient.
func (p *DryRunProvisioner) Provision(ctx context.Context, res Resource) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, engine.NewTransientError("provisioning interrupted", err).
			WithUnit(res.Unit).
			WithOperation("provision")
	}
	if res.Name == "" {
		return Handle{}, fmt.Errorf("%s resource requested by %s has no name", res.Kind, res.Unit)
	}

	h, err := p.handle(res)
	if err != nil {
		return Handle{}, err
	}

	key := string(res.Kind) + "/" + res.Name
	p.mu.Lock()
	owner, claimed := p.claims[key]
	if claimed && owner != res.Unit {
		p.mu.Unlock()
		return Handle{}, engine.NewConflictError(fmt.Sprintf("%s %s is already claimed by unit %s", res.Kind, res.Name, owner), nil).
			WithUnit(res.Unit).
			WithOperation("provision").
			WithDetail("claimed_by", owner)
	}
	p.claims[key] = res.Unit
	p.requested = append(p.requested, res)
	p.mu.Unlock()

	p.loggerFor(ctx, res.Unit).Debug().
		Str("kind", string(res.Kind)).
		Str("name", res.Name).
		Str("id", h.ID).
		Msg("Resource provisioned (dry run)")

	return h, nil
}

// loggerFor prefers the run scoped logger carried by ctx, which already
// holds the run, profile and unit fields.
func (p *DryRunProvisioner) loggerFor(ctx context.Context, unit string) *zerolog.Logger {
	scoped := zerolog.Ctx(ctx).With().Str("component", "dry-run-provisioner").Logger()
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		scoped = p.logger.With().Str("component", "dry-run-provisioner").Str("unit", unit).Logger()
	}
	return &scoped
}

// Requested returns every resource provisioned so far, in request order.
func (p *DryRunProvisioner) Requested() []Resource {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Resource, len(p.requested))
	copy(out, p.requested)
	return out
}

func (p *DryRunProvisioner) handle(res Resource) (Handle, error) {
	id := stableID(res.Kind, res.Name)
	h := Handle{Kind: res.Kind, Name: res.Name, Attributes: map[string]string{}}

	switch res.Kind {
	case KindFunction:
		h.ID = res.Name
		h.ARN = fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", p.region, p.account, res.Name)
	case KindTable:
		h.ID = res.Name
		h.ARN = fmt.Sprintf("arn:aws:dynamodb:%s:%s:table/%s", p.region, p.account, res.Name)
	case KindBucket:
		h.ID = res.Name
		h.ARN = "arn:aws:s3:::" + res.Name
		h.URL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", res.Name, p.region)
	case KindUserPool:
		h.ID = fmt.Sprintf("%s_%s", p.region, alnum(id, 9))
		h.ARN = fmt.Sprintf("arn:aws:cognito-idp:%s:%s:userpool/%s", p.region, p.account, h.ID)
	case KindUserPoolClient:
		h.ID = strings.ToLower(alnum(id, 26))
	case KindUserPoolDomain:
		h.ID = res.Name
		h.URL = fmt.Sprintf("https://%s.auth.%s.amazoncognito.com", res.Name, p.region)
	case KindIdentityPool:
		h.ID = fmt.Sprintf("%s:%s", p.region, id)
	case KindHostedZone:
		h.ID = "Z" + strings.ToUpper(alnum(id, 13))
		h.ARN = "arn:aws:route53:::hostedzone/" + h.ID
	case KindDistribution:
		h.ID = "E" + strings.ToUpper(alnum(id, 13))
		h.ARN = fmt.Sprintf("arn:aws:cloudfront::%s:distribution/%s", p.account, h.ID)
		h.Attributes["domainName"] = fmt.Sprintf("d%s.cloudfront.net", alnum(id, 13))
	case KindPipeline:
		h.ID = res.Name
		h.ARN = fmt.Sprintf("arn:aws:codepipeline:%s:%s:%s", p.region, p.account, res.Name)
	case KindRestAPI:
		h.ID = alnum(id, 10)
		h.ARN = fmt.Sprintf("arn:aws:apigateway:%s::/restapis/%s", p.region, h.ID)
	case KindSecret:
		h.ID = res.Name
		h.ARN = fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s-%s", p.region, p.account, res.Name, alnum(id, 6))
	case KindVPC:
		h.ID = "vpc-" + alnum(id, 17)
		h.ARN = fmt.Sprintf("arn:aws:ec2:%s:%s:vpc/%s", p.region, p.account, h.ID)
	case KindService:
		cluster, _ := res.Properties["cluster"].(string)
		h.ID = res.Name
		h.ARN = fmt.Sprintf("arn:aws:ecs:%s:%s:service/%s/%s", p.region, p.account, cluster, res.Name)
	case KindLoadBalancer:
		h.ID = res.Name
		h.ARN = fmt.Sprintf("arn:aws:elasticloadbalancing:%s:%s:loadbalancer/app/%s/%s", p.region, p.account, res.Name, alnum(id, 16))
		h.Attributes["dnsName"] = fmt.Sprintf("%s-%s.%s.elb.amazonaws.com", res.Name, alnum(id, 9), p.region)
	default:
		return Handle{}, fmt.Errorf("unsupported resource kind %q", res.Kind)
	}

	if u, ok := res.Properties["url"].(string); ok && h.URL == "" {
		h.URL = u
	}
	for k, v := range res.Properties {
		if s, ok := v.(string); ok {
			if _, exists := h.Attributes[k]; !exists {
				h.Attributes[k] = s
			}
		}
	}
	if len(h.Attributes) == 0 {
		h.Attributes = nil
	}

	return h, nil
}

// stableID derives a name-based UUID so identifiers survive reruns.
func stableID(kind Kind, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(kind)+"/"+name)).String()
}

// alnum returns the first n hex digits of a UUID string.
func alnum(id string, n int) string {
	s := strings.ReplaceAll(id, "-", "")
	for len(s) < n {
		s += s
	}
	return s[:n]
}
