package stacks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/strata-dev/strata/pkg/config"
	"github.com/strata-dev/strata/pkg/engine"
)

// Unit and profile names of the photo-app catalog.
const (
	UnitFotoLambda       = "foto-lambda"
	UnitDynamoDB         = "dynamodb"
	UnitS3FileUpload     = "s3-file-upload"
	UnitCognito          = "cognito"
	UnitRoute53          = "route53"
	UnitCloudfront       = "cloudfront-frontend"
	UnitFrontendPipeline = "frontend-pipeline"
	UnitAPIGateway       = "api-gateway"
	UnitSecrets          = "secrets"
	UnitVPC              = "vpc"
	UnitECSFargate       = "ecs-fargate"
	UnitRestAPIPipeline  = "restapi-pipeline"

	ProfileDev = "dev"
	ProfileSte = "ste"
)

// UnitVersion is the version of every catalog unit definition.
const UnitVersion = "1.0.0"

// Catalog builds the photo-app units from settings. Builders call the
// configured Provisioner; the engine never sees the settings.
type Catalog struct {
	settings    *config.Settings
	provisioner Provisioner
	logger      zerolog.Logger
	units       []unitDef
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithProvisioner replaces the dry-run provisioner.
func WithProvisioner(p Provisioner) Option {
	return func(c *Catalog) {
		c.provisioner = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// NewCatalog creates the catalog. Without WithProvisioner, resources are
// provisioned by a DryRunProvisioner.
func NewCatalog(settings *config.Settings, opts ...Option) *Catalog {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	c := &Catalog{
		settings: settings,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.provisioner == nil {
		c.provisioner = NewDryRunProvisioner(settings, c.logger)
	}
	c.units = c.definitions()
	return c
}

// unitDef is one catalog entry.
type unitDef struct {
	name        string
	stack       string
	description string
	requires    []string
	produces    []string
	build       func(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error)
}

// Units returns the unit descriptors in registration order.
func (c *Catalog) Units() []engine.UnitDescriptor {
	out := make([]engine.UnitDescriptor, len(c.units))
	for i, u := range c.units {
		out[i] = c.descriptor(u)
	}
	return out
}

func (c *Catalog) descriptor(u unitDef) engine.UnitDescriptor {
	return engine.UnitDescriptor{
		Name:        u.name,
		Description: u.description,
		Version:     UnitVersion,
		Requires:    append([]string(nil), u.requires...),
		Produces:    append([]string(nil), u.produces...),
		Labels: map[string]string{
			"stack":   c.settings.ResourcePrefix() + "-" + u.stack,
			"project": c.settings.Project,
			"stage":   c.settings.Stage,
		},
		Builder: engine.BuilderFunc(u.build),
	}
}

// Profiles returns the dev and ste profiles. dev deploys the serverless
// stacks; ste adds the container REST API.
func (c *Catalog) Profiles() []engine.Profile {
	dev := []string{
		UnitFotoLambda, UnitDynamoDB, UnitS3FileUpload, UnitCognito, UnitRoute53,
		UnitCloudfront, UnitFrontendPipeline, UnitAPIGateway, UnitSecrets,
	}
	ste := append(append([]string(nil), dev...), UnitVPC, UnitECSFargate, UnitRestAPIPipeline)

	return []engine.Profile{
		{Name: ProfileDev, Description: "Serverless photo app: lambdas, storage, auth, frontend and API", Units: dev},
		{Name: ProfileSte, Description: "Serverless photo app plus the containerized REST API", Units: ste},
	}
}

// Register adds every unit and both profiles to the engine.
func (c *Catalog) Register(e *engine.Engine) error {
	for _, d := range c.Units() {
		if err := e.RegisterUnit(d); err != nil {
			return fmt.Errorf("failed to register unit %s: %w", d.Name, err)
		}
	}
	for _, p := range c.Profiles() {
		if err := e.AddProfile(p); err != nil {
			return fmt.Errorf("failed to register profile %s: %w", p.Name, err)
		}
	}

	c.logger.Debug().
		Int("units", len(c.units)).
		Str("prefix", c.settings.ResourcePrefix()).
		Msg("Photo-app catalog registered")

	return nil
}

// Lookup returns the builder of a catalog unit. It satisfies
// config.StackResolver so topology files can bind stack units.
func (c *Catalog) Lookup(name string) (engine.Builder, bool) {
	for _, u := range c.units {
		if u.name == name {
			return engine.BuilderFunc(u.build), true
		}
	}
	return nil, false
}

var _ config.StackResolver = (*Catalog)(nil).Lookup

// provision issues one resource request on behalf of a unit.
func (c *Catalog) provision(ctx context.Context, unit string, kind Kind, name string, props map[string]any, refs ...Handle) (Handle, error) {
	h, err := c.provisioner.Provision(ctx, Resource{
		Unit:       unit,
		Kind:       kind,
		Name:       name,
		Properties: props,
		References: refs,
	})
	if err != nil {
		return Handle{}, fmt.Errorf("failed to provision %s %s: %w", kind, name, err)
	}
	return h, nil
}
