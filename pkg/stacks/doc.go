// Package stacks is the photo-app unit catalog.
//
// The catalog declares twelve units (lambda functions, DynamoDB tables, the
// upload bucket, Cognito, Route 53, the CloudFront frontend and its pipeline,
// API Gateway, the integration secret, and the containerized REST API with its
// VPC and pipeline) and two profiles:
//
//	dev  serverless stacks only
//	ste  dev plus vpc, ecs-fargate and restapi-pipeline
//
// Builders exchange Handle values as capabilities. Resources are requested
// through a Provisioner; the default DryRunProvisioner derives stable
// identifiers from the settings so plans and outputs can be inspected without
// touching a cloud account.
//
//	catalog := stacks.NewCatalog(settings)
//	e := engine.New()
//	if err := catalog.Register(e); err != nil {
//		return err
//	}
//	run, err := e.Run(ctx, stacks.ProfileDev)
//
// Topology files bind catalog builders with builder = "stack" when the binder
// is created with config.WithStackResolver(catalog.Lookup).
package stacks
