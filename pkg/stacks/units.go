package stacks

import (
	"context"
	"fmt"
	"strings"

	"github.com/strata-dev/strata/pkg/engine"
)

// Capabilities exchanged between catalog units.
const (
	CapGetSecretValueFn      = "getSecretValueFn"
	CapPutItemProfileFn      = "putItemProfileFn"
	CapGetItemProfileFn      = "getItemProfileFn"
	CapPutItemFotoLabelFn    = "putItemFotoLabelFn"
	CapGetItemFotoLabelFn    = "getItemFotoLabelFn"
	CapDeleteItemFotoLabelFn = "deleteItemFotoLabelFn"
	CapCreateThumbnailsFn    = "createThumbnailsFn"
	CapProfileTable          = "profileTable"
	CapFotoTable             = "fotoTable"
	CapFileUploadBucket      = "fileUploadBucket"
	CapUserPool              = "userPool"
	CapUserPoolClient        = "userPoolClient"
	CapUserPoolDomain        = "userPoolDomain"
	CapIdentityPool          = "identityPool"
	CapHostedZone            = "hostedZone"
	CapStaticWebsiteBucket   = "staticWebsiteBucket"
	CapDistribution          = "distribution"
	CapFrontendPipeline      = "frontendPipeline"
	CapAPIURL                = "apiUrl"
	CapAppSecret             = "appSecret"
	CapVPC                   = "vpc"
	CapFargateService        = "fargateService"
	CapLoadBalancer          = "loadBalancer"
	CapRestAPIPipeline       = "restapiPipeline"
)

// lambdaFunctions maps function capabilities to their function suffix.
var lambdaFunctions = []struct {
	capability string
	function   string
}{
	{CapGetSecretValueFn, "getSecretValueCommand"},
	{CapPutItemProfileFn, "putItemProfile"},
	{CapGetItemProfileFn, "getItemProfile"},
	{CapPutItemFotoLabelFn, "putItemFotoLabel"},
	{CapGetItemFotoLabelFn, "getItemFotoLabel"},
	{CapDeleteItemFotoLabelFn, "deleteItemFotoLabel"},
	{CapCreateThumbnailsFn, "createThumbnails"},
}

// apiFunctions are the functions routed by the API gateway.
var apiFunctions = []string{
	CapGetSecretValueFn,
	CapPutItemProfileFn,
	CapGetItemProfileFn,
	CapPutItemFotoLabelFn,
	CapGetItemFotoLabelFn,
	CapDeleteItemFotoLabelFn,
}

// cognitoCapabilities are the four handles produced by the cognito unit.
var cognitoCapabilities = []string{CapUserPool, CapUserPoolClient, CapUserPoolDomain, CapIdentityPool}

func (c *Catalog) definitions() []unitDef {
	var lambdaCaps []string
	for _, fn := range lambdaFunctions {
		lambdaCaps = append(lambdaCaps, fn.capability)
	}

	return []unitDef{
		{
			name:        UnitFotoLambda,
			stack:       "LambdaStack",
			description: "Lambda functions for secrets, profiles, foto labels and thumbnails",
			produces:    lambdaCaps,
			build:       c.buildFotoLambda,
		},
		{
			name:        UnitDynamoDB,
			stack:       "DynamodbStack",
			description: "Profile and foto DynamoDB tables",
			produces:    []string{CapProfileTable, CapFotoTable},
			build:       c.buildDynamoDB,
		},
		{
			name:        UnitS3FileUpload,
			stack:       "S3FileUploadStack",
			description: "Upload bucket triggering thumbnail creation",
			requires:    []string{CapCreateThumbnailsFn},
			produces:    []string{CapFileUploadBucket},
			build:       c.buildS3FileUpload,
		},
		{
			name:        UnitCognito,
			stack:       "CognitoStack",
			description: "User pool, app client, hosted domain and identity pool",
			requires:    []string{CapFileUploadBucket},
			produces:    cognitoCapabilities,
			build:       c.buildCognito,
		},
		{
			name:        UnitRoute53,
			stack:       "Route53Stack",
			description: "Hosted zone lookup for the root domain",
			produces:    []string{CapHostedZone},
			build:       c.buildRoute53,
		},
		{
			name:        UnitCloudfront,
			stack:       "CloudfrontFrontendStack",
			description: "Static website bucket behind a CloudFront distribution",
			requires:    []string{CapHostedZone},
			produces:    []string{CapStaticWebsiteBucket, CapDistribution},
			build:       c.buildCloudfront,
		},
		{
			name:        UnitFrontendPipeline,
			stack:       "CodePipelineFrontendStack",
			description: "Build and deploy pipeline for the frontend",
			requires:    []string{CapStaticWebsiteBucket},
			produces:    []string{CapFrontendPipeline},
			build:       c.buildFrontendPipeline,
		},
		{
			name:        UnitAPIGateway,
			stack:       "ApiGatewayStack",
			description: "REST API routing to the lambda functions behind a Cognito authorizer",
			requires:    append(append([]string{CapHostedZone}, apiFunctions...), CapUserPool, CapUserPoolClient, CapUserPoolDomain),
			produces:    []string{CapAPIURL},
			build:       c.buildAPIGateway,
		},
		{
			name:        UnitSecrets,
			stack:       "SecretStack",
			description: "Frontend and backend integration secret",
			requires:    append(append([]string(nil), cognitoCapabilities...), CapFileUploadBucket, CapProfileTable, CapFotoTable),
			produces:    []string{CapAppSecret},
			build:       c.buildSecrets,
		},
		{
			name:        UnitVPC,
			stack:       "VpcStack",
			description: "Two-AZ VPC with public, private and isolated subnets",
			produces:    []string{CapVPC},
			build:       c.buildVPC,
		},
		{
			name:        UnitECSFargate,
			stack:       "EcsFargateStack",
			description: "Fargate REST API service behind a public load balancer",
			requires:    []string{CapVPC, CapHostedZone},
			produces:    []string{CapFargateService, CapLoadBalancer},
			build:       c.buildECSFargate,
		},
		{
			name:        UnitRestAPIPipeline,
			stack:       "CodePipelineRestapiStack",
			description: "Build and deploy pipeline for the REST API container",
			requires:    []string{CapFargateService},
			produces:    []string{CapRestAPIPipeline},
			build:       c.buildRestAPIPipeline,
		},
	}
}

func (c *Catalog) buildFotoLambda(ctx context.Context, _ engine.Capabilities) (engine.Capabilities, error) {
	out := engine.Capabilities{}
	for _, fn := range lambdaFunctions {
		h, err := c.provision(ctx, UnitFotoLambda, KindFunction, c.settings.Project+"-"+fn.function, map[string]any{
			"runtime": "nodejs18.x",
			"handler": fn.function + ".handler",
		})
		if err != nil {
			return nil, err
		}
		out[fn.capability] = h
	}
	return out, nil
}

func (c *Catalog) buildDynamoDB(ctx context.Context, _ engine.Capabilities) (engine.Capabilities, error) {
	profile, err := c.provision(ctx, UnitDynamoDB, KindTable, c.settings.Project+"-profile-table", map[string]any{
		"partitionKey": "id",
	})
	if err != nil {
		return nil, err
	}
	foto, err := c.provision(ctx, UnitDynamoDB, KindTable, c.settings.Project+"-foto-table", map[string]any{
		"partitionKey": "id",
		"sortKey":      "label",
	})
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapProfileTable: profile, CapFotoTable: foto}, nil
}

func (c *Catalog) buildS3FileUpload(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	thumbnails, err := handleOf(in, CapCreateThumbnailsFn)
	if err != nil {
		return nil, err
	}
	bucket, err := c.provision(ctx, UnitS3FileUpload, KindBucket, c.settings.Project+"-upload-bucket", map[string]any{
		"notification": thumbnails.ARN,
	}, thumbnails)
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapFileUploadBucket: bucket}, nil
}

func (c *Catalog) buildCognito(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	bucket, err := handleOf(in, CapFileUploadBucket)
	if err != nil {
		return nil, err
	}
	project := c.settings.Project

	pool, err := c.provision(ctx, UnitCognito, KindUserPool, c.settings.ResourcePrefix(), map[string]any{
		"signInAlias": "email",
	})
	if err != nil {
		return nil, err
	}
	client, err := c.provision(ctx, UnitCognito, KindUserPoolClient, project+"-webApp", nil, pool)
	if err != nil {
		return nil, err
	}
	domain, err := c.provision(ctx, UnitCognito, KindUserPoolDomain, strings.ToLower(project), nil, pool)
	if err != nil {
		return nil, err
	}
	identity, err := c.provision(ctx, UnitCognito, KindIdentityPool, project+"-cognito-provider", map[string]any{
		"authenticatedBucket": bucket.Name,
	}, pool, client, bucket)
	if err != nil {
		return nil, err
	}

	return engine.Capabilities{
		CapUserPool:       pool,
		CapUserPoolClient: client,
		CapUserPoolDomain: domain,
		CapIdentityPool:   identity,
	}, nil
}

func (c *Catalog) buildRoute53(ctx context.Context, _ engine.Capabilities) (engine.Capabilities, error) {
	zone, err := c.provision(ctx, UnitRoute53, KindHostedZone, c.settings.Domain, map[string]any{
		"lookup": "true",
	})
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapHostedZone: zone}, nil
}

func (c *Catalog) buildCloudfront(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	zone, err := handleOf(in, CapHostedZone)
	if err != nil {
		return nil, err
	}
	bucket, err := c.provision(ctx, UnitCloudfront, KindBucket, c.settings.ResourcePrefix()+"-static-website", map[string]any{
		"websiteIndexDocument": "index.html",
	})
	if err != nil {
		return nil, err
	}
	dist, err := c.provision(ctx, UnitCloudfront, KindDistribution, c.settings.Project+"-FrontendDistribution", map[string]any{
		"alias": c.settings.Domain,
		"url":   "https://" + c.settings.Domain,
	}, bucket, zone)
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapStaticWebsiteBucket: bucket, CapDistribution: dist}, nil
}

// pipelineProps describes the GitHub source of a pipeline.
func (c *Catalog) pipelineProps(repo, artifactBucket string) map[string]any {
	return map[string]any{
		"owner":          c.settings.Repository.Owner,
		"repository":     repo,
		"branch":         c.settings.Repository.Branch,
		"artifactBucket": artifactBucket,
	}
}

func (c *Catalog) buildFrontendPipeline(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	bucket, err := handleOf(in, CapStaticWebsiteBucket)
	if err != nil {
		return nil, err
	}
	project, stage := c.settings.Project, c.settings.Stage
	artifacts := fmt.Sprintf("codepipeline-%s-%s", strings.ToLower(project), stage)

	pipeline, err := c.provision(ctx, UnitFrontendPipeline, KindPipeline, fmt.Sprintf("%s-frontend-%s", project, stage),
		c.pipelineProps(c.settings.Repository.Frontend, artifacts), bucket)
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapFrontendPipeline: pipeline}, nil
}

func (c *Catalog) buildAPIGateway(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	zone, err := handleOf(in, CapHostedZone)
	if err != nil {
		return nil, err
	}
	functions, err := handlesOf(in, apiFunctions...)
	if err != nil {
		return nil, err
	}
	cognito, err := handlesOf(in, CapUserPool, CapUserPoolClient, CapUserPoolDomain)
	if err != nil {
		return nil, err
	}

	host := fmt.Sprintf("%s.%s", c.settings.Project, c.settings.Domain)
	refs := append(append([]Handle{zone}, functions...), cognito...)
	api, err := c.provision(ctx, UnitAPIGateway, KindRestAPI, "foto", map[string]any{
		"stage":      c.settings.Stage,
		"domainName": host,
		"authorizer": c.settings.Project + "-authorizer",
		"url":        "https://" + host,
	}, refs...)
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapAPIURL: api.URL}, nil
}

func (c *Catalog) buildSecrets(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	refs, err := handlesOf(in, append(append([]string(nil), cognitoCapabilities...), CapFileUploadBucket, CapProfileTable, CapFotoTable)...)
	if err != nil {
		return nil, err
	}

	doc, err := NewSecretConfig(c.settings, in)
	if err != nil {
		return nil, err
	}
	encoded, err := doc.JSON()
	if err != nil {
		return nil, err
	}

	secret, err := c.provision(ctx, UnitSecrets, KindSecret, c.settings.ResourcePrefix()+"-secret", map[string]any{
		"description": c.settings.Project + "-secret for frontend and backend integration",
		SecretKey:     string(encoded),
	}, refs...)
	if err != nil {
		return nil, err
	}
	if secret.Attributes[SecretKey] == "" {
		attrs := map[string]string{SecretKey: string(encoded)}
		for k, v := range secret.Attributes {
			attrs[k] = v
		}
		secret.Attributes = attrs
	}
	return engine.Capabilities{CapAppSecret: secret}, nil
}

func (c *Catalog) buildVPC(ctx context.Context, _ engine.Capabilities) (engine.Capabilities, error) {
	vpc, err := c.provision(ctx, UnitVPC, KindVPC, c.settings.ResourcePrefix()+"-vpc", map[string]any{
		"cidr":    "10.0.0.0/16",
		"maxAzs":  "2",
		"subnets": "public,private,isolated",
	})
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapVPC: vpc}, nil
}

func (c *Catalog) buildECSFargate(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	refs, err := handlesOf(in, CapVPC, CapHostedZone)
	if err != nil {
		return nil, err
	}
	project := c.settings.Project

	lb, err := c.provision(ctx, UnitECSFargate, KindLoadBalancer, project+"-public-alb", map[string]any{
		"recordName": "alb." + c.settings.Domain,
		"url":        "https://alb." + c.settings.Domain,
	}, refs...)
	if err != nil {
		return nil, err
	}
	service, err := c.provision(ctx, UnitECSFargate, KindService, project+"-restapi-service", map[string]any{
		"cluster":      project + "-cluster",
		"cpu":          "512",
		"memoryMiB":    "1024",
		"desiredCount": "2",
	}, refs[0], lb)
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapFargateService: service, CapLoadBalancer: lb}, nil
}

func (c *Catalog) buildRestAPIPipeline(ctx context.Context, in engine.Capabilities) (engine.Capabilities, error) {
	service, err := handleOf(in, CapFargateService)
	if err != nil {
		return nil, err
	}
	project, stage := c.settings.Project, c.settings.Stage
	artifacts := fmt.Sprintf("codepipeline-%s-ecs-task-%s", strings.ToLower(project), stage)

	pipeline, err := c.provision(ctx, UnitRestAPIPipeline, KindPipeline, fmt.Sprintf("%s-ecs-%s", project, stage),
		c.pipelineProps(c.settings.Repository.RestAPI, artifacts), service)
	if err != nil {
		return nil, err
	}
	return engine.Capabilities{CapRestAPIPipeline: pipeline}, nil
}
