// Package config loads strata settings and topology files.
//
// # Settings
//
// Settings name where things get provisioned: project, stage, region, domain,
// source repositories, state path, log level and telemetry export. They are
// resolved with viper from, in increasing precedence, built-in defaults, an
// optional strata.cue file (validated against the #Settings schema),
// STRATA_* environment variables and command-line flags:
//
//	settings, file, err := config.LoadSettings(ctx, config.LoadOptions{Flags: cmd.Flags()})
//
// # Topology files
//
// A topology declares units and profiles without Go code. CUE files are
// unified with the built-in #Topology schema:
//
//	api_version: "1.0.0"
//
//	units: {
//	    net: {
//	        produces: ["vpcId"]
//	        builder:  "static"
//	        outputs: vpcId: "vpc-123"
//	    }
//	    api: {
//	        requires: ["vpcId"]
//	        produces: ["apiUrl"]
//	        builder:  "script"
//	        script: """
//	            outputs = {"apiUrl": "https://" + inputs["vpcId"]}
//	            """
//	    }
//	}
//
//	profiles: full: units: ["net", "api"]
//
// HCL files use unit and profile blocks, and may reference the settings object
// and the upper, lower, format, join and concat functions:
//
//	unit "route53" {
//	  produces = ["hostedZone"]
//	  builder  = "stack"
//	}
//
//	profile "dev" {
//	  units = ["route53"]
//	}
//
// Units declared as a struct take their key as name. Declaration order is kept,
// since the engine breaks ordering ties by registration order.
//
// # Builders
//
// Each unit binds to a builder by kind. A static builder returns its outputs
// map. A script builder runs Starlark with the required capabilities as inputs
// and the settings as settings, and must assign a dict to outputs. A stack
// builder is looked up by name through a StackResolver.
//
// Binder checks api_version against SupportedAPIVersions and registers the
// units and then the profiles with an engine:
//
//	topo, err := config.NewTopologyLoader(settings).Load(ctx, "topology/")
//	binder := config.NewBinder(settings, config.WithStackResolver(catalog.Lookup))
//	err = binder.Bind(eng, topo)
//
// # Errors
//
// Parse and validation problems are collected as ValidationError values with
// file, line and column where known. Topology.Err joins them.
package config
