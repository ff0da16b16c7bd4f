// Package telemetry provides observability for strata runs.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing, and exposes them
// to the engine through Observer, an engine.Observer implementation.
//
// # Usage
//
// Initialize telemetry at application startup and hand its observer to the engine:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//	cfg.SetTraceExporter("otlp")
//	cfg.Tracing.Endpoint = "otel-collector:4317"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	eng := engine.New(
//	    engine.WithLogger(tel.Logger.Zerolog()),
//	    engine.WithObservers(tel.Observer()),
//	)
//
// # Spans
//
// Every run gets a "run.execute" span. Each unit build is a "unit.build" child
// span carrying the unit name and plan position. The unit span is in the
// context handed to the builder, so provisioning code can nest its own spans.
//
// Supported exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics live in a private Prometheus registry and are served at
// MetricsConfig.Path when a listen address is configured:
//
//	strata_runs_started_total{profile}
//	strata_runs_total{profile,status}
//	strata_run_duration_seconds{profile,status}
//	strata_unit_builds_total{unit,status}
//	strata_unit_build_duration_seconds{unit}
//	strata_plans_resolved_total{profile,outcome}
//	strata_structural_errors_total{code}
//	strata_errors_by_class_total{class}
//	strata_registry_capabilities{profile}
//	strata_active_runs
//
// # Events
//
// Plan, run, and unit lifecycle events are published to subscribers, which are
// called in publish order. The run store subscribes to persist them:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Always shut down telemetry to flush buffered events and pending spans.
package telemetry
