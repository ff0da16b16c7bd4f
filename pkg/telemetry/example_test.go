package telemetry_test

import (
	"context"
	"fmt"

	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/telemetry"
)

// Example_observedRun wires telemetry into an engine and prints the lifecycle events.
func Example_observedRun() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "discard"
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		if event.Unit == "" {
			fmt.Println(event.Type)
			return
		}
		fmt.Println(event.Type, event.Unit)
	}, nil)

	e := engine.New(
		engine.WithLogger(tel.Logger.Zerolog()),
		engine.WithObservers(tel.Observer()),
	)
	_ = e.RegisterUnit(engine.UnitDescriptor{
		Name:     "vpc",
		Produces: []string{"vpcId"},
		Builder: engine.BuilderFunc(func(context.Context, engine.Capabilities) (engine.Capabilities, error) {
			return engine.Capabilities{"vpcId": "vpc-0a1b"}, nil
		}),
	})
	_ = e.RegisterProfile("dev", []string{"vpc"})

	if _, err := e.Run(context.Background(), "dev"); err != nil {
		panic(err)
	}

	// Output:
	// plan.resolved
	// run.started
	// unit.started vpc
	// unit.completed vpc
	// run.completed
}

// Example_eventFiltering demonstrates subscriber filters.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "discard"
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Only warnings and errors
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = tel.Events.PublishRunStarted("run-123", "dev", 3)
	_ = tel.Events.PublishUnitSkipped("run-123", "api", 3)
	_ = tel.Events.PublishRunFailed("run-123", "dev", "unit store failed")

	// Output:
	// Important event: unit.skipped
	// Important event: run.failed
}

// Example_prodStage shows the configuration used for prod builds.
func Example_prodStage() {
	cfg := telemetry.ForStage("prod")
	cfg.ServiceVersion = "1.2.3"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Events.BufferSize = 10000

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("prod configuration validated")
	// Output: prod configuration validated
}
