package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"dev stage", func(c *Config) { *c = *ForStage("dev") }, false},
		{"ste stage", func(c *Config) { *c = *ForStage("ste") }, false},
		{"prod stage", func(c *Config) { *c = *ForStage("prod") }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.SetTraceExporter("jaeger") }, true},
		{"otlp without endpoint", func(c *Config) { c.SetTraceExporter("otlp") }, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"zero event buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestConfig_ValidateReportsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = ""
	cfg.Logging.Level = "loud"
	cfg.Events.BufferSize = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	for _, want := range []string{"service name", "log level", "buffer size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestForStage(t *testing.T) {
	tests := []struct {
		stage    string
		format   string
		exporter string
		sampled  bool
	}{
		{"dev", "console", ExporterNone, false},
		{"feature-x", "console", ExporterNone, false},
		{"ste", "json", ExporterOTLP, false},
		{"prod", "json", ExporterOTLP, true},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			cfg := ForStage(tt.stage)
			if cfg.Stage != tt.stage {
				t.Errorf("Expected stage %s, got %s", tt.stage, cfg.Stage)
			}
			if cfg.Logging.Format != tt.format {
				t.Errorf("Expected %s logs, got %s", tt.format, cfg.Logging.Format)
			}
			if cfg.Tracing.Exporter != tt.exporter {
				t.Errorf("Expected exporter %s, got %s", tt.exporter, cfg.Tracing.Exporter)
			}
			if cfg.Logging.EnableSampling != tt.sampled {
				t.Errorf("Expected log sampling %v, got %v", tt.sampled, cfg.Logging.EnableSampling)
			}
		})
	}
}

func TestConfig_SetTraceExporter(t *testing.T) {
	cfg := DefaultConfig()

	cfg.SetTraceExporter("stdout")
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "stdout" {
		t.Errorf("Expected stdout tracing enabled, got %+v", cfg.Tracing)
	}

	cfg.SetTraceExporter("none")
	if cfg.Tracing.Enabled {
		t.Error("Expected tracing to be disabled for none")
	}
}

func TestEventPublisher_AsyncShutdownDrains(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    64,
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Unit)
	}, FilterByType(EventTypeUnitStarted))

	for _, unit := range []string{"vpc", "dynamodb", "cognito"} {
		if err := ep.PublishUnitStarted("run-1", unit, 1); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}
	_ = ep.PublishRunStarted("run-1", "dev", 3)

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Failed to shut down: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "vpc" || got[2] != "cognito" {
		t.Errorf("Expected the three unit events in publish order, got %v", got)
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{})
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	if err := ep.PublishRunStarted("run-1", "dev", 1); err != nil {
		t.Fatalf("Expected disabled publisher to accept events, got: %v", err)
	}
	if called {
		t.Error("Expected disabled publisher not to deliver events")
	}
}

func TestLogger_ContextCarriesRunFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.log")
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	ctx := logger.Component("engine").WithRunID("run-1").WithProfile("dev").WithUnit("vpc", 1).
		WithContext(context.Background())
	if FromContext(ctx) == nil {
		t.Fatal("Expected logger from context")
	}
	zerolog.Ctx(ctx).Info().Msg("building")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	for _, want := range []string{`"component":"engine"`, `"run_id":"run-1"`, `"profile":"dev"`, `"unit":"vpc"`, `"position":1`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %s in log line, got: %s", want, data)
		}
	}

	if got := FromContext(context.Background()); got == nil {
		t.Fatal("Expected default logger when context carries none")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(LoggingConfig{Level: "loud", Output: "discard"}); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}
