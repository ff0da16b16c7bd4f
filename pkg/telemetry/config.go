package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Exporters accepted by TracingConfig.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

var (
	logLevels   = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats  = []string{"console", "json"}
	exporters   = []string{ExporterNone, ExporterStdout, ExporterOTLP}
	liveStages  = []string{"ste", "prod"}
	unitBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}
)

// Config describes how a strata process reports what it builds.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName    string
	ServiceVersion string

	// Stage is the deployment stage the process builds for (dev, ste, prod).
	Stage string

	// Attributes are attached to every exported span resource,
	// typically project and region.
	Attributes map[string]string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string
	Format string
	// Output is stdout, stderr, discard or a file path.
	Output       string
	EnableCaller bool
	TimeFormat   string

	// Sampling only matters for long unit builders that log per resource.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int
}

// TracingConfig configures run and unit spans.
type TracingConfig struct {
	Enabled            bool
	Exporter           string
	Endpoint           string
	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the prometheus collectors.
type MetricsConfig struct {
	Enabled bool
	// ListenAddress serves Path when set. Metrics are collected either way.
	ListenAddress string
	Path          string
	Namespace     string
	// DefaultHistogramBuckets are unit build latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	Enabled       bool
	BufferSize    int
	FlushInterval time.Duration
	MaxBatchSize  int
	EnableAsync   bool
}

// DefaultConfig returns the configuration used for local dev runs: console
// logs, metrics collected but not served, no tracing.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "strata",
		ServiceVersion: "dev",
		Stage:          "dev",
		Attributes:     map[string]string{},
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			EnableCaller:       true,
			TimeFormat:         "rfc3339",
			SamplingInitial:    100,
			SamplingThereafter: 100,
		},
		Tracing: TracingConfig{
			Exporter:           ExporterNone,
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			Path:                    "/metrics",
			Namespace:               "strata",
			DefaultHistogramBuckets: slices.Clone(unitBuckets),
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// ForStage returns DefaultConfig tuned for stage. Shared stages (ste, prod)
// log JSON without caller info and export traces over OTLP to a local
// collector. Every other stage keeps the dev defaults at debug level.
func ForStage(stage string) *Config {
	cfg := DefaultConfig()
	cfg.Stage = stage

	if !slices.Contains(liveStages, stage) {
		cfg.Logging.Level = "debug"
		return cfg
	}

	cfg.Logging.Format = "json"
	cfg.Logging.EnableCaller = false
	cfg.Logging.TimeFormat = "unixms"
	cfg.SetTraceExporter(ExporterOTLP)
	cfg.Tracing.Endpoint = "localhost:4317"
	if stage == "prod" {
		cfg.Logging.EnableSampling = true
		cfg.Tracing.SamplingRate = 0.25
		cfg.Tracing.Insecure = false
	}
	return cfg
}

// SetTraceExporter selects a trace exporter by name. "none" disables tracing.
func (c *Config) SetTraceExporter(name string) {
	c.Tracing.Exporter = name
	c.Tracing.Enabled = name != "" && name != ExporterNone
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch {
		case !slices.Contains(exporters, c.Tracing.Exporter):
			errs = append(errs, fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter))
		case c.Tracing.Exporter == ExporterOTLP && c.Tracing.Endpoint == "":
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate))
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		errs = append(errs, errors.New("metrics path is required when metrics are enabled"))
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize))
	}

	return errors.Join(errs...)
}

// resource returns the span resource identity for c.
func (c *Config) resource() ResourceInfo {
	return ResourceInfo{
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Stage:          c.Stage,
		Attributes:     c.Attributes,
	}
}
