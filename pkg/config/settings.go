package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zclconf/go-cty/cty"
)

const (
	// EnvPrefix prefixes every environment override, e.g. STRATA_STAGE.
	EnvPrefix = "STRATA"

	// SettingsFileName is the settings file looked up in the working directory.
	SettingsFileName = "strata.cue"
)

// Settings is the ambient configuration shared by builders: where and under
// which names things get provisioned.
type Settings struct {
	Project    string             `json:"project" yaml:"project" mapstructure:"project" validate:"required"`
	Stage      string             `json:"stage" yaml:"stage" mapstructure:"stage" validate:"required"`
	Region     string             `json:"region" yaml:"region" mapstructure:"region" validate:"required"`
	Account    string             `json:"account,omitempty" yaml:"account,omitempty" mapstructure:"account" validate:"omitempty,numeric,len=12"`
	Domain     string             `json:"domain" yaml:"domain" mapstructure:"domain" validate:"required,hostname_rfc1123"`
	Repository RepositorySettings `json:"repository" yaml:"repository" mapstructure:"repository"`
	StatePath  string             `json:"state_path,omitempty" yaml:"state_path,omitempty" mapstructure:"state_path"`
	LogLevel   string             `json:"log_level" yaml:"log_level" mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	Telemetry  TelemetrySettings  `json:"telemetry" yaml:"telemetry" mapstructure:"telemetry"`
}

// RepositorySettings names the source repositories the pipelines build from.
type RepositorySettings struct {
	Owner    string `json:"owner,omitempty" yaml:"owner,omitempty" mapstructure:"owner"`
	Frontend string `json:"frontend,omitempty" yaml:"frontend,omitempty" mapstructure:"frontend"`
	RestAPI  string `json:"restapi,omitempty" yaml:"restapi,omitempty" mapstructure:"restapi"`
	Branch   string `json:"branch" yaml:"branch" mapstructure:"branch" validate:"required"`
}

// TelemetrySettings configures tracing export and the metrics endpoint.
type TelemetrySettings struct {
	ServiceName    string `json:"service_name" yaml:"service_name" mapstructure:"service_name" validate:"required"`
	Exporter       string `json:"exporter" yaml:"exporter" mapstructure:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	MetricsAddress string `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty" mapstructure:"metrics_address"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Project: "foto",
		Stage:   "dev",
		Region:  "us-east-1",
		Domain:  "example.com",
		Repository: RepositorySettings{
			Branch: "main",
		},
		LogLevel: "info",
		Telemetry: TelemetrySettings{
			ServiceName: "strata",
			Exporter:    "none",
			Endpoint:    "localhost:4317",
		},
	}
}

// ResourcePrefix is the "<project>-<stage>" prefix of every provisioned name.
func (s *Settings) ResourcePrefix() string {
	return s.Project + "-" + s.Stage
}

// Validate checks the settings struct tags.
func (s *Settings) Validate() error {
	errs := validateStruct(validator.New(), s)
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return fmt.Errorf("invalid settings: %w", errors.Join(joined...))
}

// Values exposes the settings to scripts as plain values.
func (s *Settings) Values() map[string]any {
	return map[string]any{
		"project":         s.Project,
		"stage":           s.Stage,
		"region":          s.Region,
		"account":         s.Account,
		"domain":          s.Domain,
		"resource_prefix": s.ResourcePrefix(),
		"repository": map[string]any{
			"owner":    s.Repository.Owner,
			"frontend": s.Repository.Frontend,
			"restapi":  s.Repository.RestAPI,
			"branch":   s.Repository.Branch,
		},
	}
}

// ctyValue exposes the settings to HCL expressions as the `settings` object.
func (s *Settings) ctyValue() cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"project":         cty.StringVal(s.Project),
		"stage":           cty.StringVal(s.Stage),
		"region":          cty.StringVal(s.Region),
		"account":         cty.StringVal(s.Account),
		"domain":          cty.StringVal(s.Domain),
		"resource_prefix": cty.StringVal(s.ResourcePrefix()),
		"repository": cty.ObjectVal(map[string]cty.Value{
			"owner":    cty.StringVal(s.Repository.Owner),
			"frontend": cty.StringVal(s.Repository.Frontend),
			"restapi":  cty.StringVal(s.Repository.RestAPI),
			"branch":   cty.StringVal(s.Repository.Branch),
		}),
	})
}

// LoadOptions controls where LoadSettings looks for overrides.
type LoadOptions struct {
	// ConfigFile is an explicit settings file. It must exist when set.
	ConfigFile string

	// Flags are bound on top of every other source when present.
	Flags *pflag.FlagSet
}

// settingsFlags maps viper keys to CLI flag names.
var settingsFlags = map[string]string{
	"project":                   "project",
	"stage":                     "stage",
	"region":                    "region",
	"domain":                    "domain",
	"log_level":                 "log-level",
	"state_path":                "state",
	"telemetry.exporter":        "trace",
	"telemetry.metrics_address": "metrics-addr",
}

// LoadSettings resolves settings from defaults, the CUE settings file,
// STRATA_* environment variables and flags, in increasing precedence.
// It returns the settings and the settings file used, if any.
func LoadSettings(ctx context.Context, opts LoadOptions) (*Settings, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load settings canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setSettingsDefaults(v, DefaultSettings())

	resolvedPath := ""
	switch {
	case opts.ConfigFile != "":
		if !fileExists(opts.ConfigFile) {
			return nil, "", fmt.Errorf("settings file not found: %s", opts.ConfigFile)
		}
		resolvedPath = opts.ConfigFile
	case fileExists(SettingsFileName):
		resolvedPath = SettingsFileName
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", fmt.Errorf("failed to load settings file %s: %w", resolvedPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key, name := range settingsFlags {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, "", fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, "", fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, "", err
	}

	return &s, resolvedPath, nil
}

// setSettingsDefaults registers every key so AutomaticEnv can resolve it.
func setSettingsDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("project", d.Project)
	v.SetDefault("stage", d.Stage)
	v.SetDefault("region", d.Region)
	v.SetDefault("account", d.Account)
	v.SetDefault("domain", d.Domain)
	v.SetDefault("repository.owner", d.Repository.Owner)
	v.SetDefault("repository.frontend", d.Repository.Frontend)
	v.SetDefault("repository.restapi", d.Repository.RestAPI)
	v.SetDefault("repository.branch", d.Repository.Branch)
	v.SetDefault("state_path", d.StatePath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.exporter", d.Telemetry.Exporter)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.metrics_address", d.Telemetry.MetricsAddress)
}

// loadCUEIntoViper validates a CUE settings file against #Settings and merges
// it into v, keeping defaults for anything the file leaves out.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	sr := NewSchemaRegistry()
	userValue := sr.Context().CompileBytes(data, cue.Filename(path))
	if err := userValue.Err(); err != nil {
		return err
	}

	unified, err := sr.Unify(SchemaSettings, "#Settings", userValue)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}

	var settingsMap map[string]any
	if err := unified.Decode(&settingsMap); err != nil {
		return err
	}

	if err := v.MergeConfigMap(settingsMap); err != nil {
		return fmt.Errorf("failed to merge settings: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
