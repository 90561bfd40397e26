// Package config loads and validates the shipper configuration file,
// producing the options struct the engine consumes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/piwi3910/shipper/pkg/engine"
	"github.com/piwi3910/shipper/pkg/telemetry"
	"github.com/piwi3910/shipper/pkg/types"
)

// DefaultFileName is the config file searched for in the workspace
// root.
const DefaultFileName = "shipper.yaml"

// Config is the file representation of shipper settings. Every section
// is optional; absent values fall back to engine defaults.
type Config struct {
	Registry struct {
		Name      string `yaml:"name"`
		APIBase   string `yaml:"api_base" validate:"omitempty,url"`
		IndexBase string `yaml:"index_base" validate:"omitempty,url"`
	} `yaml:"registry"`

	StateDir    string `yaml:"state_dir"`
	OutputLines int    `yaml:"output_lines" validate:"gte=0"`

	Policy     string `yaml:"policy" validate:"omitempty,oneof=safe balanced fast"`
	VerifyMode string `yaml:"verify_mode" validate:"omitempty,oneof=workspace package none"`

	LockStaleAfter types.Duration `yaml:"lock_stale_after"`

	Retry     *types.RetryConfig     `yaml:"retry"`
	Readiness *types.ReadinessConfig `yaml:"readiness"`
	Parallel  *types.ParallelConfig  `yaml:"parallel"`
	Webhook   *types.WebhookConfig   `yaml:"webhook"`

	Logging *telemetry.LoggingConfig `yaml:"logging"`
	Tracing *telemetry.TracingConfig `yaml:"tracing"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Load reads and validates a config file. A missing file yields the
// zero config, which resolves to pure defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

// RegistryOrDefault resolves the configured registry, defaulting to
// crates.io.
func (c *Config) RegistryOrDefault() types.Registry {
	reg := types.CratesIO()
	if c.Registry.Name != "" {
		reg.Name = c.Registry.Name
	}
	if c.Registry.APIBase != "" {
		reg.APIBase = c.Registry.APIBase
		reg.IndexBase = ""
	}
	if c.Registry.IndexBase != "" {
		reg.IndexBase = c.Registry.IndexBase
	}
	return reg
}

// Options folds the file config over engine defaults.
func (c *Config) Options() engine.Options {
	opts := engine.DefaultOptions()

	if c.StateDir != "" {
		opts.StateDir = c.StateDir
	}
	if c.OutputLines > 0 {
		opts.OutputLines = c.OutputLines
	}
	if c.Policy != "" {
		opts.Policy = types.PublishPolicy(c.Policy)
	}
	if c.VerifyMode != "" {
		opts.VerifyMode = types.VerifyMode(c.VerifyMode)
	}
	if d := time.Duration(c.LockStaleAfter); d > 0 {
		opts.LockStaleAfter = d
	}
	if c.Retry != nil {
		opts.Retry = *c.Retry
	}
	if c.Readiness != nil {
		opts.Readiness = *c.Readiness
	}
	if c.Parallel != nil {
		opts.Parallel = *c.Parallel
	}
	if c.Webhook != nil {
		opts.Webhook = *c.Webhook
	}
	return opts
}

// LoggingOrDefault resolves the logging section.
func (c *Config) LoggingOrDefault() telemetry.LoggingConfig {
	if c.Logging != nil {
		return *c.Logging
	}
	return telemetry.DefaultLoggingConfig()
}

// TracingOrDefault resolves the tracing section.
func (c *Config) TracingOrDefault() telemetry.TracingConfig {
	if c.Tracing != nil {
		return *c.Tracing
	}
	return telemetry.TracingConfig{}
}
