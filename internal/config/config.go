package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PipelineConfig contains defaults for panel construction runs
type PipelineConfig struct {
	// Workers is the size of the per-subject worker pool. 0 means GOMAXPROCS.
	Workers int `yaml:"workers" envconfig:"WORKERS" validate:"gte=0"`
	// PersonTimeTolerance is the allowed deviation, in days, between a
	// subject's output person-time and exit-entry before a warning is raised.
	PersonTimeTolerance int `yaml:"person_time_tolerance" envconfig:"PERSON_TIME_TOLERANCE" validate:"gte=0"`
	// DaysPerYear sets the day-count convention for unit conversion.
	DaysPerYear float64 `yaml:"days_per_year" envconfig:"DAYS_PER_YEAR" validate:"gt=0"`
	// Strict escalates integrity findings from warnings to fatal errors.
	Strict bool `yaml:"strict" envconfig:"STRICT"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"ENABLED"`
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`
}

// Default returns the built-in configuration used when no file or
// environment is available.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/tvtools.log",
		},
		Pipeline: PipelineConfig{
			DaysPerYear: 365.25,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tvtools",
		},
	}
}

// Load loads configuration from environment variables and an optional
// YAML file. Environment variables take precedence over file values.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom loads configuration using the given YAML file path. A missing
// file is not an error; defaults and environment variables apply.
func LoadFrom(path string) (*Config, error) {
	cfg := *Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment overrides file values; unset variables leave the
	// defaults and file values in place
	if err := envconfig.Process("TV", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid value for %s (constraint %s)", first.Namespace(), first.Tag())
		}
		return err
	}
	return nil
}

// configFilePath returns the config file location, overridable via
// TV_CONFIG_FILE.
func configFilePath() string {
	if path := os.Getenv("TV_CONFIG_FILE"); path != "" {
		return path
	}
	return "tvtools.yaml"
}
