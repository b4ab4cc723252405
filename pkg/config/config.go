// Package config provides configuration loading and management for metareg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"metareg/pkg/registration"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use, 0 for all
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Input describes how images are read
	Input struct {
		// Spacing is the physical sample spacing per axis. Empty means unit spacing.
		Spacing []float64 `yaml:"spacing"`

		// SliceGap is the spacing along the stacking axis when an input is a
		// directory of 2D slices
		SliceGap float64 `yaml:"sliceGap"`
	} `yaml:"input"`

	// Registration parameters
	Registration struct {
		Scale                  float64 `yaml:"scale"`
		RegistrationSmoothness float64 `yaml:"registrationSmoothness"`
		BiasSmoothness         float64 `yaml:"biasSmoothness"`
		Sigma                  float64 `yaml:"sigma"`
		Mu                     float64 `yaml:"mu"`
		Gamma                  float64 `yaml:"gamma"`
		MinLearningRate        float64 `yaml:"minLearningRate"`
		MinImageEnergyFraction float64 `yaml:"minImageEnergyFraction"`
		NumberOfTimeSteps      int     `yaml:"numberOfTimeSteps"`
		NumberOfIterations     int     `yaml:"numberOfIterations"`
		UseJacobian            bool    `yaml:"useJacobian"`
		UseBias                bool    `yaml:"useBias"`

		// IntegrationIterations is the fixed-point count per integration sub-step
		IntegrationIterations int `yaml:"integrationIterations"`
	} `yaml:"registration"`

	// Output parameters
	Output struct {
		// Directory receives the deformed image, bias and displacement
		Directory string `yaml:"directory"`

		// SaveIntermediaryResults saves the deformed image after every accepted step
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose enables per-candidate logging
		Verbose bool `yaml:"verbose"`

		// MetricsAddr serves prometheus metrics when set, e.g. ":9090"
		MetricsAddr string `yaml:"metricsAddr"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Input.SliceGap = 1.0

	p := registration.DefaultParams()
	cfg.Registration.Scale = p.Scale
	cfg.Registration.RegistrationSmoothness = p.RegistrationSmoothness
	cfg.Registration.BiasSmoothness = p.BiasSmoothness
	cfg.Registration.Sigma = p.Sigma
	cfg.Registration.Mu = p.Mu
	cfg.Registration.Gamma = p.Gamma
	cfg.Registration.MinLearningRate = p.MinLearningRate
	cfg.Registration.MinImageEnergyFraction = p.MinImageEnergyFraction
	cfg.Registration.NumberOfTimeSteps = p.NumberOfTimeSteps
	cfg.Registration.NumberOfIterations = p.NumberOfIterations
	cfg.Registration.UseJacobian = p.UseJacobian
	cfg.Registration.UseBias = p.UseBias
	cfg.Registration.IntegrationIterations = p.IntegrationIterations

	cfg.Output.Directory = "registration_output"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = false

	return cfg
}

// RegistrationParams converts the registration section into engine settings
func (c *Config) RegistrationParams() registration.Params {
	r := c.Registration
	return registration.Params{
		Scale:                  r.Scale,
		RegistrationSmoothness: r.RegistrationSmoothness,
		BiasSmoothness:         r.BiasSmoothness,
		Sigma:                  r.Sigma,
		Mu:                     r.Mu,
		Gamma:                  r.Gamma,
		MinLearningRate:        r.MinLearningRate,
		MinImageEnergyFraction: r.MinImageEnergyFraction,
		NumberOfTimeSteps:      r.NumberOfTimeSteps,
		NumberOfIterations:     r.NumberOfIterations,
		UseJacobian:            r.UseJacobian,
		UseBias:                r.UseBias,
		IntegrationIterations:  r.IntegrationIterations,
		NumCores:               c.Processing.NumCores,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	// keys missing from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
