// Package config provides configuration loading and management for
// radextract. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Atlas parameters
	Atlas struct {
		// Dir is the atlas root directory containing <version>Atlas trees.
		Dir string `yaml:"dir"`

		// Version selects the atlas release, e.g. "4wk" or "12wk".
		Version string `yaml:"version"`
	} `yaml:"atlas"`

	// Extraction parameters
	Extraction struct {
		// Metrics are the diffusion metric types to extract per session.
		Metrics []string `yaml:"metrics"`
	} `yaml:"extraction"`

	// QC overlay parameters
	QC struct {
		// Enabled toggles QC montage rendering.
		Enabled bool `yaml:"enabled"`

		// ROICandidates is the ordered list of ROI names tried for the
		// overlay target; the first one present in the atlas is used.
		ROICandidates []string `yaml:"roiCandidates"`

		// TPMSubstrings selects the overlay probability map: the first TPM
		// (in atlas load order) whose name contains any of these
		// case-insensitive substrings is used.
		TPMSubstrings []string `yaml:"tpmSubstrings"`
	} `yaml:"qc"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values. The QC
// selectors reproduce the conventional targets (corpus callosum over a
// white-matter probability map) but remain caller-overridable.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Atlas.Dir = "atlas"
	cfg.Atlas.Version = "4wk"

	cfg.Extraction.Metrics = []string{"FA", "MD", "AD", "RD"}

	cfg.QC.Enabled = true
	cfg.QC.ROICandidates = []string{"Corpus_Callosum"}
	cfg.QC.TPMSubstrings = []string{"white", "wm"}

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
