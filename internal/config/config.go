// Package config loads the optional YAML configuration file. Every value
// has a working default; command-line flags override file values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trafficlab/flowdiag/internal/extract"
	"github.com/trafficlab/flowdiag/internal/matching"
)

type ExtractConfig struct {
	Delimiter    string   `yaml:"delimiter"`     // single character, default `"`
	TimeField    int      `yaml:"time_field"`    // 1-based positions
	TypeField    int      `yaml:"type_field"`    //
	LinkField    int      `yaml:"link_field"`    //
	VehicleField int      `yaml:"vehicle_field"` //
	EventTypes   []string `yaml:"event_types"`   // allow-list, default entered/left link
	Filter       string   `yaml:"filter"`        // EVQL expression
}

type CountsConfig struct {
	Interval   float64  `yaml:"interval"`    // bucket width in seconds
	Bins       int      `yaml:"bins"`        // alternative: fixed bucket count
	Origin     float64  `yaml:"origin"`      // bucket origin, default 0
	EventTypes []string `yaml:"event_types"` // types counted, default entered link
}

type AnalysisConfig struct {
	Name      string   `yaml:"name"`       // comparison | summary | emd
	DependsOn string   `yaml:"depends_on"` // slug of an earlier analysis
	Metrics   []string `yaml:"metrics"`
	Stats     []string `yaml:"stats"`
}

type ReportConfig struct {
	Title    string           `yaml:"title"`
	Analyses []AnalysisConfig `yaml:"analyses"`
}

type MatchConfig struct {
	Detectors matching.DetectorColumns `yaml:"detector_columns"`
}

type Config struct {
	Extract ExtractConfig `yaml:"extract"`
	Counts  CountsConfig  `yaml:"counts"`
	Report  ReportConfig  `yaml:"report"`
	Match   MatchConfig   `yaml:"match"`
}

// Load reads path, or returns the zero config when path is empty.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if len(c.Extract.Delimiter) > 1 {
		return Config{}, fmt.Errorf("config: delimiter must be a single character, got %q", c.Extract.Delimiter)
	}
	return c, nil
}

// Schema folds the configured field layout over the defaults.
func (c ExtractConfig) Schema() extract.Schema {
	s := extract.DefaultSchema()
	if c.Delimiter != "" {
		s.Delimiter = c.Delimiter[0]
	}
	if c.TimeField > 0 {
		s.TimeField = c.TimeField
	}
	if c.TypeField > 0 {
		s.TypeField = c.TypeField
	}
	if c.LinkField > 0 {
		s.LinkField = c.LinkField
	}
	if c.VehicleField > 0 {
		s.VehicleField = c.VehicleField
	}
	return s
}

// Allow returns the configured allow-list, or the default when none is set.
func (c ExtractConfig) Allow() []string {
	if len(c.EventTypes) > 0 {
		return c.EventTypes
	}
	return extract.DefaultAllow
}
