package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/kpi"
	"github.com/gkobilansky/funnel-goat/internal/sequence"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

// JoinConfig holds the join mode used when each KPI merges in the assignment table.
type JoinConfig struct {
	Completion string `yaml:"completion"`
	DwellTime  string `yaml:"dwell_time"`
	ErrorRate  string `yaml:"error_rate"`
}

// AnalysisConfig describes the input tables and how KPIs are computed from them.
type AnalysisConfig struct {
	Events      events.Columns    `yaml:"events"`
	Arms        variation.Columns `yaml:"arms"`
	StepOrder   map[string]int    `yaml:"step_order"`
	ConfirmStep string            `yaml:"confirm_step"`
	Join        JoinConfig        `yaml:"join"`
	// Ordering is "time" or "row" for the error rate; time falls back to row order
	// when the event log has no timestamp column.
	Ordering string `yaml:"ordering"`
}

// Config represents funnel-goat configuration options
type Config struct {
	// DBPath is the import database
	DBPath string `yaml:"db_path" env:"FG_DB_PATH"`

	// Port is the API server port
	Port int `yaml:"port" env:"FG_PORT"`

	// LogLevel sets the logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" env:"FG_LOG_LEVEL"`

	// LogFormat is console or json
	LogFormat string `yaml:"log_format" env:"FG_LOG_FORMAT"`

	// Separator is the CSV field separator used when loading tables
	Separator string `yaml:"separator" env:"FG_SEP"`

	Analysis AnalysisConfig `yaml:"analysis"`
}

// DefaultConfig returns a Config with default values. Each call returns a new value.
func DefaultConfig() *Config {
	return &Config{
		DBPath:    "./fgoat.db",
		Port:      8080,
		LogLevel:  "info",
		LogFormat: "console",
		Separator: ",",
		Analysis: AnalysisConfig{
			Events:      events.DefaultColumns(),
			Arms:        variation.DefaultColumns(),
			StepOrder:   sequence.DefaultStepOrder().Map(),
			ConfirmStep: "confirm",
			Join: JoinConfig{
				Completion: string(variation.JoinInner),
				DwellTime:  string(variation.JoinInner),
				ErrorRate:  string(variation.JoinInner),
			},
			Ordering: string(kpi.OrderByTime),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (skipped
// when path is empty or the file does not exist), then a .env file, then FG_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// a step_order in the file replaces the default mapping rather than merging into it
	defaults := c.Analysis.StepOrder
	c.Analysis.StepOrder = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if c.Analysis.StepOrder == nil {
		c.Analysis.StepOrder = defaults
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks option values that would otherwise fail deep inside a KPI call.
func (c *Config) Validate() error {
	if c.Separator == "" || len([]rune(c.Separator)) != 1 {
		return fmt.Errorf("separator must be a single character, got %q", c.Separator)
	}
	_, err := c.Analysis.Options()
	return err
}

// Options converts the analysis section into a fresh kpi.Options.
func (a AnalysisConfig) Options() (kpi.Options, error) {
	opts := kpi.DefaultOptions()

	if a.Events.Client == "" || a.Events.Visit == "" || a.Events.Step == "" {
		return opts, fmt.Errorf("event columns client, visit and step must be set")
	}
	if a.Arms.Client == "" || a.Arms.Arm == "" {
		return opts, fmt.Errorf("assignment columns client and arm must be set")
	}
	if a.ConfirmStep == "" {
		return opts, fmt.Errorf("confirm_step must be set")
	}
	if len(a.StepOrder) == 0 {
		return opts, fmt.Errorf("step_order must have at least one step")
	}

	opts.Events = a.Events
	opts.Arms = a.Arms
	opts.StepOrder = sequence.NewStepOrder(a.StepOrder)
	opts.ConfirmStep = a.ConfirmStep

	var err error
	if opts.Join.Completion, err = variation.ParseJoinMode(a.Join.Completion); err != nil {
		return opts, fmt.Errorf("join.completion: %w", err)
	}
	if opts.Join.DwellTime, err = variation.ParseJoinMode(a.Join.DwellTime); err != nil {
		return opts, fmt.Errorf("join.dwell_time: %w", err)
	}
	if opts.Join.ErrorRate, err = variation.ParseJoinMode(a.Join.ErrorRate); err != nil {
		return opts, fmt.Errorf("join.error_rate: %w", err)
	}
	if opts.Ordering, err = kpi.ParseOrdering(a.Ordering); err != nil {
		return opts, err
	}
	return opts, nil
}
