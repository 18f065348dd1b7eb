package engine

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the defaults applied to registrations that leave option
// fields zero. Backends embed a Config and never read global state.
type Config struct {
	// WorkflowTimeout is the default total process lifetime.
	WorkflowTimeout time.Duration
	// DecisionTimeout is the default decision task lease.
	DecisionTimeout time.Duration
	// ActivityScheduledTimeout is the default time an execution may queue.
	ActivityScheduledTimeout time.Duration
	// ActivityExecutionTimeout is the default dispatch-to-completion bound.
	ActivityExecutionTimeout time.Duration
	// ActivityHeartbeatTimeout is the default heartbeat interval bound.
	ActivityHeartbeatTimeout time.Duration
	// ActivityCategory is the category assigned to activity types registered
	// without one.
	ActivityCategory string
	// DecisionCategory is the category assigned to workflow types registered
	// without one.
	DecisionCategory string
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		WorkflowTimeout:          365 * 24 * time.Hour,
		DecisionTimeout:          time.Minute,
		ActivityScheduledTimeout: 365 * 24 * time.Hour,
		ActivityExecutionTimeout: 365 * 24 * time.Hour,
		ActivityHeartbeatTimeout: time.Hour,
		ActivityCategory:         "default",
		DecisionCategory:         "decisions",
	}
}

// Normalized returns the configuration with zero fields filled from
// DefaultConfig.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if c.WorkflowTimeout == 0 {
		c.WorkflowTimeout = def.WorkflowTimeout
	}
	if c.DecisionTimeout == 0 {
		c.DecisionTimeout = def.DecisionTimeout
	}
	if c.ActivityScheduledTimeout == 0 {
		c.ActivityScheduledTimeout = def.ActivityScheduledTimeout
	}
	if c.ActivityExecutionTimeout == 0 {
		c.ActivityExecutionTimeout = def.ActivityExecutionTimeout
	}
	if c.ActivityHeartbeatTimeout == 0 {
		c.ActivityHeartbeatTimeout = def.ActivityHeartbeatTimeout
	}
	if c.ActivityCategory == "" {
		c.ActivityCategory = def.ActivityCategory
	}
	if c.DecisionCategory == "" {
		c.DecisionCategory = def.DecisionCategory
	}
	return c
}

// WorkflowDefaults fills zero workflow option fields from the configuration.
func (c Config) WorkflowDefaults(opts WorkflowOptions) WorkflowOptions {
	c = c.Normalized()
	if opts.Timeout == 0 {
		opts.Timeout = c.WorkflowTimeout
	}
	if opts.DecisionTimeout == 0 {
		opts.DecisionTimeout = c.DecisionTimeout
	}
	if opts.Category == "" {
		opts.Category = c.DecisionCategory
	}
	return opts
}

// ActivityDefaults fills zero activity option fields from the configuration.
func (c Config) ActivityDefaults(opts ActivityOptions) ActivityOptions {
	c = c.Normalized()
	if opts.Category == "" {
		opts.Category = c.ActivityCategory
	}
	if opts.ScheduledTimeout == 0 {
		opts.ScheduledTimeout = c.ActivityScheduledTimeout
	}
	if opts.ExecutionTimeout == 0 {
		opts.ExecutionTimeout = c.ActivityExecutionTimeout
	}
	if opts.HeartbeatTimeout == 0 {
		opts.HeartbeatTimeout = c.ActivityHeartbeatTimeout
	}
	return opts
}

type configYAML struct {
	WorkflowTimeout          string `yaml:"workflow_timeout"`
	DecisionTimeout          string `yaml:"decision_timeout"`
	ActivityScheduledTimeout string `yaml:"activity_scheduled_timeout"`
	ActivityExecutionTimeout string `yaml:"activity_execution_timeout"`
	ActivityHeartbeatTimeout string `yaml:"activity_heartbeat_timeout"`
	ActivityCategory         string `yaml:"activity_category"`
	DecisionCategory         string `yaml:"decision_category"`
}

// ParseConfig reads a YAML document with Go duration strings, e.g.:
//
//	decision_timeout: 30s
//	activity_heartbeat_timeout: 5m
//	decision_category: billing
//
// Missing keys keep their DefaultConfig values.
func ParseConfig(data []byte) (Config, error) {
	var raw configYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg := DefaultConfig()
	set := func(dst *time.Duration, key, val string) error {
		if val == "" {
			return nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parse config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if err := set(&cfg.WorkflowTimeout, "workflow_timeout", raw.WorkflowTimeout); err != nil {
		return Config{}, err
	}
	if err := set(&cfg.DecisionTimeout, "decision_timeout", raw.DecisionTimeout); err != nil {
		return Config{}, err
	}
	if err := set(&cfg.ActivityScheduledTimeout, "activity_scheduled_timeout", raw.ActivityScheduledTimeout); err != nil {
		return Config{}, err
	}
	if err := set(&cfg.ActivityExecutionTimeout, "activity_execution_timeout", raw.ActivityExecutionTimeout); err != nil {
		return Config{}, err
	}
	if err := set(&cfg.ActivityHeartbeatTimeout, "activity_heartbeat_timeout", raw.ActivityHeartbeatTimeout); err != nil {
		return Config{}, err
	}
	if raw.ActivityCategory != "" {
		cfg.ActivityCategory = raw.ActivityCategory
	}
	if raw.DecisionCategory != "" {
		cfg.DecisionCategory = raw.DecisionCategory
	}
	return cfg, nil
}
