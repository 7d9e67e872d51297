package consensus

import (
	"fmt"
	"time"
)

// Config holds consensus advisor parameters.
type Config struct {
	Enabled    bool `yaml:"enabled"`
	MaxHistory int  `yaml:"max_history"`
	// PartitionThreshold is how long a node may go unseen before it counts
	// as unreachable.
	PartitionThreshold time.Duration `yaml:"partition_threshold"`
	MinTimeout         time.Duration `yaml:"min_timeout"`
	MaxTimeout         time.Duration `yaml:"max_timeout"`
	SafetyMargin       float64       `yaml:"safety_margin"`
	LearningRate       float64       `yaml:"learning_rate"`
	// TuneInterval is how often the engine re-derives the timeout from
	// heartbeat history; zero disables the loop.
	TuneInterval time.Duration `yaml:"tune_interval"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		MaxHistory:         100,
		PartitionThreshold: 5 * time.Second,
		MinTimeout:         100 * time.Millisecond,
		MaxTimeout:         500 * time.Millisecond,
		SafetyMargin:       1.2,
		LearningRate:       0.01,
		TuneInterval:       10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxHistory <= 0 {
		return fmt.Errorf("consensus max_history must be positive, got %d", c.MaxHistory)
	}
	if c.PartitionThreshold <= 0 {
		return fmt.Errorf("consensus partition_threshold must be positive, got %s", c.PartitionThreshold)
	}
	if c.MinTimeout <= 0 || c.MaxTimeout < c.MinTimeout {
		return fmt.Errorf("consensus timeouts must satisfy 0 < min (%s) <= max (%s)", c.MinTimeout, c.MaxTimeout)
	}
	if c.SafetyMargin < 1 {
		return fmt.Errorf("consensus safety_margin must be at least 1, got %v", c.SafetyMargin)
	}
	if c.TuneInterval < 0 {
		return fmt.Errorf("consensus tune_interval must not be negative, got %s", c.TuneInterval)
	}
	return nil
}
