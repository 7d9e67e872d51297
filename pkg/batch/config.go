package batch

import (
	"fmt"
	"math"
	"time"
)

// Config holds batch optimizer parameters.
type Config struct {
	Enabled      bool `yaml:"enabled"`
	MinBatch     int  `yaml:"min_batch"`
	MaxBatch     int  `yaml:"max_batch"`
	DefaultBatch int  `yaml:"default_batch"`

	// Interval is the cooldown between two optimizations.
	Interval time.Duration `yaml:"interval"`

	TargetThroughput float64 `yaml:"target_throughput"`
	// TargetLatency is in milliseconds.
	TargetLatency float64 `yaml:"target_latency"`

	WindowSize           int `yaml:"window_size"`
	MinRegressionSamples int `yaml:"min_regression_samples"`
	GradientSamples      int `yaml:"gradient_samples"`

	RampUpCycles    int     `yaml:"ramp_up_cycles"`
	RampUpMaxChange float64 `yaml:"ramp_up_max_change"`
	SteadyMaxChange float64 `yaml:"steady_max_change"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MinBatch:             2000,
		MaxBatch:             15000,
		DefaultBatch:         8000,
		Interval:             3 * time.Second,
		TargetThroughput:     2_000_000,
		TargetLatency:        100,
		WindowSize:           100,
		MinRegressionSamples: 5,
		GradientSamples:      5,
		RampUpCycles:         20,
		RampUpMaxChange:      0.30,
		SteadyMaxChange:      0.20,
	}
}

// Validate checks ranges and finiteness.
func (c Config) Validate() error {
	if c.MinBatch <= 0 {
		return fmt.Errorf("batch min_batch must be positive, got %d", c.MinBatch)
	}
	if c.MaxBatch < c.MinBatch {
		return fmt.Errorf("batch max_batch (%d) must be >= min_batch (%d)", c.MaxBatch, c.MinBatch)
	}
	if c.DefaultBatch < c.MinBatch || c.DefaultBatch > c.MaxBatch {
		return fmt.Errorf("batch default_batch %d outside [%d, %d]", c.DefaultBatch, c.MinBatch, c.MaxBatch)
	}
	if c.Interval < 0 {
		return fmt.Errorf("batch interval must not be negative, got %s", c.Interval)
	}
	for name, v := range map[string]float64{
		"target_throughput":  c.TargetThroughput,
		"target_latency":     c.TargetLatency,
		"ramp_up_max_change": c.RampUpMaxChange,
		"steady_max_change":  c.SteadyMaxChange,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("batch %s must be a positive finite number, got %v", name, v)
		}
	}
	if c.RampUpMaxChange > 1 || c.SteadyMaxChange > 1 {
		return fmt.Errorf("batch max change ratios must not exceed 1")
	}
	if c.WindowSize < c.MinRegressionSamples || c.MinRegressionSamples < 2 {
		return fmt.Errorf("batch window_size (%d) must hold min_regression_samples (%d >= 2)", c.WindowSize, c.MinRegressionSamples)
	}
	if c.GradientSamples < 2 {
		return fmt.Errorf("batch gradient_samples must be >= 2, got %d", c.GradientSamples)
	}
	if c.RampUpCycles < 0 {
		return fmt.Errorf("batch ramp_up_cycles must not be negative, got %d", c.RampUpCycles)
	}
	return nil
}
