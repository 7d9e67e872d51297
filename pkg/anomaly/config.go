package anomaly

import (
	"fmt"
	"math"
	"time"
)

// Config holds detector tuning parameters.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Sensitivity is the score a record must exceed to be anomalous.
	Sensitivity float64 `yaml:"sensitivity"`
	WindowSize  int     `yaml:"window_size"`
	MinSamples  int     `yaml:"min_samples"`

	SizeThreshold       float64 `yaml:"size_threshold"`
	ThroughputThreshold float64 `yaml:"throughput_threshold"`
	LatencyThreshold    float64 `yaml:"latency_threshold"`

	FrequencyFloor   float64 `yaml:"frequency_floor"`
	FrequencyCeiling float64 `yaml:"frequency_ceiling"`

	NewAddressAge        time.Duration `yaml:"new_address_age"`
	LargeValueMultiplier float64       `yaml:"large_value_multiplier"`
	MaxTrackedAddresses  int           `yaml:"max_tracked_addresses"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		Sensitivity:          0.95,
		WindowSize:           1000,
		MinSamples:           100,
		SizeThreshold:        3.0,
		ThroughputThreshold:  2.0,
		LatencyThreshold:     3.0,
		FrequencyFloor:       2.0,
		FrequencyCeiling:     10.0,
		NewAddressAge:        time.Hour,
		LargeValueMultiplier: 10.0,
		MaxTrackedAddresses:  100000,
	}
}

// Validate checks that every parameter is finite and in range.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"sensitivity":            c.Sensitivity,
		"size_threshold":         c.SizeThreshold,
		"throughput_threshold":   c.ThroughputThreshold,
		"latency_threshold":      c.LatencyThreshold,
		"frequency_floor":        c.FrequencyFloor,
		"frequency_ceiling":      c.FrequencyCeiling,
		"large_value_multiplier": c.LargeValueMultiplier,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("anomaly %s must be finite, got %v", name, v)
		}
	}
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		return fmt.Errorf("anomaly sensitivity must be in [0,1], got %v", c.Sensitivity)
	}
	if c.SizeThreshold <= 0 || c.ThroughputThreshold <= 0 || c.LatencyThreshold <= 0 {
		return fmt.Errorf("anomaly z-score thresholds must be positive")
	}
	if c.FrequencyFloor <= 0 || c.FrequencyCeiling <= c.FrequencyFloor {
		return fmt.Errorf("anomaly frequency ceiling (%v) must exceed floor (%v)", c.FrequencyCeiling, c.FrequencyFloor)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("anomaly window_size must be positive, got %d", c.WindowSize)
	}
	if c.MinSamples <= 0 || c.MinSamples > c.WindowSize {
		return fmt.Errorf("anomaly min_samples must be in [1,%d], got %d", c.WindowSize, c.MinSamples)
	}
	if c.NewAddressAge <= 0 {
		return fmt.Errorf("anomaly new_address_age must be positive, got %s", c.NewAddressAge)
	}
	if c.LargeValueMultiplier <= 0 {
		return fmt.Errorf("anomaly large_value_multiplier must be positive, got %v", c.LargeValueMultiplier)
	}
	if c.MaxTrackedAddresses <= 0 {
		return fmt.Errorf("anomaly max_tracked_addresses must be positive, got %d", c.MaxTrackedAddresses)
	}
	return nil
}
