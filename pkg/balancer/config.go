package balancer

import (
	"fmt"
	"math"
	"time"
)

// Config holds load balancer parameters.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// LoadThreshold is the load above which a target counts as overloaded.
	LoadThreshold float64 `yaml:"load_threshold"`
	// LatencyScale normalizes average latency (milliseconds) to [0,1].
	LatencyScale float64 `yaml:"latency_scale"`
	DefaultTarget string `yaml:"default_target"`

	LearningRate    float64 `yaml:"learning_rate"`
	MinLearningRate float64 `yaml:"min_learning_rate"`
	MaxLearningRate float64 `yaml:"max_learning_rate"`
	Momentum        float64 `yaml:"momentum"`

	ReplayCapacity     int           `yaml:"replay_capacity"`
	TrainingSamples    int           `yaml:"training_samples"`
	MinTrainingSamples int           `yaml:"min_training_samples"`
	TrainInterval      time.Duration `yaml:"train_interval"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		LoadThreshold:      0.8,
		LatencyScale:       1000,
		DefaultTarget:      "default-validator",
		LearningRate:       0.01,
		MinLearningRate:    0.001,
		MaxLearningRate:    0.1,
		Momentum:           0.9,
		ReplayCapacity:     10000,
		TrainingSamples:    100,
		MinTrainingSamples: 10,
		TrainInterval:      10 * time.Second,
	}
}

// Validate checks ranges and finiteness.
func (c Config) Validate() error {
	if math.IsNaN(c.LoadThreshold) || c.LoadThreshold <= 0 || c.LoadThreshold > 1 {
		return fmt.Errorf("balancer load_threshold must be in (0,1], got %v", c.LoadThreshold)
	}
	if math.IsNaN(c.LatencyScale) || c.LatencyScale <= 0 {
		return fmt.Errorf("balancer latency_scale must be positive, got %v", c.LatencyScale)
	}
	if c.DefaultTarget == "" {
		return fmt.Errorf("balancer default_target must not be empty")
	}
	if !(c.MinLearningRate > 0 && c.MinLearningRate <= c.LearningRate && c.LearningRate <= c.MaxLearningRate) {
		return fmt.Errorf("balancer learning rates must satisfy 0 < min (%v) <= rate (%v) <= max (%v)",
			c.MinLearningRate, c.LearningRate, c.MaxLearningRate)
	}
	if math.IsNaN(c.Momentum) || c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("balancer momentum must be in [0,1), got %v", c.Momentum)
	}
	if c.ReplayCapacity <= 0 {
		return fmt.Errorf("balancer replay_capacity must be positive, got %d", c.ReplayCapacity)
	}
	if c.MinTrainingSamples <= 0 || c.TrainingSamples < c.MinTrainingSamples {
		return fmt.Errorf("balancer training_samples (%d) must be >= min_training_samples (%d > 0)", c.TrainingSamples, c.MinTrainingSamples)
	}
	if c.TrainInterval < 0 {
		return fmt.Errorf("balancer train_interval must not be negative, got %s", c.TrainInterval)
	}
	return nil
}
