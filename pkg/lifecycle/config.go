package lifecycle

import (
	"fmt"
	"math"
	"time"
)

// Config holds lifecycle manager parameters.
type Config struct {
	// UpdateInterval is the number of processed units between two cycles.
	UpdateInterval int `yaml:"update_interval"`
	// CycleInterval additionally triggers a cycle on a timer; zero disables.
	CycleInterval time.Duration `yaml:"cycle_interval"`

	TrainingSamples int     `yaml:"training_samples"`
	MinExperiences  int     `yaml:"min_experiences"`
	ABTestRatio     float64 `yaml:"ab_test_ratio"`

	AccuracyThreshold float64 `yaml:"accuracy_threshold"`
	InitialAccuracy   float64 `yaml:"initial_accuracy"`
	DecisionThreshold float64 `yaml:"decision_threshold"`
	LoadThreshold     float64 `yaml:"load_threshold"`

	LearningRate    float64 `yaml:"learning_rate"`
	MinLearningRate float64 `yaml:"min_learning_rate"`
	MaxLearningRate float64 `yaml:"max_learning_rate"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:    1000,
		TrainingSamples:   1000,
		MinExperiences:    10,
		ABTestRatio:       0.05,
		AccuracyThreshold: 0.95,
		InitialAccuracy:   0.96,
		DecisionThreshold: 0.5,
		LoadThreshold:     0.8,
		LearningRate:      0.01,
		MinLearningRate:   0.001,
		MaxLearningRate:   0.1,
	}
}

// Validate checks ranges and finiteness.
func (c Config) Validate() error {
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("lifecycle update_interval must be positive, got %d", c.UpdateInterval)
	}
	if c.CycleInterval < 0 {
		return fmt.Errorf("lifecycle cycle_interval must not be negative, got %s", c.CycleInterval)
	}
	if c.MinExperiences < 2 || c.TrainingSamples < c.MinExperiences {
		return fmt.Errorf("lifecycle training_samples (%d) must be >= min_experiences (%d >= 2)", c.TrainingSamples, c.MinExperiences)
	}
	for name, v := range map[string]float64{
		"ab_test_ratio":      c.ABTestRatio,
		"accuracy_threshold": c.AccuracyThreshold,
		"initial_accuracy":   c.InitialAccuracy,
		"decision_threshold": c.DecisionThreshold,
		"load_threshold":     c.LoadThreshold,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("lifecycle %s must be in [0,1], got %v", name, v)
		}
	}
	if c.ABTestRatio == 0 || c.ABTestRatio >= 1 {
		return fmt.Errorf("lifecycle ab_test_ratio must be in (0,1), got %v", c.ABTestRatio)
	}
	if !(c.MinLearningRate > 0 && c.MinLearningRate <= c.LearningRate && c.LearningRate <= c.MaxLearningRate) {
		return fmt.Errorf("lifecycle learning rates must satisfy 0 < min (%v) <= rate (%v) <= max (%v)",
			c.MinLearningRate, c.LearningRate, c.MaxLearningRate)
	}
	return nil
}
