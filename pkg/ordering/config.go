package ordering

import (
	"fmt"
	"time"
)

// Config holds ordering engine parameters.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// FairnessWindow is the age at which a transaction reaches full age
	// priority.
	FairnessWindow time.Duration `yaml:"fairness_window"`
	// RecencyWindow is how long sender activity decays for.
	RecencyWindow time.Duration `yaml:"recency_window"`

	FrequencyScale  float64 `yaml:"frequency_scale"`
	SizeScale       float64 `yaml:"size_scale"`
	FeeDecades      float64 `yaml:"fee_decades"`
	MaxDependencies float64 `yaml:"max_dependencies"`

	HotSenderThreshold int  `yaml:"hot_sender_threshold"`
	ClusterHotSenders  bool `yaml:"cluster_hot_senders"`

	// LearningInterval is the number of batches between weight adaptations.
	LearningInterval int     `yaml:"learning_interval"`
	AdaptationStep   float64 `yaml:"adaptation_step"`
	MinGain          float64 `yaml:"min_gain"`
	MaxHotnessWeight float64 `yaml:"max_hotness_weight"`
	MinSizeWeight    float64 `yaml:"min_size_weight"`

	CacheSize         int `yaml:"cache_size"`
	MaxTrackedSenders int `yaml:"max_tracked_senders"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		FairnessWindow:     5 * time.Second,
		RecencyWindow:      60 * time.Second,
		FrequencyScale:     100,
		SizeScale:          1000,
		FeeDecades:         6,
		MaxDependencies:    10,
		HotSenderThreshold: 10,
		ClusterHotSenders:  true,
		LearningInterval:   10,
		AdaptationStep:     0.01,
		MinGain:            0.01,
		MaxHotnessWeight:   0.35,
		MinSizeWeight:      0.1,
		CacheSize:          10000,
		MaxTrackedSenders:  100000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FairnessWindow <= 0 || c.RecencyWindow <= 0 {
		return fmt.Errorf("ordering windows must be positive (fairness %s, recency %s)", c.FairnessWindow, c.RecencyWindow)
	}
	if c.FrequencyScale <= 0 || c.SizeScale <= 0 || c.FeeDecades <= 0 || c.MaxDependencies <= 0 {
		return fmt.Errorf("ordering feature scales must be positive")
	}
	if c.LearningInterval <= 0 {
		return fmt.Errorf("ordering learning_interval must be positive, got %d", c.LearningInterval)
	}
	if c.AdaptationStep < 0 || c.AdaptationStep > 0.1 {
		return fmt.Errorf("ordering adaptation_step must be in [0,0.1], got %v", c.AdaptationStep)
	}
	if c.MinSizeWeight < 0 || c.MaxHotnessWeight > 1 || c.MinSizeWeight >= c.MaxHotnessWeight {
		return fmt.Errorf("ordering weight bounds invalid: min size %v, max hotness %v", c.MinSizeWeight, c.MaxHotnessWeight)
	}
	if c.CacheSize <= 0 || c.MaxTrackedSenders <= 0 {
		return fmt.Errorf("ordering cache_size and max_tracked_senders must be positive")
	}
	return nil
}
