package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cuemby/cadence/pkg/anomaly"
	"github.com/cuemby/cadence/pkg/balancer"
	"github.com/cuemby/cadence/pkg/batch"
	"github.com/cuemby/cadence/pkg/consensus"
	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/ordering"
	"gopkg.in/yaml.v3"
)

// Config is the full cadence configuration document. Every top-level
// section is listed so strict decoding rejects unknown keys.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Batch     batch.Config     `yaml:"batch"`
	Balancer  balancer.Config  `yaml:"balancer"`
	Ordering  ordering.Config  `yaml:"ordering"`
	Anomaly   anomaly.Config   `yaml:"anomaly"`
	Lifecycle lifecycle.Config `yaml:"lifecycle"`
	Consensus consensus.Config `yaml:"consensus"`
	Storage   StorageConfig    `yaml:"storage"`
	Raft      RaftConfig       `yaml:"raft"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig configures model and experience persistence.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// SnapshotInterval is how often the experience buffers are persisted.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxExperiences   int           `yaml:"max_experiences"`
}

// RaftConfig configures model replication.
type RaftConfig struct {
	Enabled      bool          `yaml:"enabled"`
	NodeID       string        `yaml:"node_id"`
	BindAddr     string        `yaml:"bind_addr"`
	DataDir      string        `yaml:"data_dir"`
	Bootstrap    bool          `yaml:"bootstrap"`
	ApplyTimeout time.Duration `yaml:"apply_timeout"`
}

// MetricsConfig configures the Prometheus and health endpoints.
type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns a configuration carrying every documented default.
func Default() Config {
	return Config{
		Log:       LogConfig{Level: "info"},
		Batch:     batch.DefaultConfig(),
		Balancer:  balancer.DefaultConfig(),
		Ordering:  ordering.DefaultConfig(),
		Anomaly:   anomaly.DefaultConfig(),
		Lifecycle: lifecycle.DefaultConfig(),
		Consensus: consensus.DefaultConfig(),
		Storage: StorageConfig{
			Path:             "./cadence-data/cadence.db",
			SnapshotInterval: time.Minute,
			MaxExperiences:   10000,
		},
		Raft: RaftConfig{
			NodeID:       "cadence-1",
			BindAddr:     "127.0.0.1:7946",
			DataDir:      "./cadence-data/raft",
			Bootstrap:    true,
			ApplyTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:      true,
			Addr:         ":9090",
			PollInterval: 5 * time.Second,
		},
	}
}

// Load reads a YAML file and overlays it on Default. Unknown keys are
// rejected. The result is validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over Default and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if lvl := strings.ToLower(strings.TrimSpace(c.Log.Level)); lvl != "" && log.ParseLevel(lvl) == log.InfoLevel && lvl != "info" {
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}

	sections := []struct {
		name     string
		validate func() error
	}{
		{"batch", c.Batch.Validate},
		{"balancer", c.Balancer.Validate},
		{"ordering", c.Ordering.Validate},
		{"anomaly", c.Anomaly.Validate},
		{"lifecycle", c.Lifecycle.Validate},
		{"consensus", c.Consensus.Validate},
		{"storage", c.Storage.validate},
		{"raft", c.Raft.validate},
		{"metrics", c.Metrics.validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s StorageConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Path == "" {
		return fmt.Errorf("path must be set when storage is enabled")
	}
	if s.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot_interval must not be negative, got %s", s.SnapshotInterval)
	}
	if s.MaxExperiences < 0 {
		return fmt.Errorf("max_experiences must not be negative, got %d", s.MaxExperiences)
	}
	return nil
}

func (r RaftConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.NodeID == "" || r.BindAddr == "" || r.DataDir == "" {
		return fmt.Errorf("node_id, bind_addr and data_dir are required when raft is enabled")
	}
	if r.ApplyTimeout <= 0 {
		return fmt.Errorf("apply_timeout must be positive, got %s", r.ApplyTimeout)
	}
	return nil
}

func (m MetricsConfig) validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Addr == "" {
		return fmt.Errorf("addr must be set when metrics are enabled")
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", m.PollInterval)
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() log.Level {
	return log.ParseLevel(c.Log.Level)
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
