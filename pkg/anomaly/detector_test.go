package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	events []*events.Event
}

func (p *recordingPublisher) Publish(ev *events.Event) { p.events = append(p.events, ev) }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestSizeAnomalySaturates tests a single huge transaction after a tight cluster
func TestSizeAnomalySaturates(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pub := &recordingPublisher{}
	d := NewDetector(DefaultConfig(), WithClock(fixedClock(now)), WithPublisher(pub))

	for i := 0; i < 100; i++ {
		r := d.CheckTransaction(Transaction{ID: fmt.Sprintf("tx-%d", i), Sender: fmt.Sprintf("addr-%d", i), Size: 500})
		assert.False(t, r.Anomalous)
	}

	r := d.CheckTransaction(Transaction{ID: "big", Sender: "addr-big", Size: 50000})
	assert.Equal(t, 1.0, r.Score)
	assert.Equal(t, TypeTransactionPattern, r.Type)
	assert.True(t, r.Anomalous)
	assert.Contains(t, r.Reason, "transaction size")

	st := d.Statistics()
	assert.Equal(t, uint64(1), st.Total)
	assert.Equal(t, uint64(1), st.Transaction)
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.EventAnomalyDetected, pub.events[0].Type)
}

func TestSizeAnomalyNeedsHistory(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 99; i++ {
		d.CheckTransaction(Transaction{Sender: fmt.Sprintf("a%d", i), Size: 500})
	}

	r := d.CheckTransaction(Transaction{Sender: "x", Size: 50000})
	assert.Equal(t, 0.0, r.Score)
	assert.False(t, r.Anomalous)
}

// TestFrequencyRatioOne tests a sender at the network average
func TestFrequencyRatioOne(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 10; i++ {
		d.CheckTransaction(Transaction{Sender: fmt.Sprintf("peer-%d", i), Size: 200})
	}

	r := d.CheckTransaction(Transaction{Sender: "fresh", Size: 200})
	assert.Equal(t, 0.0, r.Score)
	assert.False(t, r.Anomalous)
}

func TestFrequencyScore(t *testing.T) {
	tests := []struct {
		ratio float64
		want  float64
	}{
		{1, 0},
		{2, 0},
		{6, 0.5},
		{10, 1},
		{40, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("ratio_%v", tt.ratio), func(t *testing.T) {
			assert.InDelta(t, tt.want, frequencyScore(tt.ratio, 2, 10), 1e-9)
		})
	}
}

func TestFloodingSenderFlagged(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 50; i++ {
		d.CheckTransaction(Transaction{Sender: fmt.Sprintf("peer-%d", i), Size: 200})
	}

	var last Report
	for i := 0; i < 60; i++ {
		last = d.CheckTransaction(Transaction{Sender: "0xdeadbeefdeadbeefdeadbeef", Size: 200})
	}
	assert.Equal(t, TypeSecurityThreat, last.Type)
	assert.Equal(t, 1.0, last.Score)
	assert.True(t, last.Anomalous)
	assert.Contains(t, last.Reason, "0xdeadbe...beef")
	assert.Greater(t, d.Statistics().Security, uint64(0))
}

func TestNewAddressLargeValue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDetector(DefaultConfig(), WithClock(fixedClock(now)))
	for i := 0; i < 20; i++ {
		d.CheckTransaction(Transaction{Sender: fmt.Sprintf("peer-%d", i), Size: 200, Value: 100})
	}

	// 20x average on a brand new address: age score 1, value score 1
	r := d.CheckTransaction(Transaction{Sender: "newcomer", Size: 200, Value: 2000})
	assert.Equal(t, TypeSecurityThreat, r.Type)
	assert.InDelta(t, 1.0, r.Score, 1e-9)
	assert.True(t, r.Anomalous)

	// 5x average stays below the large-value trigger
	r = d.CheckTransaction(Transaction{Sender: "other", Size: 200, Value: 500})
	assert.Equal(t, 0.0, r.Score)
}

func TestOldAddressLargeValueIgnored(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	d := NewDetector(DefaultConfig())

	d.CheckTransaction(Transaction{Sender: "veteran", Size: 200, Value: 100, Timestamp: start})
	for i := 0; i < 20; i++ {
		d.CheckTransaction(Transaction{Sender: fmt.Sprintf("peer-%d", i), Size: 200, Value: 100, Timestamp: start})
	}

	r := d.CheckTransaction(Transaction{Sender: "veteran", Size: 200, Value: 5000, Timestamp: start.Add(2 * time.Hour)})
	assert.Equal(t, 0.0, r.Score)
}

// TestPerformanceChecks tests throughput degradation and latency spikes
func TestPerformanceChecks(t *testing.T) {
	d := NewDetector(DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		d.CheckPerformance(1_000_000+rng.Float64()*10_000, 40+rng.Float64()*2)
	}

	t.Run("steady", func(t *testing.T) {
		r := d.CheckPerformance(1_005_000, 41)
		assert.False(t, r.Anomalous)
	})

	t.Run("throughput improvement is not degradation", func(t *testing.T) {
		r := d.CheckPerformance(5_000_000, 41)
		assert.Less(t, r.Score, 0.5)
		assert.False(t, r.Anomalous)
	})

	t.Run("throughput collapse", func(t *testing.T) {
		r := d.CheckPerformance(100_000, 41)
		assert.Equal(t, TypePerformanceDegradation, r.Type)
		assert.Equal(t, 1.0, r.Score)
		assert.True(t, r.Anomalous)
	})

	t.Run("latency spike", func(t *testing.T) {
		r := d.CheckPerformance(1_005_000, 400)
		assert.Equal(t, TypePerformanceDegradation, r.Type)
		assert.True(t, r.Anomalous)
		assert.Contains(t, r.Reason, "latency")
	})

	assert.GreaterOrEqual(t, d.Statistics().Performance, uint64(2))
}

// TestNonFiniteSamplesKeepBaselines tests that NaN and Inf readings score
// zero and leave later checks working
func TestNonFiniteSamplesKeepBaselines(t *testing.T) {
	tests := []struct {
		name       string
		throughput float64
		latency    float64
	}{
		{"nan throughput", math.NaN(), 41},
		{"nan latency", 1_005_000, math.NaN()},
		{"inf throughput", math.Inf(1), 41},
		{"negative inf latency", 1_005_000, math.Inf(-1)},
		{"both nan", math.NaN(), math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(DefaultConfig())
			rng := rand.New(rand.NewSource(7))
			for i := 0; i < 200; i++ {
				d.CheckPerformance(1_000_000+rng.Float64()*10_000, 40+rng.Float64()*2)
			}
			require.True(t, d.CheckPerformance(1_005_000, 400).Anomalous)

			r := d.CheckPerformance(tt.throughput, tt.latency)
			assert.False(t, r.Anomalous)
			assert.False(t, math.IsNaN(r.Score))

			r = d.CheckPerformance(1_005_000, 400)
			assert.True(t, r.Anomalous)
			assert.Contains(t, r.Reason, "latency")
			r = d.CheckPerformance(100_000, 41)
			assert.True(t, r.Anomalous)
			assert.Contains(t, r.Reason, "throughput")

			s := d.Statistics()
			assert.False(t, math.IsNaN(s.ThroughputMean))
			assert.False(t, math.IsNaN(s.LatencyMean))
		})
	}

	t.Run("nan transaction value", func(t *testing.T) {
		d := NewDetector(DefaultConfig())
		for i := 0; i < 50; i++ {
			d.CheckTransaction(Transaction{ID: fmt.Sprint(i), Sender: fmt.Sprintf("s%d", i%5), Size: 200, Value: 10})
		}
		r := d.CheckTransaction(Transaction{ID: "nan", Sender: "s1", Size: 200, Value: math.NaN()})
		assert.False(t, r.Anomalous)
		assert.False(t, math.IsNaN(r.Score))
		assert.False(t, math.IsNaN(d.values.Mean()))
		assert.Equal(t, 50, d.values.Len())
	})
}

// TestSensitivityIsStrict tests that a score equal to sensitivity is not anomalous
func TestSensitivityIsStrict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sensitivity = 0.5
	d := NewDetector(cfg)

	r := d.finish(component{score: 0.5, typ: TypeSecurityThreat})
	assert.Equal(t, 0.5, r.Score)
	assert.False(t, r.Anomalous)

	r = d.finish(component{score: 0.5000001, typ: TypeSecurityThreat})
	assert.True(t, r.Anomalous)
}

func TestScoresStayInUnitInterval(t *testing.T) {
	d := NewDetector(DefaultConfig())
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		r := d.CheckTransaction(Transaction{
			Sender: fmt.Sprintf("a%d", rng.Intn(20)),
			Size:   rng.Intn(100000),
			Value:  rng.Float64() * 1e6,
		})
		require.GreaterOrEqual(t, r.Score, 0.0)
		require.LessOrEqual(t, r.Score, 1.0)

		p := d.CheckPerformance(rng.Float64()*2e6, rng.Float64()*1000)
		require.GreaterOrEqual(t, p.Score, 0.0)
		require.LessOrEqual(t, p.Score, 1.0)
	}
}

func TestDisabledDetector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	d := NewDetector(cfg)

	for i := 0; i < 150; i++ {
		d.CheckTransaction(Transaction{Sender: "a", Size: 500})
	}
	r := d.CheckTransaction(Transaction{Sender: "a", Size: 50000})
	assert.Equal(t, Report{Type: TypeNone}, r)
	assert.Equal(t, Report{Type: TypeNone}, d.CheckPerformance(0, 1e6))
	assert.Equal(t, uint64(0), d.Statistics().Checked)
}

func TestResetStatistics(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 120; i++ {
		d.CheckTransaction(Transaction{Sender: fmt.Sprintf("a%d", i), Size: 500})
	}
	d.CheckTransaction(Transaction{Sender: "b", Size: 90000})
	require.Equal(t, uint64(1), d.Statistics().Total)

	d.ResetStatistics()
	st := d.Statistics()
	assert.Equal(t, Statistics{}, st)
}

func TestAddressTrackingBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTrackedAddresses = 10
	d := NewDetector(cfg)

	for i := 0; i < 35; i++ {
		d.CheckTransaction(Transaction{Sender: fmt.Sprintf("a%d", i), Size: 100})
	}
	assert.LessOrEqual(t, d.Statistics().TrackedAddresses, 10)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))
	assert.Equal(t, "0x123456...cdef", Truncate("0x1234567890abcdef"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sensitivity above one", func(c *Config) { c.Sensitivity = 1.5 }},
		{"zero threshold", func(c *Config) { c.LatencyThreshold = 0 }},
		{"inverted frequency band", func(c *Config) { c.FrequencyCeiling = 1 }},
		{"min samples over window", func(c *Config) { c.MinSamples = 5000 }},
		{"zero address age", func(c *Config) { c.NewAddressAge = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
