package anomaly

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/stats"
	"github.com/rs/zerolog"
)

// Type classifies an anomaly.
type Type string

const (
	TypeNone                   Type = "none"
	TypeTransactionPattern     Type = "transaction_pattern"
	TypePerformanceDegradation Type = "performance_degradation"
	TypeSecurityThreat         Type = "security_threat"
)

// Transaction is the metadata the detector inspects.
type Transaction struct {
	ID        string
	Sender    string
	Size      int
	Value     float64
	Timestamp time.Time
}

// Report is the outcome of a check. Score is always in [0,1].
type Report struct {
	Score     float64
	Type      Type
	Reason    string
	Anomalous bool
}

// Statistics is a point-in-time view of detector counters.
type Statistics struct {
	Checked          uint64
	Total            uint64
	Transaction      uint64
	Security         uint64
	Performance      uint64
	TrackedAddresses int
	SizeSamples      int
	ThroughputMean   float64
	LatencyMean      float64
}

type addressInfo struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// Detector scores transactions and performance samples against rolling
// baselines.
type Detector struct {
	cfg       Config
	now       func() time.Time
	publisher events.Publisher
	logger    zerolog.Logger

	sizes      *stats.Window
	values     *stats.Window
	throughput *stats.Window
	latency    *stats.Window

	mu        sync.Mutex
	addresses map[string]*addressInfo
	txTotal   int

	checked     atomic.Uint64
	total       atomic.Uint64
	transaction atomic.Uint64
	security    atomic.Uint64
	performance atomic.Uint64
}

// Option customizes a Detector.
type Option func(*Detector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithPublisher sends anomaly.detected events to p.
func WithPublisher(p events.Publisher) Option {
	return func(d *Detector) { d.publisher = p }
}

// NewDetector creates a detector.
func NewDetector(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		cfg:        cfg,
		now:        time.Now,
		publisher:  events.Discard,
		logger:     log.WithComponent("anomaly"),
		sizes:      stats.NewWindow(cfg.WindowSize),
		values:     stats.NewWindow(cfg.WindowSize),
		throughput: stats.NewWindow(cfg.WindowSize),
		latency:    stats.NewWindow(cfg.WindowSize),
		addresses:  make(map[string]*addressInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type component struct {
	score  float64
	typ    Type
	reason string
}

// CheckTransaction scores a transaction for size, sender frequency and
// new-address large-value anomalies, then folds it into the baselines.
func (d *Detector) CheckTransaction(tx Transaction) Report {
	if !d.cfg.Enabled {
		return Report{Type: TypeNone}
	}
	d.checked.Add(1)

	ts := tx.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}

	size := d.sizeScore(float64(tx.Size))
	freq, age := d.trackSender(tx.Sender, ts)
	value := component{typ: TypeSecurityThreat}
	if finite(tx.Value) {
		value = d.valueScore(tx, age)
		d.values.Add(tx.Value)
	}
	d.sizes.Add(float64(tx.Size))

	return d.finish(size, freq, value)
}

// CheckPerformance scores a throughput/latency sample for degradation and
// spikes, then folds it into the baselines.
func (d *Detector) CheckPerformance(throughput, latency float64) Report {
	if !d.cfg.Enabled {
		return Report{Type: TypeNone}
	}
	d.checked.Add(1)

	// A non-finite reading scores zero and stays out of the baseline.
	tp := component{typ: TypePerformanceDegradation}
	if finite(throughput) {
		tp = d.throughputScore(throughput)
		d.throughput.Add(throughput)
	}
	lat := component{typ: TypePerformanceDegradation}
	if finite(latency) {
		lat = d.latencyScore(latency)
		d.latency.Add(latency)
	}

	return d.finish(tp, lat)
}

func (d *Detector) finish(parts ...component) Report {
	best := component{typ: TypeNone}
	for _, p := range parts {
		if p.score > best.score {
			best = p
		}
	}

	report := Report{
		Score:     stats.Clamp(best.score, 0, 1),
		Type:      best.typ,
		Reason:    best.reason,
		Anomalous: best.score > d.cfg.Sensitivity,
	}
	if !report.Anomalous {
		return report
	}

	d.total.Add(1)
	switch report.Type {
	case TypeTransactionPattern:
		d.transaction.Add(1)
	case TypeSecurityThreat:
		d.security.Add(1)
	case TypePerformanceDegradation:
		d.performance.Add(1)
	}

	d.logger.Debug().
		Str("type", string(report.Type)).
		Float64("score", report.Score).
		Msg(report.Reason)
	d.publisher.Publish(events.NewEvent(events.EventAnomalyDetected, report.Reason, map[string]string{
		"type":  string(report.Type),
		"score": fmt.Sprintf("%.3f", report.Score),
	}))
	return report
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// normalize maps a z-score onto [0,1] against threshold.
func normalize(z, threshold float64) float64 {
	if z <= 0 {
		return 0
	}
	return stats.Clamp(z/threshold, 0, 1)
}

// deviation scores the signed deviation v-mean of a baseline. A zero
// variance baseline saturates on any real deviation.
func (d *Detector) deviation(s stats.Summary, dev, threshold float64) (float64, float64) {
	if dev <= stats.Epsilon {
		return 0, 0
	}
	if s.StdDev < stats.Epsilon {
		return 1, 0
	}
	z := dev / s.StdDev
	return normalize(z, threshold), z
}

func (d *Detector) sizeScore(size float64) component {
	s := d.sizes.Summary()
	if s.Count < d.cfg.MinSamples {
		return component{typ: TypeTransactionPattern}
	}
	dev := size - s.Mean
	if dev < 0 {
		dev = -dev
	}
	score, z := d.deviation(s, dev, d.cfg.SizeThreshold)
	return component{
		score:  score,
		typ:    TypeTransactionPattern,
		reason: fmt.Sprintf("transaction size %.0f deviates %.1f sd from mean %.0f", size, z, s.Mean),
	}
}

// trackSender records the sender and returns its frequency score and age.
func (d *Detector) trackSender(sender string, ts time.Time) (component, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, ok := d.addresses[sender]
	if !ok {
		if len(d.addresses) >= d.cfg.MaxTrackedAddresses {
			d.pruneLocked(ts)
		}
		info = &addressInfo{firstSeen: ts}
		d.addresses[sender] = info
	}
	info.count++
	info.lastSeen = ts
	d.txTotal++

	age := ts.Sub(info.firstSeen)
	mean := float64(d.txTotal) / float64(len(d.addresses))
	ratio := float64(info.count) / mean

	return component{
		score:  frequencyScore(ratio, d.cfg.FrequencyFloor, d.cfg.FrequencyCeiling),
		typ:    TypeSecurityThreat,
		reason: fmt.Sprintf("address %s sends %.1fx the mean frequency", Truncate(sender), ratio),
	}, age
}

// pruneLocked forgets addresses that have been idle longer than the
// new-address age, and everything if that frees nothing.
func (d *Detector) pruneLocked(now time.Time) {
	for addr, info := range d.addresses {
		if now.Sub(info.lastSeen) > d.cfg.NewAddressAge {
			d.txTotal -= info.count
			delete(d.addresses, addr)
		}
	}
	if len(d.addresses) >= d.cfg.MaxTrackedAddresses {
		d.addresses = make(map[string]*addressInfo)
		d.txTotal = 0
	}
}

func frequencyScore(ratio, floor, ceiling float64) float64 {
	if ratio <= floor {
		return 0
	}
	if ratio >= ceiling {
		return 1
	}
	return (ratio - floor) / (ceiling - floor)
}

func (d *Detector) valueScore(tx Transaction, age time.Duration) component {
	c := component{typ: TypeSecurityThreat}
	if age >= d.cfg.NewAddressAge || d.values.Len() == 0 {
		return c
	}
	avg := d.values.Mean()
	if avg <= 0 || tx.Value <= avg*d.cfg.LargeValueMultiplier {
		return c
	}

	ageScore := 1 - float64(age)/float64(d.cfg.NewAddressAge)
	valueScore := stats.Clamp(tx.Value/(avg*d.cfg.LargeValueMultiplier*2), 0, 1)
	c.score = stats.Clamp((ageScore+valueScore)/2, 0, 1)
	c.reason = fmt.Sprintf("new address %s (age %s) sent %.0fx the average value",
		Truncate(tx.Sender), age.Round(time.Second), tx.Value/avg)
	return c
}

func (d *Detector) throughputScore(current float64) component {
	s := d.throughput.Summary()
	if s.Count < d.cfg.MinSamples {
		return component{typ: TypePerformanceDegradation}
	}
	score, z := d.deviation(s, s.Mean-current, d.cfg.ThroughputThreshold)
	return component{
		score:  score,
		typ:    TypePerformanceDegradation,
		reason: fmt.Sprintf("throughput %.0f is %.1f sd below mean %.0f", current, z, s.Mean),
	}
}

func (d *Detector) latencyScore(current float64) component {
	s := d.latency.Summary()
	if s.Count < d.cfg.MinSamples {
		return component{typ: TypePerformanceDegradation}
	}
	score, z := d.deviation(s, current-s.Mean, d.cfg.LatencyThreshold)
	return component{
		score:  score,
		typ:    TypePerformanceDegradation,
		reason: fmt.Sprintf("latency %.1fms is %.1f sd above mean %.1fms", current, z, s.Mean),
	}
}

// Statistics returns the current counters.
func (d *Detector) Statistics() Statistics {
	d.mu.Lock()
	tracked := len(d.addresses)
	d.mu.Unlock()

	return Statistics{
		Checked:          d.checked.Load(),
		Total:            d.total.Load(),
		Transaction:      d.transaction.Load(),
		Security:         d.security.Load(),
		Performance:      d.performance.Load(),
		TrackedAddresses: tracked,
		SizeSamples:      d.sizes.Len(),
		ThroughputMean:   d.throughput.Mean(),
		LatencyMean:      d.latency.Mean(),
	}
}

// ResetStatistics clears counters and baselines.
func (d *Detector) ResetStatistics() {
	d.checked.Store(0)
	d.total.Store(0)
	d.transaction.Store(0)
	d.security.Store(0)
	d.performance.Store(0)

	d.sizes.Reset()
	d.values.Reset()
	d.throughput.Reset()
	d.latency.Reset()

	d.mu.Lock()
	d.addresses = make(map[string]*addressInfo)
	d.txTotal = 0
	d.mu.Unlock()
}

// Truncate shortens long addresses for log output.
func Truncate(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-4:]
}
