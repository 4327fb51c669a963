package metrics

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector accumulates samples from many virtual users.
//
// Samples are spread across a fixed set of shards keyed by VU id. Each shard
// owns its own HDR histogram and counters behind a short mutex, so writers on
// different shards never contend. Snapshot merges the shards into a fresh
// histogram; the merge holds one shard lock at a time.
//
// Memory is bounded by the histogram range, not by run length.
type Collector struct {
	config CollectorConfig
	shards []*shard

	iterations atomic.Int64

	buckets *TimeBucketStore
}

// CollectorConfig contains configuration for the collector.
type CollectorConfig struct {
	// Shards is the number of independent histograms (default: 32)
	Shards int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// MaxBuckets is the maximum number of time buckets to retain (default: 3600)
	MaxBuckets int

	// Quantiles are extra percentiles (0-100) reported in Snapshot.Percentiles
	Quantiles []float64

	// Observer, if set, sees every sample after it is recorded
	Observer Observer
}

// Observer receives every recorded sample. It is called from VU goroutines
// and must be safe for concurrent use.
type Observer interface {
	Observe(s Sample)
}

// DefaultCollectorConfig returns the default configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Shards:           32,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
		MaxBuckets:       3600,
	}
}

type shard struct {
	mu        sync.Mutex
	hist      *hdrhistogram.Histogram
	count     int64
	failures  int64
	bytes     int64
	reasons   map[Reason]int64
	endpoints map[int]*EndpointStats
}

// NewCollector creates a collector with the default configuration.
func NewCollector() *Collector {
	return NewCollectorWithConfig(DefaultCollectorConfig())
}

// NewCollectorWithConfig creates a collector with a custom configuration.
// Zero fields fall back to the defaults.
func NewCollectorWithConfig(config CollectorConfig) *Collector {
	def := DefaultCollectorConfig()
	if config.Shards <= 0 {
		config.Shards = def.Shards
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = def.MaxBuckets
	}

	c := &Collector{
		config:  config,
		shards:  make([]*shard, config.Shards),
		buckets: NewTimeBucketStore(config.MaxBuckets),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			hist:      c.newHistogram(),
			reasons:   make(map[Reason]int64),
			endpoints: make(map[int]*EndpointStats),
		}
	}
	return c
}

func (c *Collector) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(c.config.HistogramMin, c.config.HistogramMax, c.config.HistogramSigFigs)
}

// Record adds one sample. It is safe for concurrent use and does a constant
// amount of work per call.
func (c *Collector) Record(s Sample) {
	micros := s.Duration.Microseconds()
	if micros < c.config.HistogramMin {
		micros = c.config.HistogramMin
	}
	if micros > c.config.HistogramMax {
		micros = c.config.HistogramMax
	}

	failed := s.Failed()
	sh := c.shards[s.VUID%uint64(len(c.shards))]

	sh.mu.Lock()
	// RecordValue only fails for out-of-range values, which are clamped above.
	_ = sh.hist.RecordValue(micros)
	sh.count++
	sh.bytes += s.BytesReceived
	ep, ok := sh.endpoints[s.EndpointIndex]
	if !ok {
		ep = &EndpointStats{Index: s.EndpointIndex}
		sh.endpoints[s.EndpointIndex] = ep
	}
	ep.Count++
	if failed {
		sh.failures++
		sh.reasons[s.Reason]++
		ep.Failures++
	}
	sh.mu.Unlock()

	c.buckets.RecordRequest(!failed)

	if c.config.Observer != nil {
		c.config.Observer.Observe(s)
	}
}

// RecordIteration counts one completed scenario iteration.
func (c *Collector) RecordIteration() {
	c.iterations.Add(1)
}

// Snapshot merges all shards into a fresh, independent Snapshot. Two calls
// with no Record in between return equal values.
func (c *Collector) Snapshot() *Snapshot {
	merged := c.newHistogram()
	snap := &Snapshot{
		FailuresByReason: make(map[Reason]int64),
	}
	endpoints := make(map[int]*EndpointStats)

	for _, sh := range c.shards {
		sh.mu.Lock()
		merged.Merge(sh.hist)
		snap.Count += sh.count
		snap.Failures += sh.failures
		snap.TotalBytes += sh.bytes
		for r, n := range sh.reasons {
			snap.FailuresByReason[r] += n
		}
		for idx, ep := range sh.endpoints {
			agg, ok := endpoints[idx]
			if !ok {
				agg = &EndpointStats{Index: idx}
				endpoints[idx] = agg
			}
			agg.Count += ep.Count
			agg.Failures += ep.Failures
		}
		sh.mu.Unlock()
	}

	snap.Successes = snap.Count - snap.Failures
	if snap.Count > 0 {
		snap.FailRate = float64(snap.Failures) / float64(snap.Count)
	}
	snap.Iterations = c.iterations.Load()
	snap.Latency = latencyStats(merged)
	if len(c.config.Quantiles) > 0 {
		snap.Percentiles = make(map[string]time.Duration, len(c.config.Quantiles))
		for _, q := range c.config.Quantiles {
			var v time.Duration
			if merged.TotalCount() > 0 {
				v = micros(merged.ValueAtQuantile(q))
			}
			snap.Percentiles[QuantileKey(q)] = v
		}
	}

	snap.Endpoints = make([]EndpointStats, 0, len(endpoints))
	for _, ep := range endpoints {
		snap.Endpoints = append(snap.Endpoints, *ep)
	}
	sort.Slice(snap.Endpoints, func(i, j int) bool {
		return snap.Endpoints[i].Index < snap.Endpoints[j].Index
	})

	return snap
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:  micros(h.Min()),
		Max:  micros(h.Max()),
		Mean: time.Duration(h.Mean() * float64(time.Microsecond)),
		P50:  micros(h.ValueAtQuantile(50)),
		P90:  micros(h.ValueAtQuantile(90)),
		P95:  micros(h.ValueAtQuantile(95)),
		P99:  micros(h.ValueAtQuantile(99)),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// QuantileKey formats a percentile for use as a Snapshot.Percentiles key.
func QuantileKey(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// EmitBucket closes the current time-series interval. Running totals come
// from snap; a nil snap takes a fresh one.
func (c *Collector) EmitBucket(now time.Time, elapsed time.Duration, snap *Snapshot, activeVUs, targetVUs int, phase Phase) *TimeBucket {
	if snap == nil {
		snap = c.Snapshot()
	}
	return c.buckets.CreateBucket(now, elapsed, snap, activeVUs, targetVUs, phase)
}

// TimeSeries returns all retained time buckets in chronological order.
func (c *Collector) TimeSeries() []*TimeBucket {
	return c.buckets.GetBuckets()
}

// LatestBucket returns the most recent time bucket, or nil.
func (c *Collector) LatestBucket() *TimeBucket {
	return c.buckets.GetLatestBucket()
}

// Snapshot is a point-in-time view of everything recorded so far. It holds no
// wall-clock fields, so equal inputs produce equal snapshots.
type Snapshot struct {
	Count            int64                    `json:"count"`
	Successes        int64                    `json:"successes"`
	Failures         int64                    `json:"failures"`
	FailRate         float64                  `json:"failRate"`
	TotalBytes       int64                    `json:"totalBytes"`
	Iterations       int64                    `json:"iterations"`
	Latency          LatencyStats             `json:"latency"`
	Percentiles      map[string]time.Duration `json:"percentiles,omitempty"`
	FailuresByReason map[Reason]int64         `json:"failuresByReason,omitempty"`
	Endpoints        []EndpointStats          `json:"endpoints,omitempty"`
}

// Percentile returns the latency at percentile q (0-100) if it was computed.
func (s *Snapshot) Percentile(q float64) (time.Duration, bool) {
	switch q {
	case 50:
		return s.Latency.P50, true
	case 90:
		return s.Latency.P90, true
	case 95:
		return s.Latency.P95, true
	case 99:
		return s.Latency.P99, true
	case 100:
		return s.Latency.Max, true
	}
	v, ok := s.Percentiles[QuantileKey(q)]
	return v, ok
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
}

// EndpointStats counts samples per endpoint index.
type EndpointStats struct {
	Index    int   `json:"index"`
	Count    int64 `json:"count"`
	Failures int64 `json:"failures"`
}
