package metrics

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector() returned nil")
	}

	snap := c.Snapshot()
	if snap.Count != 0 {
		t.Errorf("Initial Count = %d, want 0", snap.Count)
	}
	if snap.FailRate != 0 {
		t.Errorf("Initial FailRate = %v, want 0", snap.FailRate)
	}
	if snap.Latency.P95 != 0 {
		t.Errorf("Initial P95 = %v, want 0", snap.Latency.P95)
	}
}

func TestCollector_Record(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	c.Record(NewSuccess(now, 10*time.Millisecond, 0, 1, 1000))
	c.Record(NewSuccess(now, 20*time.Millisecond, 1, 2, 2000))
	c.Record(NewFailure(now, 30*time.Millisecond, ReasonStatusMismatch, 2, 3, 500))

	snap := c.Snapshot()

	if snap.Count != 3 {
		t.Errorf("Count = %d, want 3", snap.Count)
	}
	if snap.Successes != 2 {
		t.Errorf("Successes = %d, want 2", snap.Successes)
	}
	if snap.Failures != 1 {
		t.Errorf("Failures = %d, want 1", snap.Failures)
	}
	if snap.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snap.TotalBytes)
	}
	if snap.FailuresByReason[ReasonStatusMismatch] != 1 {
		t.Errorf("FailuresByReason[StatusMismatch] = %d, want 1", snap.FailuresByReason[ReasonStatusMismatch])
	}
	require.Len(t, snap.Endpoints, 3)
	for i, ep := range snap.Endpoints {
		assert.Equal(t, i, ep.Index)
		assert.Equal(t, int64(1), ep.Count)
	}
	assert.Equal(t, int64(1), snap.Endpoints[2].Failures)
}

func TestCollector_Percentiles(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	for i := 1; i <= 100; i++ {
		c.Record(NewSuccess(now, time.Duration(i)*time.Millisecond, 0, uint64(i), 0))
	}

	snap := c.Snapshot()

	assert.InEpsilon(t, float64(50*time.Millisecond), float64(snap.Latency.P50), 0.01)
	assert.InEpsilon(t, float64(90*time.Millisecond), float64(snap.Latency.P90), 0.01)
	assert.InEpsilon(t, float64(95*time.Millisecond), float64(snap.Latency.P95), 0.01)
	assert.InEpsilon(t, float64(99*time.Millisecond), float64(snap.Latency.P99), 0.01)
	assert.InEpsilon(t, float64(time.Millisecond), float64(snap.Latency.Min), 0.01)
	assert.InEpsilon(t, float64(100*time.Millisecond), float64(snap.Latency.Max), 0.01)
	assert.InEpsilon(t, float64(50500*time.Microsecond), float64(snap.Latency.Mean), 0.01)
}

func TestCollector_SnapshotIdempotent(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	for i := 0; i < 50; i++ {
		c.Record(NewSuccess(now, time.Duration(i+1)*time.Millisecond, i%3, uint64(i), 10))
		if i%7 == 0 {
			c.Record(NewFailure(now, 5*time.Millisecond, ReasonTimeout, i%3, uint64(i), 0))
		}
	}
	c.RecordIteration()

	first := c.Snapshot()
	second := c.Snapshot()

	assert.Equal(t, first, second)

	// Snapshots are independent copies.
	first.FailuresByReason[ReasonTimeout] = 999
	first.Endpoints[0].Count = 999
	third := c.Snapshot()
	assert.Equal(t, second, third)
}

func TestCollector_RecordThenSnapshot(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	for i := 0; i < 99; i++ {
		c.Record(NewSuccess(now, time.Millisecond, 0, uint64(i), 0))
	}
	before := c.Snapshot()

	c.Record(NewSuccess(now, 2*time.Second, 0, 7, 0))
	after := c.Snapshot()

	assert.Equal(t, before.Count+1, after.Count)
	assert.InEpsilon(t, float64(2*time.Second), float64(after.Latency.Max), 0.01)
	assert.Less(t, after.Latency.P95, 10*time.Millisecond)
}

func TestCollector_FailRateConvergesToOne(t *testing.T) {
	for _, vus := range []int{1, 10, 100} {
		c := NewCollector()
		now := time.Now()

		for i := 0; i < vus*20; i++ {
			c.Record(NewFailure(now, time.Millisecond, ReasonConnectionError, 0, uint64(i%vus), 0))
		}

		snap := c.Snapshot()
		if math.Abs(snap.FailRate-1.0) > 1e-9 {
			t.Errorf("vus=%d: FailRate = %v, want 1.0", vus, snap.FailRate)
		}
	}
}

func TestCollector_ConcurrentRecord(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	const writers = 64
	const perWriter = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(vu uint64) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if i%10 == 0 {
					c.Record(NewFailure(now, time.Millisecond, ReasonTimeout, 0, vu, 0))
				} else {
					c.Record(NewSuccess(now, time.Millisecond, 0, vu, 1))
				}
			}
		}(uint64(w))
	}

	// A concurrent reader must never see more than was written.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			snap := c.Snapshot()
			if snap.Count > writers*perWriter {
				t.Errorf("Count = %d exceeds total writes", snap.Count)
			}
		}
	}()

	wg.Wait()
	<-done

	snap := c.Snapshot()
	assert.Equal(t, int64(writers*perWriter), snap.Count)
	assert.Equal(t, int64(writers*perWriter/10), snap.Failures)
	assert.InDelta(t, 0.1, snap.FailRate, 1e-9)
}

func TestCollector_ClampsOutOfRange(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	c.Record(NewSuccess(now, 0, 0, 0, 0))
	c.Record(NewSuccess(now, 3*time.Hour, 0, 0, 0))

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Count)
	assert.LessOrEqual(t, snap.Latency.Max, time.Hour+time.Hour/100)
}

func TestCollector_Iterations(t *testing.T) {
	c := NewCollector()
	c.RecordIteration()
	c.RecordIteration()

	if got := c.Snapshot().Iterations; got != 2 {
		t.Errorf("Iterations = %d, want 2", got)
	}
}

func TestReason_CheckName(t *testing.T) {
	r := CheckFailed("key is not empty")
	if r != "CheckFailed<key is not empty>" {
		t.Errorf("CheckFailed() = %q", r)
	}

	name, ok := r.CheckName()
	if !ok || name != "key is not empty" {
		t.Errorf("CheckName() = %q, %v", name, ok)
	}

	if _, ok := ReasonTimeout.CheckName(); ok {
		t.Error("CheckName() on Timeout should report false")
	}
}

func TestCollector_ExtraQuantiles(t *testing.T) {
	cfg := DefaultCollectorConfig()
	cfg.Quantiles = []float64{75, 99.9}
	c := NewCollectorWithConfig(cfg)
	now := time.Now()

	empty := c.Snapshot()
	v, ok := empty.Percentile(75)
	require.True(t, ok)
	assert.Zero(t, v)

	for i := 1; i <= 1000; i++ {
		c.Record(NewSuccess(now, time.Duration(i)*time.Millisecond, 0, uint64(i), 0))
	}

	snap := c.Snapshot()
	p75, ok := snap.Percentile(75)
	require.True(t, ok)
	assert.InEpsilon(t, float64(750*time.Millisecond), float64(p75), 0.01)

	p999, ok := snap.Percentile(99.9)
	require.True(t, ok)
	assert.InEpsilon(t, float64(999*time.Millisecond), float64(p999), 0.01)

	_, ok = snap.Percentile(42)
	assert.False(t, ok)
}

type countingObserver struct {
	mu      sync.Mutex
	samples []Sample
}

func (o *countingObserver) Observe(s Sample) {
	o.mu.Lock()
	o.samples = append(o.samples, s)
	o.mu.Unlock()
}

func TestCollector_Observer(t *testing.T) {
	obs := &countingObserver{}
	cfg := DefaultCollectorConfig()
	cfg.Observer = obs
	c := NewCollectorWithConfig(cfg)

	c.Record(NewSuccess(time.Now(), time.Millisecond, 0, 1, 0))
	c.Record(NewFailure(time.Now(), time.Millisecond, ReasonTimeout, 1, 2, 0))

	require.Len(t, obs.samples, 2)
	assert.Equal(t, ReasonTimeout, obs.samples[1].Reason)
}

func TestCollector_EmitBucketUsesGivenSnapshot(t *testing.T) {
	c := NewCollector()
	now := time.Now()
	c.Record(NewSuccess(now, 10*time.Millisecond, 0, 1, 4))
	c.Record(NewFailure(now, 20*time.Millisecond, ReasonTimeout, 0, 1, 0))

	snap := c.Snapshot()
	c.Record(NewSuccess(now, 30*time.Millisecond, 0, 1, 4))

	b := c.EmitBucket(now.Add(time.Second), time.Second, snap, 1, 1, PhaseSteady)
	assert.Equal(t, int64(2), b.TotalRequests)
	assert.Equal(t, int64(1), b.TotalFailures)
	assert.Equal(t, int64(3), b.IntervalRequests)

	fresh := c.EmitBucket(now.Add(2*time.Second), 2*time.Second, nil, 1, 1, PhaseSteady)
	assert.Equal(t, int64(3), fresh.TotalRequests)
	require.Len(t, c.TimeSeries(), 2)
}
