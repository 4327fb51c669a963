package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase labels a time bucket with where the load curve was.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)

// TimeBucket is one interval of the run's time series.
type TimeBucket struct {
	Timestamp         time.Time     `json:"timestamp"`
	Elapsed           time.Duration `json:"elapsed"`
	TotalRequests     int64         `json:"totalRequests"`
	TotalFailures     int64         `json:"totalFailures"`
	IntervalRequests  int64         `json:"intervalRequests"`
	IntervalFailures  int64         `json:"intervalFailures"`
	IntervalRPS       float64       `json:"intervalRps"`
	IntervalErrorRate float64       `json:"intervalErrorRate"`
	LatencyP95        time.Duration `json:"latencyP95"`
	ActiveVUs         int           `json:"activeVUs"`
	TargetVUs         int           `json:"targetVUs"`
	Phase             Phase         `json:"phase"`
}

// TimeBucketStore keeps the most recent buckets in a ring buffer.
//
// Interval counters are updated with atomics from the request path; the ring
// itself is only touched when a bucket is emitted or read.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests atomic.Int64
	currentFailures atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
	}
}

// RecordRequest adds one request to the open interval.
func (tbs *TimeBucketStore) RecordRequest(success bool) {
	tbs.currentRequests.Add(1)
	if !success {
		tbs.currentFailures.Add(1)
	}
}

// CreateBucket closes the open interval and appends it to the ring.
func (tbs *TimeBucketStore) CreateBucket(now time.Time, elapsed time.Duration, totals *Snapshot, activeVUs, targetVUs int, phase Phase) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	intervalRequests := tbs.currentRequests.Swap(0)
	intervalFailures := tbs.currentFailures.Swap(0)

	var seconds float64
	if !tbs.lastBucketTime.IsZero() {
		seconds = now.Sub(tbs.lastBucketTime).Seconds()
	} else {
		seconds = elapsed.Seconds()
	}
	if seconds <= 0 {
		seconds = 1.0
	}

	bucket := &TimeBucket{
		Timestamp:        now,
		Elapsed:          elapsed,
		TotalRequests:    totals.Count,
		TotalFailures:    totals.Failures,
		IntervalRequests: intervalRequests,
		IntervalFailures: intervalFailures,
		IntervalRPS:      float64(intervalRequests) / seconds,
		LatencyP95:       totals.Latency.P95,
		ActiveVUs:        activeVUs,
		TargetVUs:        targetVUs,
		Phase:            phase,
	}
	if intervalRequests > 0 {
		bucket.IntervalErrorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// GetBuckets returns a copy of all buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		result[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}
	return result
}

// GetLatestBucket returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) GetLatestBucket() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	return tbs.buckets[(tbs.head-1+tbs.maxBuckets)%tbs.maxBuckets]
}

// Count returns the number of buckets stored.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}
