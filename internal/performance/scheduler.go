package performance

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jassi-singh/forgeload/internal/performance/metrics"
)

// VUScheduler owns the pool of Virtual Users for one run.
//
// It provides:
// - Spawning VUs with monotonically increasing IDs
// - Retiring the highest-ID running VUs first
// - Forced stop of VUs that outlive the grace period
//
// The VU ID counter is a field of the scheduler, so every run starts at ID 1.
type VUScheduler struct {
	body      Body
	collector *metrics.Collector
	opts      VUOptions
	logger    logrus.FieldLogger

	mu sync.Mutex

	// Running VUs in ascending ID order
	running []*VirtualUser

	// Every VU that has not exited yet, including stopping ones
	live map[uint64]*VirtualUser

	nextVUID uint64
	peak     int

	wg sync.WaitGroup
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(body Body, collector *metrics.Collector, opts VUOptions) *VUScheduler {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
		opts.Logger = l
	}

	return &VUScheduler{
		body:      body,
		collector: collector,
		opts:      opts,
		logger:    logger,
		live:      make(map[uint64]*VirtualUser),
		nextVUID:  1,
	}
}

// Reconcile spawns or retires VUs so the number of running VUs equals desired.
//
// New VUs take the next unused ID and start on their own goroutine with ctx.
// Surplus VUs are marked Stopping from the highest ID down; they finish the
// iteration they are in and then exit.
//
// Returns the number of VUs spawned and retired.
func (s *VUScheduler) Reconcile(ctx context.Context, desired int) (spawned, retired int) {
	if desired < 0 {
		desired = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.running)

	switch {
	case desired > current:
		for i := current; i < desired; i++ {
			vu := NewVirtualUser(s.nextVUID, s.body, s.collector, s.opts)
			s.nextVUID++
			s.running = append(s.running, vu)
			s.live[vu.ID] = vu
			s.wg.Add(1)
			go s.runVU(ctx, vu)
			spawned++
		}
	case desired < current:
		for i := current - 1; i >= desired; i-- {
			s.running[i].RequestStop()
			s.running[i] = nil
			retired++
		}
		s.running = s.running[:desired]
	}

	if n := len(s.live); n > s.peak {
		s.peak = n
	}

	if spawned > 0 || retired > 0 {
		s.logger.WithFields(logrus.Fields{
			"spawned": spawned,
			"retired": retired,
			"running": len(s.running),
		}).Debug("Reconciled VUs")
	}

	return spawned, retired
}

// runVU runs a VU and drops it from the live set when it exits.
func (s *VUScheduler) runVU(ctx context.Context, vu *VirtualUser) {
	defer s.wg.Done()

	vu.Run(ctx)

	s.mu.Lock()
	delete(s.live, vu.ID)
	s.mu.Unlock()
}

// RunningCount returns the number of VUs in the running state.
func (s *VUScheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// LiveCount returns the number of VUs that have not exited, stopping ones included.
func (s *VUScheduler) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// PeakVUs returns the highest live VU count seen by Reconcile.
func (s *VUScheduler) PeakVUs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// LiveVUs returns the VUs that have not exited, in no particular order.
func (s *VUScheduler) LiveVUs() []*VirtualUser {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*VirtualUser, 0, len(s.live))
	for _, vu := range s.live {
		result = append(result, vu)
	}
	return result
}

// StopAll asks every running VU to stop after its current iteration.
func (s *VUScheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vu := range s.running {
		vu.RequestStop()
	}
	s.running = nil
}

// WaitForAllVUs waits until every VU has exited or the timeout expires.
//
// Returns true if all VUs exited in time.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// ForceStopAll cancels every VU that is still live and waits up to wait for
// them to exit. Their in-flight requests observe a cancelled context.
//
// A body that ignores its context can keep a VU from exiting. Such VUs are
// abandoned: they stay live until their body returns, and the caller moves on.
//
// Returns the number of VUs that had to be forced and how many of those were
// still running when wait expired.
func (s *VUScheduler) ForceStopAll(wait time.Duration) (forced, abandoned int) {
	for _, vu := range s.LiveVUs() {
		if vu.ForceStop() {
			forced++
		}
	}

	s.mu.Lock()
	s.running = nil
	s.mu.Unlock()

	if !s.WaitForAllVUs(wait) {
		abandoned = s.LiveCount()
	}
	return forced, abandoned
}
