// Package performance provides the virtual-user runtime of the load engine.
package performance

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jassi-singh/forgeload/internal/performance/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateRunning indicates the VU is looping over iterations.
	VUStateRunning VUState = iota
	// VUStateStopping indicates the VU will exit after its current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU has exited or was force-stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Body is the work a VU performs once per iteration.
//
// Implementations record their own samples. A returned error is logged and
// the VU moves on to the next iteration; it never ends the VU.
type Body interface {
	RunIteration(ctx context.Context, vu *VirtualUser) error
}

// BodyFunc adapts a function to the Body interface.
type BodyFunc func(ctx context.Context, vu *VirtualUser) error

// RunIteration calls f(ctx, vu).
func (f BodyFunc) RunIteration(ctx context.Context, vu *VirtualUser) error {
	return f(ctx, vu)
}

// VirtualUser is a single simulated user running the scenario body in a loop.
//
// The VU only reads its own ID and writes outcomes. Its state is changed by
// the VUScheduler through RequestStop and ForceStop.
type VirtualUser struct {
	// Unique identifier for this VU, starting at 1
	ID uint64

	body      Body
	collector *metrics.Collector
	logger    logrus.FieldLogger

	thinkTime   time.Duration
	thinkJitter time.Duration

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Closed when the VU is asked to stop after its iteration
	stopCh   chan struct{}
	stopOnce sync.Once

	// Closed when Run returns
	doneCh chan struct{}

	// Cancels the in-flight iteration on a forced stop
	cancelMu sync.Mutex
	cancel   context.CancelFunc
	forced   bool

	iteration       atomic.Int64
	currentEndpoint atomic.Int64
}

// VUOptions configures the pacing and logging of a VirtualUser.
type VUOptions struct {
	// ThinkTime is the pause after every iteration
	ThinkTime time.Duration

	// ThinkTimeJitter adds a random extra pause in [0, jitter)
	ThinkTimeJitter time.Duration

	Logger logrus.FieldLogger
}

// NewVirtualUser creates a new Virtual User in the running state.
func NewVirtualUser(id uint64, body Body, collector *metrics.Collector, opts VUOptions) *VirtualUser {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	vu := &VirtualUser{
		ID:          id,
		body:        body,
		collector:   collector,
		logger:      logger.WithField("vu", id),
		thinkTime:   opts.ThinkTime,
		thinkJitter: opts.ThinkTimeJitter,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	vu.currentEndpoint.Store(-1)
	return vu
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started so far.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// CurrentEndpoint returns the endpoint index of the latest request, or -1.
func (vu *VirtualUser) CurrentEndpoint() int {
	return int(vu.currentEndpoint.Load())
}

// SetCurrentEndpoint is called by the request body when it picks an endpoint.
func (vu *VirtualUser) SetCurrentEndpoint(idx int) {
	vu.currentEndpoint.Store(int64(idx))
}

// Collector returns the collector the VU records into.
func (vu *VirtualUser) Collector() *metrics.Collector {
	return vu.collector
}

// Run loops over iterations until the VU is stopped or ctx is done.
//
// Each pass runs one iteration, then pauses for the think time. A Stopping
// VU exits after the iteration it is in; a Stopped VU exits at once and skips
// the pause.
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.markStopped()

	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	vu.cancelMu.Lock()
	if vu.forced {
		vu.cancelMu.Unlock()
		return
	}
	vu.cancel = cancel
	vu.cancelMu.Unlock()

	for {
		if vu.GetState() != VUStateRunning || iterCtx.Err() != nil {
			return
		}

		vu.runIteration(iterCtx)

		if vu.GetState() != VUStateRunning || iterCtx.Err() != nil {
			return
		}

		if !vu.think(iterCtx) {
			return
		}
	}
}

// runIteration runs the body once, isolating the VU from body failures.
func (vu *VirtualUser) runIteration(ctx context.Context) {
	n := vu.iteration.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			vu.logger.WithFields(logrus.Fields{
				"iteration": n,
				"panic":     fmt.Sprint(r),
			}).Error("Iteration panicked")
			if vu.collector != nil {
				vu.collector.Record(metrics.NewFailure(start, time.Since(start), metrics.ReasonPanic, vu.CurrentEndpoint(), vu.ID, 0))
			}
		}
		if vu.collector != nil {
			vu.collector.RecordIteration()
		}
	}()

	if err := vu.body.RunIteration(ctx, vu); err != nil {
		vu.logger.WithError(err).WithField("iteration", n).Debug("Iteration failed")
	}
}

// think pauses between iterations. It returns false if the VU should exit.
func (vu *VirtualUser) think(ctx context.Context) bool {
	wait := vu.thinkTime
	if vu.thinkJitter > 0 {
		wait += time.Duration(rand.Int63n(int64(vu.thinkJitter)))
	}
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop asks the VU to exit once its current iteration finishes.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) {
		vu.stopOnce.Do(func() { close(vu.stopCh) })
	}
}

// ForceStop marks the VU stopped and cancels its in-flight iteration.
// It returns false if the VU had already exited.
func (vu *VirtualUser) ForceStop() bool {
	select {
	case <-vu.doneCh:
		return false
	default:
	}

	vu.state.Store(int32(VUStateStopped))
	vu.stopOnce.Do(func() { close(vu.stopCh) })

	vu.cancelMu.Lock()
	vu.forced = true
	if vu.cancel != nil {
		vu.cancel()
	}
	vu.cancelMu.Unlock()
	return true
}

// Done is closed once Run has returned.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to exit.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	close(vu.doneCh)
}
