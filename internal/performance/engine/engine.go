// Package engine drives a load test from start to summary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jassi-singh/forgeload/internal/performance"
	"github.com/jassi-singh/forgeload/internal/performance/executor"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
	"github.com/jassi-singh/forgeload/internal/performance/threshold"
)

// State is the lifecycle state of an Engine.
type State int32

const (
	StateIdle State = iota
	StateRamping
	StateDraining
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRamping:
		return "ramping"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

const (
	DefaultTickInterval   = 100 * time.Millisecond
	DefaultBucketInterval = time.Second
	DefaultForceStopWait  = time.Second
)

// BodyFactory builds the per-iteration work once the run's collector exists.
type BodyFactory func(collector *metrics.Collector) (performance.Body, error)

// Reporter receives a Progress every bucket interval. Reports are delivered
// from a single goroutine; a slow reporter drops updates instead of delaying
// the control loop.
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(p Progress)

// Report calls f(p).
func (f ReporterFunc) Report(p Progress) { f(p) }

// Progress is the live view of a run.
type Progress struct {
	RunID     string
	State     State
	Stage     executor.Stats
	ActiveVUs int
	Snapshot  *metrics.Snapshot
	Bucket    *metrics.TimeBucket
	Verdicts  []threshold.Verdict
}

// Options tunes an Engine. Zero values fall back to defaults.
type Options struct {
	// TickInterval is how often the VU count is reconciled with the curve
	TickInterval time.Duration

	// BucketInterval is how often a time bucket is emitted and thresholds
	// are evaluated
	BucketInterval time.Duration

	// ForceStopWait bounds how long force-stopped VUs get to exit before
	// the run completes without them
	ForceStopWait time.Duration

	// Observer sees every recorded sample (e.g. a Prometheus exporter)
	Observer metrics.Observer

	Reporters []Reporter

	Logger logrus.FieldLogger
}

// Engine runs one Plan once.
//
// It coordinates:
//   - the stage curve, reconciled against the VU pool every tick
//   - metric collection and time buckets
//   - threshold evaluation, including abort-on-fail
//   - a bounded drain once the curve ends
//
// Example usage:
//
//	plan, _ := engine.PlanFromConfig(cfg)
//	eng, _ := engine.New(plan, bodyFactory, engine.Options{})
//	summary, _ := eng.Run(ctx)
//	os.Exit(int(summary.ExitCode()))
type Engine struct {
	plan   *Plan
	opts   Options
	logger logrus.FieldLogger

	runID     string
	collector *metrics.Collector
	evaluator *threshold.Evaluator
	scheduler *performance.VUScheduler

	state atomic.Int32

	startTime   time.Time
	lastBucket  time.Time
	aborted     bool
	interrupted bool
	forced      int
	abandoned   int
}

// New builds an engine for plan. No VU is started until Run.
func New(plan *Plan, newBody BodyFactory, opts Options) (*Engine, error) {
	if err := plan.validate(); err != nil {
		return nil, configError(err)
	}
	if newBody == nil {
		return nil, errors.New("engine needs a body factory")
	}

	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.BucketInterval <= 0 {
		opts.BucketInterval = DefaultBucketInterval
	}
	if opts.ForceStopWait <= 0 {
		opts.ForceStopWait = DefaultForceStopWait
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	runID := uuid.NewString()
	logger = logger.WithField("run", runID)

	evaluator := threshold.NewEvaluator(plan.Thresholds, plan.ThresholdMode)

	collectorCfg := metrics.DefaultCollectorConfig()
	collectorCfg.Quantiles = evaluator.Quantiles()
	collectorCfg.Observer = opts.Observer
	collector := metrics.NewCollectorWithConfig(collectorCfg)

	body, err := newBody(collector)
	if err != nil {
		return nil, configError(fmt.Errorf("failed to build scenario body: %w", err))
	}

	scheduler := performance.NewVUScheduler(body, collector, performance.VUOptions{
		ThinkTime:       plan.ThinkTime,
		ThinkTimeJitter: plan.ThinkTimeJitter,
		Logger:          logger,
	})

	return &Engine{
		plan:      plan,
		opts:      opts,
		logger:    logger,
		runID:     runID,
		collector: collector,
		evaluator: evaluator,
		scheduler: scheduler,
	}, nil
}

// RunID identifies this run in logs and the summary.
func (e *Engine) RunID() string {
	return e.runID
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// LiveVUs returns the number of VUs that have not exited yet.
func (e *Engine) LiveVUs() int {
	return e.scheduler.LiveCount()
}

// Collector returns the collector samples are recorded into.
func (e *Engine) Collector() *metrics.Collector {
	return e.collector
}

// Run executes the plan and returns the run summary.
//
// The run ramps VUs along the stage curve until the curve ends, a threshold
// marked abortOnFail fails, or ctx is cancelled. It then drains: running VUs
// are asked to stop and given the graceful ramp-down period to finish, after
// which the rest are force-stopped. Thresholds are finalized on the complete
// data set before Run returns.
//
// An engine runs once; a second call returns an error.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRamping)) {
		return nil, fmt.Errorf("engine is already %s", e.State())
	}

	e.startTime = time.Now()
	e.lastBucket = e.startTime

	e.logger.WithFields(logrus.Fields{
		"name":      e.plan.Name,
		"endpoints": len(e.plan.Endpoints),
		"stages":    len(e.plan.Stages.Stages()),
		"duration":  e.plan.Stages.TotalDuration().String(),
		"max_vus":   e.plan.Stages.MaxTarget(),
	}).Info("Starting load test")

	// VUs get their own context so cancelling ctx drains them gracefully
	// instead of cutting every in-flight request.
	vuCtx, cancelVUs := context.WithCancel(context.Background())
	defer cancelVUs()

	progress := make(chan Progress, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(progress)
		e.ramp(gctx, vuCtx, progress)
		e.drain(progress)
		return nil
	})
	g.Go(func() error {
		for p := range progress {
			for _, r := range e.opts.Reporters {
				r.Report(p)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := e.finish()
	e.state.Store(int32(StateCompleted))
	return summary, nil
}

// ramp reconciles the VU pool with the curve every tick until the curve ends.
func (e *Engine) ramp(ctx, vuCtx context.Context, progress chan<- Progress) {
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	stage := -1
	for {
		now := time.Now()
		elapsed := now.Sub(e.startTime)
		if e.plan.Stages.Done(elapsed) {
			return
		}

		target := e.plan.Stages.Advance(elapsed)
		e.scheduler.Reconcile(vuCtx, target)

		if idx := e.plan.Stages.StageAt(elapsed); idx != stage {
			stage = idx
			s := e.plan.Stages.Stages()[idx]
			e.logger.WithFields(logrus.Fields{
				"stage":    s.Name,
				"target":   s.Target,
				"duration": s.Duration.String(),
			}).Info("Stage started")
		}

		if now.Sub(e.lastBucket) >= e.opts.BucketInterval {
			e.emit(now, e.plan.Stages.PhaseAt(elapsed), target, progress)
			if e.evaluator.ShouldAbort() {
				e.aborted = true
				e.logger.Warn("Threshold with abortOnFail failed, stopping run")
				return
			}
		}

		select {
		case <-ctx.Done():
			e.interrupted = true
			e.logger.Warn("Run interrupted, draining VUs")
			return
		case <-ticker.C:
		}
	}
}

// drain stops every VU within the graceful ramp-down period and force-stops
// the rest.
func (e *Engine) drain(progress chan<- Progress) {
	e.state.Store(int32(StateDraining))
	e.scheduler.StopAll()

	grace := e.plan.GracefulRampDown
	deadline := time.Now().Add(grace)

	e.logger.WithFields(logrus.Fields{
		"live_vus": e.scheduler.LiveCount(),
		"grace":    grace.String(),
	}).Debug("Draining VUs")

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	for e.scheduler.LiveCount() > 0 && time.Now().Before(deadline) {
		now := <-ticker.C
		if now.Sub(e.lastBucket) >= e.opts.BucketInterval {
			e.emit(now, metrics.PhaseDraining, 0, progress)
		}
	}

	if e.scheduler.LiveCount() > 0 {
		e.forced, e.abandoned = e.scheduler.ForceStopAll(e.opts.ForceStopWait)
		if e.forced > 0 {
			e.logger.WithField("forced", e.forced).Warn("Force-stopped VUs after graceful ramp-down")
		}
		if e.abandoned > 0 {
			e.logger.WithFields(logrus.Fields{
				"abandoned": e.abandoned,
				"wait":      e.opts.ForceStopWait.String(),
			}).Error("VUs ignored cancellation, completing run without them")
		}
		return
	}

	// Every VU has left the live set; wait for their goroutines to return.
	e.scheduler.WaitForAllVUs(grace + e.opts.TickInterval)
}

// emit records a time bucket, evaluates thresholds and publishes progress.
func (e *Engine) emit(now time.Time, phase metrics.Phase, target int, progress chan<- Progress) {
	e.lastBucket = now
	elapsed := now.Sub(e.startTime)

	snap := e.collector.Snapshot()
	bucket := e.collector.EmitBucket(now, elapsed, snap, e.scheduler.LiveCount(), target, phase)
	verdicts := e.evaluator.Evaluate(snap, elapsed)

	p := Progress{
		RunID:     e.runID,
		State:     e.State(),
		Stage:     e.plan.Stages.StatsAt(elapsed),
		ActiveVUs: bucket.ActiveVUs,
		Snapshot:  snap,
		Bucket:    bucket,
		Verdicts:  verdicts,
	}

	select {
	case progress <- p:
	default:
	}
}

// finish freezes thresholds on the final data and builds the summary.
func (e *Engine) finish() *Summary {
	end := time.Now()
	elapsed := end.Sub(e.startTime)

	snap := e.collector.Snapshot()
	e.collector.EmitBucket(end, elapsed, snap, e.scheduler.LiveCount(), 0, metrics.PhaseDone)
	verdicts := e.evaluator.Finalize(snap, elapsed)

	summary := &Summary{
		RunID:         e.runID,
		Name:          e.plan.Name,
		Endpoints:     e.plan.Endpoints,
		StartTime:     e.startTime,
		EndTime:       end,
		Duration:      elapsed,
		Metrics:       snap,
		TimeSeries:    e.collector.TimeSeries(),
		Thresholds:    verdicts,
		ThresholdMode: e.evaluator.Mode(),
		Passed:        e.evaluator.Passed(),
		Aborted:       e.aborted,
		Interrupted:   e.interrupted,
		ForcedStops:   e.forced,
		AbandonedVUs:  e.abandoned,
		PeakVUs:       e.scheduler.PeakVUs(),
	}

	entry := e.logger.WithFields(logrus.Fields{
		"requests":  snap.Count,
		"fail_rate": fmt.Sprintf("%.4f", snap.FailRate),
		"p95":       snap.Latency.P95.String(),
		"passed":    summary.Passed,
	})
	if summary.Passed {
		entry.Info("Load test completed")
	} else {
		entry.Warn("Load test completed with failed thresholds")
	}

	return summary
}
