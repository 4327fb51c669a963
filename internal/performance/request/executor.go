package request

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jassi-singh/forgeload/internal/performance"
	"github.com/jassi-singh/forgeload/internal/performance/config"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
)

// Options configures an Executor.
type Options struct {
	// Endpoints are the full request URLs; VU n uses Endpoints[n % len]
	Endpoints []string

	// Checks run in order against every response; the first failure decides
	// the reason
	Checks []*Check

	// Timeout bounds each request (0 = only the client's own timeout)
	Timeout time.Duration

	// Limiter caps the global request rate (nil = unlimited)
	Limiter *rate.Limiter

	// LogSuccessBody logs the body of every successful response
	LogSuccessBody bool
	LogPrefix      string

	Logger logrus.FieldLogger
}

// Executor is the default scenario body: one timed GET per iteration.
type Executor struct {
	client    Client
	collector *metrics.Collector
	opts      Options
	logger    logrus.FieldLogger

	// statusChecked is set when a status check decides which codes pass;
	// otherwise anything outside 2xx fails.
	statusChecked bool
}

// NewExecutor creates an executor. At least one endpoint is required.
func NewExecutor(client Client, collector *metrics.Collector, opts Options) (*Executor, error) {
	if client == nil {
		return nil, errors.New("request executor needs a client")
	}
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("request executor needs at least one endpoint")
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	statusChecked := false
	for _, c := range opts.Checks {
		if c.Type == config.CheckStatus {
			statusChecked = true
		}
	}

	return &Executor{
		client:        client,
		collector:     collector,
		opts:          opts,
		logger:        logger,
		statusChecked: statusChecked,
	}, nil
}

// EndpointFor returns the endpoint index used by the VU with the given ID.
func (e *Executor) EndpointFor(vuID uint64) int {
	return int(vuID % uint64(len(e.opts.Endpoints)))
}

// Execute issues one request for vu and records exactly one sample.
func (e *Executor) Execute(ctx context.Context, vu *performance.VirtualUser) metrics.Sample {
	idx := e.EndpointFor(vu.ID)
	vu.SetCurrentEndpoint(idx)
	url := e.opts.Endpoints[idx]

	sample := e.do(ctx, vu.ID, idx, url)
	e.collector.Record(sample)
	return sample
}

func (e *Executor) do(ctx context.Context, vuID uint64, idx int, url string) metrics.Sample {
	if e.opts.Limiter != nil {
		if err := e.opts.Limiter.Wait(ctx); err != nil {
			return metrics.NewFailure(time.Now(), 0, metrics.ReasonCancelled, idx, vuID, 0)
		}
	}

	reqCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	status, body, err := e.client.Get(reqCtx, url)
	elapsed := time.Since(start)
	size := int64(len(body))

	if err != nil {
		return metrics.NewFailure(start, elapsed, classify(ctx, err), idx, vuID, size)
	}

	if !e.statusChecked && (status < 200 || status > 299) {
		return metrics.NewFailure(start, elapsed, metrics.ReasonStatusMismatch, idx, vuID, size)
	}

	resp := Response{Status: status, Body: body}
	for _, c := range e.opts.Checks {
		if !c.Pass(resp) {
			return metrics.NewFailure(start, elapsed, c.Reason(), idx, vuID, size)
		}
	}

	if e.opts.LogSuccessBody {
		e.logger.WithFields(logrus.Fields{
			"vu":       vuID,
			"endpoint": url,
		}).Info(e.opts.LogPrefix + string(body))
	}

	return metrics.NewSuccess(start, elapsed, idx, vuID, size)
}

// classify maps a transport error to a failure reason. parent is the context
// the VU passed in; a cancelled parent means the VU was stopped mid-request.
func classify(parent context.Context, err error) metrics.Reason {
	if errors.Is(parent.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return metrics.ReasonCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return metrics.ReasonTimeout
	}
	return metrics.ReasonConnectionError
}

// RunIteration implements performance.Body.
func (e *Executor) RunIteration(ctx context.Context, vu *performance.VirtualUser) error {
	s := e.Execute(ctx, vu)
	if s.Failed() {
		return fmt.Errorf("request to endpoint %d failed: %s", s.EndpointIndex, s.Reason)
	}
	return nil
}

var _ performance.Body = (*Executor)(nil)

// NewLimiter returns a limiter for a global requests-per-second cap, or nil
// when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
