// Package exporter publishes live run metrics for Prometheus to scrape.
package exporter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jassi-singh/forgeload/internal/performance/engine"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
	"github.com/jassi-singh/forgeload/internal/performance/threshold"
)

const namespace = "forgeload"

// Exporter mirrors samples and progress into Prometheus metrics.
//
// It is a metrics.Observer for per-request series and an engine.Reporter
// for VU and threshold gauges. Each Exporter has its own registry, so
// several can live in one process (tests) without clashing.
type Exporter struct {
	registry *prometheus.Registry
	logger   logrus.FieldLogger

	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      prometheus.Counter
	activeVUs  prometheus.Gauge
	targetVUs  prometheus.Gauge
	thresholds *prometheus.GaugeVec
}

// New creates an exporter with a fresh registry.
func New(logger logrus.FieldLogger) *Exporter {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Exporter{
		registry: reg,
		logger:   logger,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_reqs_total",
			Help:      "Requests issued, by endpoint, outcome and failure reason.",
		}, []string{"endpoint", "outcome", "reason"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_req_duration_seconds",
			Help:      "Request latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"endpoint"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_received_bytes_total",
			Help:      "Response body bytes received.",
		}),
		activeVUs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus",
			Help:      "Virtual users that have not exited.",
		}),
		targetVUs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus_target",
			Help:      "Virtual users the stage curve asks for.",
		}),
		thresholds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_passing",
			Help:      "1 if the threshold currently passes, 0 otherwise.",
		}, []string{"threshold"}),
	}
}

// Observe implements metrics.Observer.
func (e *Exporter) Observe(s metrics.Sample) {
	endpoint := strconv.Itoa(s.EndpointIndex)
	e.requests.WithLabelValues(endpoint, s.Outcome.String(), string(s.Reason)).Inc()
	e.duration.WithLabelValues(endpoint).Observe(s.Duration.Seconds())
	if s.BytesReceived > 0 {
		e.bytes.Add(float64(s.BytesReceived))
	}
}

// Report implements engine.Reporter.
func (e *Exporter) Report(p engine.Progress) {
	e.activeVUs.Set(float64(p.ActiveVUs))
	e.targetVUs.Set(float64(p.Stage.TargetVUs))
	e.setVerdicts(p.Verdicts)
}

// Finish records the final verdicts and drops the VU gauges to zero.
func (e *Exporter) Finish(s *engine.Summary) {
	e.activeVUs.Set(0)
	e.targetVUs.Set(0)
	e.setVerdicts(s.Thresholds)
}

func (e *Exporter) setVerdicts(verdicts []threshold.Verdict) {
	for _, v := range verdicts {
		passing := 0.0
		if v.Passing {
			passing = 1
		}
		e.thresholds.WithLabelValues(v.Name).Set(passing)
	}
}

// Handler returns the scrape handler for this exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on ln until ctx is done.
func (e *Exporter) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	e.logger.WithField("addr", ln.Addr().String()).Info("Serving Prometheus metrics")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
