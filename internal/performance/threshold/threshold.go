// Package threshold parses pass/fail expressions over run metrics and keeps
// their verdicts up to date while a run is in progress.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jassi-singh/forgeload/internal/performance/metrics"
)

// Metric names accepted in thresholds.
const (
	MetricDuration   = "http_req_duration"
	MetricFailed     = "http_req_failed"
	MetricRequests   = "http_reqs"
	MetricIterations = "iterations"
)

// Aggregations accepted in thresholds.
const (
	AggPercentile = "p"
	AggAvg        = "avg"
	AggMin        = "min"
	AggMax        = "max"
	AggMed        = "med"
	AggRate       = "rate"
	AggCount      = "count"
)

var allowedAggregations = map[string][]string{
	MetricDuration:   {AggPercentile, AggAvg, AggMin, AggMax, AggMed},
	MetricFailed:     {AggRate, AggCount},
	MetricRequests:   {AggCount, AggRate},
	MetricIterations: {AggCount, AggRate},
}

// Operator is a comparison between a metric value and a bound.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare reports whether actual op bound holds.
func (op Operator) Compare(actual, bound float64) bool {
	switch op {
	case OpLess:
		return actual < bound
	case OpLessEqual:
		return actual <= bound
	case OpGreater:
		return actual > bound
	case OpGreaterEqual:
		return actual >= bound
	case OpEqual:
		return actual == bound
	case OpNotEqual:
		return actual != bound
	default:
		return false
	}
}

// Matches "p(95)<200ms", "p95 < 500ms", "rate<0.01", "count>=100".
var exprRe = regexp.MustCompile(`^([a-z]+)\s*(?:\(\s*([0-9.]+)\s*\)|([0-9.]+))?\s*(<=|>=|==|!=|<|>)\s*(\S+)$`)

// Threshold is one parsed expression bound to a metric.
type Threshold struct {
	Metric      string
	Source      string
	Aggregation string

	// Quantile is set for percentile aggregations (0-100)
	Quantile float64

	Op Operator

	// Bound is in nanoseconds for http_req_duration, raw otherwise
	Bound float64

	AbortOnFail bool
}

// Parse parses expr as a threshold over metric.
func Parse(metric, expr string) (*Threshold, error) {
	metric = strings.TrimSpace(metric)
	aggs, ok := allowedAggregations[metric]
	if !ok {
		return nil, fmt.Errorf("unknown threshold metric %q (expected one of %s, %s, %s, %s)",
			metric, MetricDuration, MetricFailed, MetricRequests, MetricIterations)
	}

	src := strings.TrimSpace(expr)
	m := exprRe.FindStringSubmatch(src)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q", expr)
	}

	t := &Threshold{
		Metric:      metric,
		Source:      src,
		Aggregation: m[1],
		Op:          Operator(m[4]),
	}

	if !containsString(aggs, t.Aggregation) {
		return nil, fmt.Errorf("aggregation %q is not supported for %s (expected one of %s)",
			t.Aggregation, metric, strings.Join(aggs, ", "))
	}

	qs := m[2]
	if qs == "" {
		qs = m[3]
	}
	switch {
	case t.Aggregation == AggPercentile:
		if qs == "" {
			return nil, fmt.Errorf("percentile missing in %q", expr)
		}
		q, err := strconv.ParseFloat(qs, 64)
		if err != nil || q <= 0 || q > 100 {
			return nil, fmt.Errorf("invalid percentile %q in %q", qs, expr)
		}
		t.Quantile = q
	case qs != "":
		return nil, fmt.Errorf("aggregation %q takes no argument in %q", t.Aggregation, expr)
	}

	bound, err := parseBound(metric, m[5])
	if err != nil {
		return nil, fmt.Errorf("invalid bound in %q: %w", expr, err)
	}
	t.Bound = bound

	return t, nil
}

// parseBound reads duration bounds as Go durations or bare milliseconds.
func parseBound(metric, s string) (float64, error) {
	if metric == MetricDuration {
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			if math.IsNaN(ms) || math.IsInf(ms, 0) {
				return 0, fmt.Errorf("bound must be finite")
			}
			return ms * float64(time.Millisecond), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
		return float64(d), nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("bound must be finite")
	}
	return v, nil
}

// Name identifies the threshold in reports, e.g. "http_req_duration: p(95)<200ms".
func (t *Threshold) Name() string {
	return t.Metric + ": " + t.Source
}

// Value extracts the metric value the threshold compares. It returns false
// when the snapshot does not carry the value (an unconfigured percentile).
func (t *Threshold) Value(snap *metrics.Snapshot, elapsed time.Duration) (float64, bool) {
	switch t.Metric {
	case MetricDuration:
		var d time.Duration
		switch t.Aggregation {
		case AggPercentile:
			v, ok := snap.Percentile(t.Quantile)
			if !ok {
				return 0, false
			}
			d = v
		case AggAvg:
			d = snap.Latency.Mean
		case AggMin:
			d = snap.Latency.Min
		case AggMax:
			d = snap.Latency.Max
		case AggMed:
			d = snap.Latency.P50
		}
		return float64(d), true

	case MetricFailed:
		if t.Aggregation == AggCount {
			return float64(snap.Failures), true
		}
		return snap.FailRate, true

	case MetricRequests:
		if t.Aggregation == AggCount {
			return float64(snap.Count), true
		}
		return perSecond(snap.Count, elapsed), true

	case MetricIterations:
		if t.Aggregation == AggCount {
			return float64(snap.Iterations), true
		}
		return perSecond(snap.Iterations, elapsed), true
	}
	return 0, false
}

// Check evaluates the threshold against a snapshot.
func (t *Threshold) Check(snap *metrics.Snapshot, elapsed time.Duration) (passing bool, actual string, ok bool) {
	v, ok := t.Value(snap, elapsed)
	if !ok {
		return false, "", false
	}
	return t.Op.Compare(v, t.Bound), t.format(v), true
}

// growsOnly reports whether the threshold is a lower bound on a counter. Such
// a counter can still reach its bound later, so only the final evaluation
// decides it.
func (t *Threshold) growsOnly() bool {
	if t.Aggregation != AggCount {
		return false
	}
	return t.Op == OpGreater || t.Op == OpGreaterEqual || t.Op == OpEqual
}

func (t *Threshold) format(v float64) string {
	switch {
	case t.Metric == MetricDuration:
		return time.Duration(v).Round(time.Microsecond).String()
	case t.Aggregation == AggCount:
		return strconv.FormatFloat(v, 'f', 0, 64)
	case t.Metric == MetricFailed:
		return strconv.FormatFloat(v, 'f', 4, 64)
	default:
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}

func perSecond(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
