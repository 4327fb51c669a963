package engine

import (
	"time"

	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
	"github.com/jassi-singh/forgeload/internal/performance/threshold"
)

// Summary contains the complete results of one run.
type Summary struct {
	// Run metadata
	RunID     string        `json:"runId"`
	Name      string        `json:"name,omitempty"`
	Endpoints []string      `json:"endpoints"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Aggregated metrics over the whole run
	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`

	// Threshold evaluation
	Thresholds    []threshold.Verdict `json:"thresholds,omitempty"`
	ThresholdMode threshold.Mode      `json:"thresholdMode"`
	Passed        bool                `json:"passed"`

	// How the run ended
	Aborted      bool `json:"aborted,omitempty"`
	Interrupted  bool `json:"interrupted,omitempty"`
	ForcedStops  int  `json:"forcedStops"`
	AbandonedVUs int  `json:"abandonedVUs,omitempty"`
	PeakVUs      int  `json:"peakVUs"`
}

// ExitCode maps the outcome to the process exit code.
func (s *Summary) ExitCode() exitcodes.ExitCode {
	if !s.Passed {
		return exitcodes.ThresholdsHaveFailed
	}
	return exitcodes.Success
}

// FailedThresholds returns the verdicts that made the run fail.
func (s *Summary) FailedThresholds() []threshold.Verdict {
	var failed []threshold.Verdict
	for _, v := range s.Thresholds {
		if !v.Passing || (s.ThresholdMode == threshold.ModeSticky && v.EverFailed) {
			failed = append(failed, v)
		}
	}
	return failed
}

// RequestRate returns the average requests per second over the run.
func (s *Summary) RequestRate() float64 {
	if s.Duration <= 0 || s.Metrics == nil {
		return 0
	}
	return float64(s.Metrics.Count) / s.Duration.Seconds()
}
