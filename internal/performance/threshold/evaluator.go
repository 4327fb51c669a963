package threshold

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jassi-singh/forgeload/internal/performance/metrics"
)

// Mode decides which verdicts count toward the run result.
type Mode string

const (
	// ModeSticky fails the run if any evaluation ever failed.
	ModeSticky Mode = "sticky"
	// ModeFinal only looks at the evaluation at run end.
	ModeFinal Mode = "final"
)

// ParseMode parses a mode name. The empty string means ModeSticky.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSticky:
		return ModeSticky, nil
	case ModeFinal:
		return ModeFinal, nil
	default:
		return "", fmt.Errorf("unknown threshold mode %q (expected %s or %s)", s, ModeSticky, ModeFinal)
	}
}

// Verdict is the evaluation state of one threshold.
type Verdict struct {
	Name        string `json:"name"`
	Metric      string `json:"metric"`
	Source      string `json:"source"`
	Passing     bool   `json:"passing"`
	EverFailed  bool   `json:"everFailed"`
	Actual      string `json:"actual,omitempty"`
	AbortOnFail bool   `json:"abortOnFail,omitempty"`
}

// Evaluator tracks verdicts for a fixed set of thresholds.
//
// Evaluate is called on every engine tick and Finalize once at run end, after
// which the verdicts are frozen.
type Evaluator struct {
	mu         sync.Mutex
	thresholds []*Threshold
	verdicts   []Verdict
	mode       Mode
	frozen     bool
	abort      bool
}

// NewEvaluator creates an evaluator. Every verdict starts out passing.
func NewEvaluator(thresholds []*Threshold, mode Mode) *Evaluator {
	if mode == "" {
		mode = ModeSticky
	}
	e := &Evaluator{
		thresholds: thresholds,
		verdicts:   make([]Verdict, len(thresholds)),
		mode:       mode,
	}
	for i, t := range thresholds {
		e.verdicts[i] = Verdict{
			Name:        t.Name(),
			Metric:      t.Metric,
			Source:      t.Source,
			Passing:     true,
			AbortOnFail: t.AbortOnFail,
		}
	}
	return e
}

// Mode returns the evaluation mode.
func (e *Evaluator) Mode() Mode {
	return e.mode
}

// Evaluate updates the verdicts from an intermediate snapshot and returns a
// copy of them. Ticks with no samples yet are skipped.
func (e *Evaluator) Evaluate(snap *metrics.Snapshot, elapsed time.Duration) []Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.frozen && snap.Count > 0 {
		e.evaluate(snap, elapsed, false)
	}
	return e.copyVerdicts()
}

// Finalize runs the last evaluation and freezes the verdicts.
func (e *Evaluator) Finalize(snap *metrics.Snapshot, elapsed time.Duration) []Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.frozen {
		e.evaluate(snap, elapsed, true)
		e.frozen = true
	}
	return e.copyVerdicts()
}

func (e *Evaluator) evaluate(snap *metrics.Snapshot, elapsed time.Duration, final bool) {
	for i, t := range e.thresholds {
		passing, actual, ok := t.Check(snap, elapsed)
		if !ok {
			continue
		}
		v := &e.verdicts[i]
		v.Passing = passing
		v.Actual = actual
		if passing || (!final && t.growsOnly()) {
			continue
		}
		v.EverFailed = true
		if t.AbortOnFail && !final {
			e.abort = true
		}
	}
}

func (e *Evaluator) copyVerdicts() []Verdict {
	out := make([]Verdict, len(e.verdicts))
	copy(out, e.verdicts)
	return out
}

// Verdicts returns a copy of the current verdicts.
func (e *Evaluator) Verdicts() []Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyVerdicts()
}

// Passed reports whether the run passes under the evaluator's mode.
func (e *Evaluator) Passed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range e.verdicts {
		if !v.Passing {
			return false
		}
		if e.mode == ModeSticky && v.EverFailed {
			return false
		}
	}
	return true
}

// ShouldAbort reports whether an abortOnFail threshold has failed.
func (e *Evaluator) ShouldAbort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abort
}

// Quantiles returns the percentiles the thresholds need beyond the ones a
// snapshot always carries, sorted and without duplicates.
func (e *Evaluator) Quantiles() []float64 {
	return Quantiles(e.thresholds)
}

// Quantiles returns the extra percentiles used by thresholds.
func Quantiles(thresholds []*Threshold) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, t := range thresholds {
		if t.Aggregation != AggPercentile {
			continue
		}
		switch t.Quantile {
		case 50, 90, 95, 99, 100:
			continue
		}
		if !seen[t.Quantile] {
			seen[t.Quantile] = true
			out = append(out, t.Quantile)
		}
	}
	sort.Float64s(out)
	return out
}
