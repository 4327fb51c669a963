// Package executor turns a stage list into the desired VU count over time.
package executor

import (
	"fmt"
	"time"

	"github.com/jassi-singh/forgeload/internal/performance/config"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
)

// Stage is one window of the load curve.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RampingVUs ramps VU count up and down according to stages.
//
// The count is interpolated linearly between stages, so there are no step
// changes unless two consecutive targets differ at a boundary:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
//
// RampingVUs holds no clock. The engine passes the elapsed time on every tick,
// which keeps the curve a pure function of time.
type RampingVUs struct {
	stages []Stage
	total  time.Duration
}

// NewRampingVUs validates the stages and builds the curve.
func NewRampingVUs(stages []Stage) (*RampingVUs, error) {
	if len(stages) == 0 {
		return nil, &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}

	e := &RampingVUs{stages: make([]Stage, len(stages))}
	for i, s := range stages {
		if s.Duration <= 0 {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("stages[%d].duration", i),
				Message: "duration must be greater than 0",
			}
		}
		if s.Target < 0 {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: "target must not be negative",
			}
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("stage-%d", i+1)
		}
		e.stages[i] = s
		e.total += s.Duration
	}
	return e, nil
}

// FromConfig converts configured stages into a RampingVUs curve.
func FromConfig(stages []config.StageConfig) (*RampingVUs, error) {
	out := make([]Stage, len(stages))
	for i, s := range stages {
		out[i] = Stage{Duration: time.Duration(s.Duration), Target: s.Target, Name: s.Name}
	}
	return NewRampingVUs(out)
}

// Advance returns the desired VU count at elapsed time since run start.
//
// Within stage i the count moves linearly from the target of stage i-1 (0 for
// the first stage) to the target of stage i, rounded to the nearest VU. Past
// the last stage it returns the last target.
func (e *RampingVUs) Advance(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for _, stage := range e.stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			// Progress within this stage (0.0 to 1.0)
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return e.stages[len(e.stages)-1].Target
}

// StageAt returns the index of the stage running at elapsed, or len(stages)
// once the curve is over.
func (e *RampingVUs) StageAt(elapsed time.Duration) int {
	var stageEnd time.Duration
	for i, stage := range e.stages {
		stageEnd += stage.Duration
		if elapsed < stageEnd {
			return i
		}
	}
	return len(e.stages)
}

// PhaseAt labels the curve at elapsed for reporting.
func (e *RampingVUs) PhaseAt(elapsed time.Duration) metrics.Phase {
	idx := e.StageAt(elapsed)
	if idx >= len(e.stages) {
		return metrics.PhaseDraining
	}

	stage := e.stages[idx]
	prevTarget := 0
	if idx > 0 {
		prevTarget = e.stages[idx-1].Target
	}

	switch {
	case stage.Target > prevTarget:
		return metrics.PhaseRampUp
	case stage.Target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// Done reports whether elapsed is past the end of the last stage.
func (e *RampingVUs) Done(elapsed time.Duration) bool {
	return elapsed >= e.total
}

// TotalDuration returns the sum of all stage durations.
func (e *RampingVUs) TotalDuration() time.Duration {
	return e.total
}

// MaxTarget returns the highest target of any stage.
func (e *RampingVUs) MaxTarget() int {
	max := 0
	for _, s := range e.stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// Stages returns a copy of the stages.
func (e *RampingVUs) Stages() []Stage {
	out := make([]Stage, len(e.stages))
	copy(out, e.stages)
	return out
}

// Progress returns how far through the curve elapsed is (0.0 to 1.0).
func (e *RampingVUs) Progress(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	p := float64(elapsed) / float64(e.total)
	if p > 1 {
		p = 1
	}
	return p
}

// Stats describes the curve at one instant.
type Stats struct {
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`
	Progress      float64       `json:"progress"`

	TargetVUs int `json:"targetVUs"`

	CurrentStage     int           `json:"currentStage"`
	CurrentStageName string        `json:"currentStageName"`
	TotalStages      int           `json:"totalStages"`
	Phase            metrics.Phase `json:"phase"`
}

// StatsAt returns the curve statistics at elapsed.
func (e *RampingVUs) StatsAt(elapsed time.Duration) Stats {
	idx := e.StageAt(elapsed)
	name := ""
	if idx < len(e.stages) {
		name = e.stages[idx].Name
	}

	return Stats{
		Elapsed:          elapsed,
		TotalDuration:    e.total,
		Progress:         e.Progress(elapsed),
		TargetVUs:        e.Advance(elapsed),
		CurrentStage:     idx,
		CurrentStageName: name,
		TotalStages:      len(e.stages),
		Phase:            e.PhaseAt(elapsed),
	}
}

// ValidationError reports a stage list that cannot be run.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
