package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jassi-singh/forgeload/internal/errext"
	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
	"github.com/jassi-singh/forgeload/internal/performance/config"
	"github.com/jassi-singh/forgeload/internal/performance/executor"
	"github.com/jassi-singh/forgeload/internal/performance/threshold"
)

// Plan is the immutable, validated form of a test configuration.
type Plan struct {
	Name      string
	Endpoints []string

	Stages *executor.RampingVUs

	Thresholds    []*threshold.Threshold
	ThresholdMode threshold.Mode

	ThinkTime        time.Duration
	ThinkTimeJitter  time.Duration
	GracefulRampDown time.Duration
}

// PlanFromConfig validates cfg and builds a Plan. Every error it returns
// carries the InvalidConfig exit code.
func PlanFromConfig(cfg *config.TestConfig) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, configError(fmt.Errorf("invalid configuration: %w", err))
	}

	stages, err := executor.FromConfig(cfg.Stages)
	if err != nil {
		return nil, configError(err)
	}

	mode, err := threshold.ParseMode(cfg.ThresholdMode)
	if err != nil {
		return nil, configError(err)
	}

	metricNames := make([]string, 0, len(cfg.Thresholds))
	for name := range cfg.Thresholds {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	var thresholds []*threshold.Threshold
	for _, metric := range metricNames {
		for _, tc := range cfg.Thresholds[metric] {
			t, err := threshold.Parse(metric, tc.Threshold)
			if err != nil {
				return nil, configError(err)
			}
			t.AbortOnFail = tc.AbortOnFail
			thresholds = append(thresholds, t)
		}
	}

	return &Plan{
		Name:             cfg.Name,
		Endpoints:        cfg.URLs(),
		Stages:           stages,
		Thresholds:       thresholds,
		ThresholdMode:    mode,
		ThinkTime:        time.Duration(cfg.ThinkTime),
		ThinkTimeJitter:  time.Duration(cfg.ThinkTimeJitter),
		GracefulRampDown: cfg.GracefulRampDown.GetDuration(config.DefaultGracefulRampDown),
	}, nil
}

func (p *Plan) validate() error {
	if p == nil {
		return errors.New("no plan")
	}
	if p.Stages == nil {
		return errors.New("plan has no stages")
	}
	if p.GracefulRampDown < 0 {
		return errors.New("graceful ramp-down must not be negative")
	}
	return nil
}

func configError(err error) error {
	return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
}
