package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *TestConfig {
	return &TestConfig{
		Endpoints: []string{"http://localhost:8080", "http://localhost:8081"},
		Stages: []StageConfig{
			{Duration: Duration(30 * time.Second), Target: 50},
			{Duration: Duration(30 * time.Second), Target: 0},
		},
		Thresholds: map[string][]ThresholdConfig{
			"http_req_duration": {{Threshold: "p(95)<200ms"}},
			"http_req_failed":   {{Threshold: "rate<0.01"}},
		},
	}
}

func TestValidate_MinimalValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() returned error for valid config: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *TestConfig)
		errMsg string
	}{
		{
			name:   "no endpoints",
			modify: func(c *TestConfig) { c.Endpoints = nil },
			errMsg: "at least one endpoint",
		},
		{
			name:   "non-http endpoint",
			modify: func(c *TestConfig) { c.Endpoints = []string{"ftp://files.example.com"} },
			errMsg: "scheme",
		},
		{
			name:   "endpoint without host",
			modify: func(c *TestConfig) { c.Endpoints = []string{"http://"} },
			errMsg: "no host",
		},
		{
			name:   "no stages",
			modify: func(c *TestConfig) { c.Stages = nil },
			errMsg: "at least one stage",
		},
		{
			name: "zero-duration stage",
			modify: func(c *TestConfig) {
				c.Stages = append(c.Stages, StageConfig{Duration: 0, Target: 10})
			},
			errMsg: "stages[2].duration",
		},
		{
			name:   "negative target",
			modify: func(c *TestConfig) { c.Stages[0].Target = -1 },
			errMsg: "stages[0].target",
		},
		{
			name: "unknown threshold metric",
			modify: func(c *TestConfig) {
				c.Thresholds["http_req_waiting"] = []ThresholdConfig{{Threshold: "p(95)<1s"}}
			},
			errMsg: "unknown threshold metric",
		},
		{
			name: "bad threshold expression",
			modify: func(c *TestConfig) {
				c.Thresholds["http_req_failed"] = []ThresholdConfig{{Threshold: "rate is low"}}
			},
			errMsg: "thresholds.http_req_failed[0]",
		},
		{
			name:   "unknown threshold mode",
			modify: func(c *TestConfig) { c.ThresholdMode = "eventually" },
			errMsg: "thresholdmode",
		},
		{
			name:   "negative think time",
			modify: func(c *TestConfig) { c.ThinkTime = Duration(-time.Second) },
			errMsg: "thinktime",
		},
		{
			name:   "negative rps",
			modify: func(c *TestConfig) { c.Settings.RPS = -1 },
			errMsg: "settings.rps",
		},
		{
			name: "unknown check type",
			modify: func(c *TestConfig) {
				c.Checks = []CheckConfig{{Name: "x", Type: "regex"}}
			},
			errMsg: "unknown check type",
		},
		{
			name: "duplicate check names",
			modify: func(c *TestConfig) {
				c.Checks = []CheckConfig{
					{Name: "ok", Type: CheckStatus},
					{Name: "ok", Type: CheckBodyNotEmpty},
				}
			},
			errMsg: "duplicate check name",
		},
		{
			name: "bad status code",
			modify: func(c *TestConfig) {
				c.Checks = []CheckConfig{{Name: "ok", Type: CheckStatus, Status: 42}}
			},
			errMsg: "invalid status code",
		},
		{
			name: "json-path without path",
			modify: func(c *TestConfig) {
				c.Checks = []CheckConfig{{Name: "key", Type: CheckJSONPath}}
			},
			errMsg: "requires a path",
		},
		{
			name: "json-schema without schema",
			modify: func(c *TestConfig) {
				c.Checks = []CheckConfig{{Name: "shape", Type: CheckJSONSchema}}
			},
			errMsg: "requires schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return an error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(tt.errMsg)) {
				t.Errorf("Error should contain '%s', got: %v", tt.errMsg, err)
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Errorf("Validate() error type = %T, want *ValidationErrors", err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &TestConfig{}

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() error type = %T, want *ValidationErrors", err)
	}
	if len(verrs.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2 (endpoints and stages)", len(verrs.Errors))
	}
}

func TestValidationErrors(t *testing.T) {
	errs := &ValidationErrors{}

	if errs.HasErrors() {
		t.Error("Empty ValidationErrors should not have errors")
	}

	errs.Add("field1", "message1")
	errs.Add("field2", "message2")

	if !errs.HasErrors() {
		t.Error("ValidationErrors with errors should have errors")
	}

	errStr := errs.Error()
	if !strings.Contains(errStr, "field1") || !strings.Contains(errStr, "field2") {
		t.Errorf("Error string should contain all fields, got: %v", errStr)
	}
	if !strings.Contains(errStr, "2 validation errors") {
		t.Errorf("Error string should mention count, got: %v", errStr)
	}
}
