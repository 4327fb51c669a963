// Package config provides configuration parsing and validation for load tests.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "key service ramp"
//	endpoints:
//	  - http://localhost:8080
//	  - http://localhost:8081
//	  - http://localhost:8082
//	path: /get-key
//	stages:
//	  - duration: 30s
//	    target: 50
//	  - duration: 30s
//	    target: 0
//	thresholds:
//	  http_req_failed: ["rate<0.01"]
//	  http_req_duration: ["p(95)<200"]
//	thinkTime: 100ms
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Endpoints are the base URLs requests are spread across
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// Path is appended to every endpoint (e.g. "/get-key")
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Stages define the VU concurrency curve
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Thresholds map a metric name to its pass/fail expressions
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// ThresholdMode is "sticky" (any failure fails the run) or "final"
	ThresholdMode string `json:"thresholdMode,omitempty" yaml:"thresholdMode,omitempty"`

	// ThinkTime is the pause after every iteration
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// ThinkTimeJitter adds a random extra pause in [0, jitter)
	ThinkTimeJitter Duration `json:"thinkTimeJitter,omitempty" yaml:"thinkTimeJitter,omitempty"`

	// GracefulRampDown bounds how long draining VUs may keep running
	GracefulRampDown Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Checks are evaluated against every response, in order
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Settings contains HTTP client settings
	Settings HTTPSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Logging controls per-request logging
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// StageConfig defines a single ramping stage.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m", or 30 for seconds)
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThresholdConfig is one threshold expression. In YAML and JSON it is either a
// plain string or an object with "threshold" and "abortOnFail".
type ThresholdConfig struct {
	Threshold   string `json:"threshold" yaml:"threshold"`
	AbortOnFail bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
}

type thresholdObject struct {
	Threshold   string `json:"threshold" yaml:"threshold"`
	AbortOnFail bool   `json:"abortOnFail" yaml:"abortOnFail"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Threshold = value.Value
		t.AbortOnFail = false
		return nil
	}
	var obj thresholdObject
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	*t = ThresholdConfig(obj)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = ThresholdConfig{Threshold: s}
		return nil
	}
	var obj thresholdObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	*t = ThresholdConfig(obj)
	return nil
}

// Check types.
const (
	CheckStatus       = "status"
	CheckBodyNotEmpty = "body-not-empty"
	CheckBodyContains = "body-contains"
	CheckJSONPath     = "json-path"
	CheckJSONSchema   = "json-schema"
)

// CheckConfig defines a named boolean predicate over a response.
type CheckConfig struct {
	// Name identifies the check in failure reasons
	Name string `json:"name" yaml:"name"`

	// Type is one of status, body-not-empty, body-contains, json-path, json-schema
	Type string `json:"type" yaml:"type"`

	// Status is the expected status code for status checks (default 200)
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// Path is the JSON path for json-path checks
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Value is the expected substring (body-contains) or value (json-path)
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Schema is an inline JSON schema for json-schema checks
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// SchemaFile is a path to a JSON schema for json-schema checks
	SchemaFile string `json:"schemaFile,omitempty" yaml:"schemaFile,omitempty"`
}

// HTTPSettings contains HTTP client settings.
type HTTPSettings struct {
	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are added to every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// RPS caps the global request rate (0 = unlimited)
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
}

// LoggingConfig controls per-request logging.
type LoggingConfig struct {
	// SuccessBody logs every successful response body
	SuccessBody bool `json:"successBody,omitempty" yaml:"successBody,omitempty"`

	// Prefix is prepended to logged bodies (default "KEY:")
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// TotalDuration returns the sum of all stage durations.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += time.Duration(s.Duration)
	}
	return total
}

// MaxTarget returns the highest stage target.
func (c *TestConfig) MaxTarget() int {
	max := 0
	for _, s := range c.Stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// URLs returns the request URL for every endpoint.
func (c *TestConfig) URLs() []string {
	urls := make([]string, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if c.Path == "" {
			urls[i] = ep
			continue
		}
		urls[i] = strings.TrimRight(ep, "/") + "/" + strings.TrimLeft(c.Path, "/")
	}
	return urls
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
// Bare numbers are read as seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
