package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jassi-singh/forgeload/internal/performance/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the whole configuration before any request is sent.
//
// Returns nil if valid, or a *ValidationErrors listing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateEndpoints(c.Endpoints, errs)
	validateStages(c.Stages, errs)
	validateThresholds(c.Thresholds, errs)

	if _, err := threshold.ParseMode(c.ThresholdMode); err != nil {
		errs.Add("thresholdMode", err.Error())
	}

	if c.ThinkTime < 0 {
		errs.Add("thinkTime", "thinkTime must not be negative")
	}
	if c.ThinkTimeJitter < 0 {
		errs.Add("thinkTimeJitter", "thinkTimeJitter must not be negative")
	}
	if c.GracefulRampDown < 0 {
		errs.Add("gracefulRampDown", "gracefulRampDown must not be negative")
	}

	validateChecks(c.Checks, errs)
	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateEndpoints(endpoints []string, errs *ValidationErrors) {
	if len(endpoints) == 0 {
		errs.Add("endpoints", "at least one endpoint is required")
		return
	}

	for i, ep := range endpoints {
		field := fmt.Sprintf("endpoints[%d]", i)
		u, err := url.Parse(ep)
		if err != nil {
			errs.Add(field, fmt.Sprintf("invalid URL: %v", err))
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add(field, fmt.Sprintf("URL scheme must be http or https, got '%s'", ep))
			continue
		}
		if u.Host == "" {
			errs.Add(field, fmt.Sprintf("URL has no host: '%s'", ep))
		}
	}
}

func validateStages(stages []StageConfig, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add("stages", "at least one stage is required")
		return
	}

	for i, stage := range stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration <= 0 {
			errs.Add(prefix+".duration", "duration must be greater than 0")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target must not be negative")
		}
	}
}

func validateThresholds(thresholds map[string][]ThresholdConfig, errs *ValidationErrors) {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, metric := range names {
		for i, tc := range thresholds[metric] {
			if _, err := threshold.Parse(metric, tc.Threshold); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}

var validCheckTypes = map[string]bool{
	CheckStatus:       true,
	CheckBodyNotEmpty: true,
	CheckBodyContains: true,
	CheckJSONPath:     true,
	CheckJSONSchema:   true,
}

func validateChecks(checks []CheckConfig, errs *ValidationErrors) {
	seen := make(map[string]bool)

	for i, check := range checks {
		prefix := fmt.Sprintf("checks[%d]", i)

		if check.Name == "" {
			errs.Add(prefix+".name", "check name is required")
		} else if seen[check.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate check name '%s'", check.Name))
		}
		seen[check.Name] = true

		if !validCheckTypes[check.Type] {
			errs.Add(prefix+".type", fmt.Sprintf("unknown check type: '%s'", check.Type))
			continue
		}

		switch check.Type {
		case CheckStatus:
			if check.Status != 0 && (check.Status < 100 || check.Status > 599) {
				errs.Add(prefix+".status", fmt.Sprintf("invalid status code: %d", check.Status))
			}
		case CheckBodyContains:
			if check.Value == "" {
				errs.Add(prefix+".value", "body-contains check requires a value")
			}
		case CheckJSONPath:
			if check.Path == "" {
				errs.Add(prefix+".path", "json-path check requires a path")
			}
		case CheckJSONSchema:
			if check.Schema == "" && check.SchemaFile == "" {
				errs.Add(prefix+".schema", "json-schema check requires schema or schemaFile")
			}
			if check.Schema != "" && check.SchemaFile != "" {
				errs.Add(prefix+".schema", "schema and schemaFile are mutually exclusive")
			}
		}
	}
}

func validateSettings(s *HTTPSettings, errs *ValidationErrors) {
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout must not be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "maxConnectionsPerHost must not be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost must not be negative")
	}
	if s.RPS < 0 {
		errs.Add("settings.rps", "rps must not be negative")
	}
}
