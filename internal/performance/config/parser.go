package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "FORGELOAD"

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultGracefulRampDown = 30 * time.Second
	DefaultIdleConnsPerHost = 100
	DefaultUserAgent        = "forgeload/1.0"
	DefaultLogPrefix        = "KEY:"

	DefaultStatusCheckName = "status is 200 OK"
	DefaultBodyCheckName   = "key is not empty"

	ThresholdModeSticky = "sticky"
	ThresholdModeFinal  = "final"
)

// LoadConfig loads a test configuration from a file on fs.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(fs afero.Fs, path string) (*TestConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as a number: "30" or "0.1"
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses stages from the CLI format "30s:10,2m:10,30s:0".
func ParseStages(stagesStr string) ([]StageConfig, error) {
	var stages []StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		dur, err := ParseDurationString(part[:colonIdx])
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}

		target, err := strconv.Atoi(part[colonIdx+1:])
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, part[colonIdx+1:], err)
		}

		stages = append(stages, StageConfig{
			Duration: Duration(dur),
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// ParseThresholdFlag splits "metric:expression" as given on the command line.
func ParseThresholdFlag(s string) (string, string, error) {
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", fmt.Errorf("expected 'metric:expression', got '%s'", s)
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), nil
}

// EnvOverrides are read from FORGELOAD_* environment variables. Unset
// variables leave the file and flag values alone.
type EnvOverrides struct {
	Endpoints        []string       `envconfig:"ENDPOINTS"`
	Path             *string        `envconfig:"PATH_SUFFIX"`
	ThinkTime        *time.Duration `envconfig:"THINK_TIME"`
	GracefulRampDown *time.Duration `envconfig:"GRACEFUL_RAMP_DOWN"`
	Timeout          *time.Duration `envconfig:"TIMEOUT"`
	RPS              *float64       `envconfig:"RPS"`
	ThresholdMode    *string        `envconfig:"THRESHOLD_MODE"`
	LogSuccessBody   *bool          `envconfig:"LOG_SUCCESS_BODY"`
}

// ApplyEnv overlays FORGELOAD_* environment variables onto config.
func ApplyEnv(config *TestConfig) error {
	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	if len(env.Endpoints) > 0 {
		config.Endpoints = env.Endpoints
	}
	if env.Path != nil {
		config.Path = *env.Path
	}
	if env.ThinkTime != nil {
		config.ThinkTime = Duration(*env.ThinkTime)
	}
	if env.GracefulRampDown != nil {
		config.GracefulRampDown = Duration(*env.GracefulRampDown)
	}
	if env.Timeout != nil {
		config.Settings.Timeout = Duration(*env.Timeout)
	}
	if env.RPS != nil {
		config.Settings.RPS = *env.RPS
	}
	if env.ThresholdMode != nil {
		config.ThresholdMode = *env.ThresholdMode
	}
	if env.LogSuccessBody != nil {
		config.Logging.SuccessBody = *env.LogSuccessBody
	}
	return nil
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = "forgeload test"
	}
	if config.ThresholdMode == "" {
		config.ThresholdMode = ThresholdModeSticky
	}
	if config.GracefulRampDown == 0 {
		config.GracefulRampDown = Duration(DefaultGracefulRampDown)
	}
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = DefaultIdleConnsPerHost
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}
	if config.Logging.Prefix == "" {
		config.Logging.Prefix = DefaultLogPrefix
	}

	if len(config.Checks) == 0 {
		config.Checks = []CheckConfig{
			{Name: DefaultStatusCheckName, Type: CheckStatus, Status: 200},
			{Name: DefaultBodyCheckName, Type: CheckBodyNotEmpty},
		}
	}
	for i := range config.Checks {
		if config.Checks[i].Type == CheckStatus && config.Checks[i].Status == 0 {
			config.Checks[i].Status = 200
		}
	}

	for i := range config.Stages {
		if config.Stages[i].Name == "" {
			config.Stages[i].Name = fmt.Sprintf("stage-%d", i+1)
		}
	}
}
