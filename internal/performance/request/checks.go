package request

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/spf13/afero"

	"github.com/jassi-singh/forgeload/internal/performance/config"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
	"github.com/jassi-singh/forgeload/pkg/jsonpath"
	"github.com/jassi-singh/forgeload/pkg/jsonschema"
)

// Response is what checks see of an HTTP exchange.
type Response struct {
	Status int
	Body   []byte
}

// Check is a named predicate over a Response. Checks are built once before the
// run and shared by all VUs.
type Check struct {
	Name string
	Type string

	status int
	value  []byte
	path   *jsonpath.Path
	want   string
	schema *jsonschema.Schema
}

// Pass reports whether resp satisfies the check.
func (c *Check) Pass(resp Response) bool {
	switch c.Type {
	case config.CheckStatus:
		return resp.Status == c.status
	case config.CheckBodyNotEmpty:
		return len(bytes.TrimSpace(resp.Body)) > 0
	case config.CheckBodyContains:
		return bytes.Contains(resp.Body, c.value)
	case config.CheckJSONPath:
		ok, err := c.path.Match(resp.Body, c.want)
		return err == nil && ok
	case config.CheckJSONSchema:
		return c.schema.Validate(resp.Body) == nil
	default:
		return false
	}
}

// Reason is the failure reason recorded when the check does not pass.
func (c *Check) Reason() metrics.Reason {
	if c.Type == config.CheckStatus {
		return metrics.ReasonStatusMismatch
	}
	return metrics.CheckFailed(c.Name)
}

// StatusCheck expects the given status code.
func StatusCheck(name string, status int) *Check {
	if name == "" {
		name = "status is " + strconv.Itoa(status)
	}
	return &Check{Name: name, Type: config.CheckStatus, status: status}
}

// BodyNotEmptyCheck expects a non-blank body.
func BodyNotEmptyCheck(name string) *Check {
	if name == "" {
		name = "body is not empty"
	}
	return &Check{Name: name, Type: config.CheckBodyNotEmpty}
}

// BuildChecks compiles configured checks. Schema files are read from fs.
func BuildChecks(fs afero.Fs, cfgs []config.CheckConfig) ([]*Check, error) {
	checks := make([]*Check, 0, len(cfgs))

	for i, cc := range cfgs {
		c := &Check{Name: cc.Name, Type: cc.Type}

		switch cc.Type {
		case config.CheckStatus:
			c.status = cc.Status
			if c.status == 0 {
				c.status = 200
			}
		case config.CheckBodyNotEmpty:
		case config.CheckBodyContains:
			c.value = []byte(cc.Value)
		case config.CheckJSONPath:
			p, err := jsonpath.Compile(cc.Path)
			if err != nil {
				return nil, fmt.Errorf("check %d (%s): %w", i, cc.Name, err)
			}
			c.path = p
			c.want = cc.Value
		case config.CheckJSONSchema:
			src, name := cc.Schema, cc.Name+".json"
			if cc.SchemaFile != "" {
				data, err := afero.ReadFile(fs, cc.SchemaFile)
				if err != nil {
					return nil, fmt.Errorf("check %d (%s): failed to read schema: %w", i, cc.Name, err)
				}
				src, name = string(data), cc.SchemaFile
			}
			s, err := jsonschema.Compile(name, src)
			if err != nil {
				return nil, fmt.Errorf("check %d (%s): %w", i, cc.Name, err)
			}
			c.schema = s
		default:
			return nil, fmt.Errorf("check %d (%s): unknown check type '%s'", i, cc.Name, cc.Type)
		}

		checks = append(checks, c)
	}

	return checks, nil
}
