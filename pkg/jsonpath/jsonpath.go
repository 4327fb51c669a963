// Package jsonpath resolves JSONPath-style expressions against response bodies.
//
// Expressions are translated once into gjson paths:
//
//	$.data.key        -> data.key
//	$.items[0].id     -> items.0.id
//	$['key']          -> key
//	key               -> key
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Path is a compiled JSONPath expression.
type Path struct {
	raw   string
	gpath string
}

// Compile translates a JSONPath expression.
func Compile(path string) (*Path, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty JSONPath expression")
	}
	return &Path{raw: path, gpath: toGjsonPath(path)}, nil
}

// String returns the expression as written.
func (p *Path) String() string {
	return p.raw
}

// Lookup returns the value at the path as a string. found is false when the
// path does not exist or holds null. Bodies that are not JSON are an error.
func (p *Path) Lookup(body []byte) (value string, found bool, err error) {
	if len(body) == 0 {
		return "", false, fmt.Errorf("empty JSON body")
	}
	if !gjson.ValidBytes(body) {
		return "", false, fmt.Errorf("body is not valid JSON")
	}

	result := gjson.GetBytes(body, p.gpath)
	if !result.Exists() || result.Type == gjson.Null {
		return "", false, nil
	}
	return result.String(), true, nil
}

// Match reports whether the path holds want. An empty want matches any value
// that is present and not an empty string.
func (p *Path) Match(body []byte, want string) (bool, error) {
	got, found, err := p.Lookup(body)
	if err != nil || !found {
		return false, err
	}
	if want == "" {
		return got != "", nil
	}
	return got == want, nil
}

// Extract returns the value at path in body.
func Extract(body []byte, path string) (string, error) {
	p, err := Compile(path)
	if err != nil {
		return "", err
	}
	v, found, err := p.Lookup(body)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("path not found: %s", path)
	}
	return v, nil
}

func toGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// Quoted bracket keys: ['name'] and ["name"]
	for _, q := range []string{"'", `"`} {
		path = strings.ReplaceAll(path, "["+q, ".")
		path = strings.ReplaceAll(path, q+"]", "")
	}

	// Index brackets: [0] -> .0
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	return strings.TrimPrefix(path, ".")
}
