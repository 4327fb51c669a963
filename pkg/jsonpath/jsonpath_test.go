package jsonpath

import (
	"testing"
)

const keyBody = `{
	"key": "6f1c2a9e-8a43-4a55-9f0b-9c1f2f6a3d11",
	"issued": 3,
	"owner": null,
	"empty": "",
	"instance": {"port": 8081, "tags": ["a", "b"]},
	"items": [{"id": 1}, {"id": 2}]
}`

func TestToGjsonPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$", "@this"},
		{"$.key", "key"},
		{"key", "key"},
		{"$.instance.port", "instance.port"},
		{"$.items[1].id", "items.1.id"},
		{"$['key']", "key"},
		{`$["instance"]["port"]`, "instance.port"},
		{"$[0]", "0"},
	}

	for _, tt := range tests {
		if got := toGjsonPath(tt.in); got != tt.want {
			t.Errorf("toGjsonPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPath_Lookup(t *testing.T) {
	tests := []struct {
		path      string
		wantValue string
		wantFound bool
	}{
		{"$.key", "6f1c2a9e-8a43-4a55-9f0b-9c1f2f6a3d11", true},
		{"$.issued", "3", true},
		{"$.instance.tags[1]", "b", true},
		{"$.items[0].id", "1", true},
		{"$.owner", "", false},
		{"$.missing", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p, err := Compile(tt.path)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, found, err := p.Lookup([]byte(keyBody))
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if found != tt.wantFound {
				t.Errorf("Lookup() found = %v, want %v", found, tt.wantFound)
			}
			if got != tt.wantValue {
				t.Errorf("Lookup() = %q, want %q", got, tt.wantValue)
			}
		})
	}
}

func TestPath_LookupInvalidBody(t *testing.T) {
	p, _ := Compile("$.key")

	if _, _, err := p.Lookup(nil); err == nil {
		t.Error("Lookup() on empty body should fail")
	}
	if _, _, err := p.Lookup([]byte("KEY:abc")); err == nil {
		t.Error("Lookup() on non-JSON body should fail")
	}
}

func TestPath_Match(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"$.key", "", true},
		{"$.empty", "", false},
		{"$.owner", "", false},
		{"$.issued", "3", true},
		{"$.issued", "4", false},
		{"$.instance.port", "8081", true},
	}

	for _, tt := range tests {
		p, err := Compile(tt.path)
		if err != nil {
			t.Fatalf("Compile(%q) error = %v", tt.path, err)
		}
		got, err := p.Match([]byte(keyBody), tt.want)
		if err != nil {
			t.Errorf("Match(%q, %q) error = %v", tt.path, tt.want, err)
		}
		if got != tt.ok {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.path, tt.want, got, tt.ok)
		}
	}
}

func TestCompile_Empty(t *testing.T) {
	if _, err := Compile("  "); err == nil {
		t.Error("Compile() should reject an empty expression")
	}
}

func TestExtract(t *testing.T) {
	v, err := Extract([]byte(keyBody), "$.instance.port")
	if err != nil || v != "8081" {
		t.Errorf("Extract() = %q, %v; want 8081", v, err)
	}

	if _, err := Extract([]byte(keyBody), "$.nope"); err == nil {
		t.Error("Extract() of a missing path should fail")
	}
}
