package template

import (
	"reflect"
	"testing"

	"github.com/agentforge/engine/internal/domain"
)

func TestFillString_NoPlaceholders(t *testing.T) {
	got, err := FillString("plain text, nothing to do", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if got != "plain text, nothing to do" {
		t.Errorf("FillString() = %v, want unchanged input", got)
	}
}

func TestFillString_WholeTokenReturnsRawValue(t *testing.T) {
	got, err := FillString("{x}", map[string]any{"x": 5})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if v, ok := got.(int); !ok || v != 5 {
		t.Errorf("FillString({x}) = %v (%T), want raw int 5", got, got)
	}

	// Raw pass-through also applies to non-scalar values.
	list := []any{"a", "b"}
	got, err = FillString("{items}", map[string]any{"items": list})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if !reflect.DeepEqual(got, list) {
		t.Errorf("FillString({items}) = %v, want raw slice", got)
	}
}

func TestFillString_PartialMatchStringifies(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]any
		want     string
	}{
		{"int", "v={x}", map[string]any{"x": 5}, "v=5"},
		{"float", "v={x}", map[string]any{"x": 2.5}, "v=2.5"},
		{"bool", "enabled={f}", map[string]any{"f": true}, "enabled=true"},
		{"string", "hello {name}!", map[string]any{"name": "world"}, "hello world!"},
		{"array as json", "list={l}", map[string]any{"l": []any{"a", 1.0}}, `list=["a",1]`},
		{"object as json", "obj={o}", map[string]any{"o": map[string]any{"k": "v"}}, `obj={"k":"v"}`},
		{"null as json", "n={n}", map[string]any{"n": nil}, "n=null"},
		{"multiple tokens", "{a}-{b}", map[string]any{"a": "x", "b": "y"}, "x-y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FillString(tt.template, tt.data)
			if err != nil {
				t.Fatalf("FillString() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FillString(%q) = %v, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestFillString_EscapedBracesRoundTrip(t *testing.T) {
	got, err := FillString(`\{literal\}`, map[string]any{})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if got != "{literal}" {
		t.Errorf("FillString(\\{literal\\}) = %q, want %q", got, "{literal}")
	}

	// An escaped opening brace never starts a token even when the key exists.
	got, err = FillString(`\{x} and {x}`, map[string]any{"x": "v"})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if got != "{x} and v" {
		t.Errorf("FillString() = %q, want %q", got, "{x} and v")
	}
}

func TestFillString_MissingKeyLeftLiteral(t *testing.T) {
	got, err := FillString("v={missing}", map[string]any{"present": 1})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if got != "v={missing}" {
		t.Errorf("FillString() = %q, want literal token preserved", got)
	}

	// Whole-string token with a missing key stays literal too.
	got, err = FillString("{missing}", map[string]any{})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if got != "{missing}" {
		t.Errorf("FillString({missing}) = %q, want literal token", got)
	}
}

func TestFillString_UnterminatedTokenLeftAsIs(t *testing.T) {
	got, err := FillString("open {brace", map[string]any{"brace": "v"})
	if err != nil {
		t.Fatalf("FillString() error = %v", err)
	}
	if got != "open {brace" {
		t.Errorf("FillString() = %q, want unterminated token untouched", got)
	}
}

func TestFillString_InvalidValueType(t *testing.T) {
	_, err := FillString("v={x}", map[string]any{"x": struct{ A int }{1}})
	if !domain.IsCode(err, domain.CodeInvalidTemplateValue) {
		t.Errorf("FillString() error = %v, want invalid_template_value", err)
	}
}

func TestFillTree_RecursesStructurally(t *testing.T) {
	tree := map[string]any{
		"url":   "https://api.example.com/{path}",
		"count": "{n}",
		"tags":  []any{"{a}", "literal"},
		"nested": map[string]any{
			"token": "Bearer {secret}",
		},
	}
	data := map[string]any{"path": "v1", "n": 3, "a": "x", "secret": "s3cr3t"}

	got, err := FillTree(tree, data)
	if err != nil {
		t.Fatalf("FillTree() error = %v", err)
	}

	if got["url"] != "https://api.example.com/v1" {
		t.Errorf("url = %v", got["url"])
	}
	if v, ok := got["count"].(int); !ok || v != 3 {
		t.Errorf("count = %v (%T), want raw int 3", got["count"], got["count"])
	}
	tags, ok := got["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "x" || tags[1] != "literal" {
		t.Errorf("tags = %v", got["tags"])
	}
	nested, ok := got["nested"].(map[string]any)
	if !ok || nested["token"] != "Bearer s3cr3t" {
		t.Errorf("nested = %v", got["nested"])
	}
}

func TestFillTree_InvalidLeafType(t *testing.T) {
	_, err := FillTree(map[string]any{"bad": 42}, map[string]any{})
	if !domain.IsCode(err, domain.CodeInvalidTemplateValue) {
		t.Errorf("FillTree() error = %v, want invalid_template_value", err)
	}
}
