package render

import (
	"reflect"
	"testing"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{name: "simple", template: "Hello {{name}}", vars: map[string]string{"name": "Alice"}, want: "Hello Alice"},
		{name: "missing key left literal", template: "{{x}} and {{y}}", vars: map[string]string{"x": "A"}, want: "A and {{y}}"},
		{name: "no vars is identity", template: "{{x}} and {{y}}", vars: nil, want: "{{x}} and {{y}}"},
		{name: "repeated placeholder", template: "{{d}} {{d}}", vars: map[string]string{"d": "OCT-1"}, want: "OCT-1 OCT-1"},
		{name: "extra vars ignored", template: "plain", vars: map[string]string{"x": "A"}, want: "plain"},
		{name: "empty template", template: "", vars: map[string]string{"x": "A"}, want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.template, tt.vars)
			if got != tt.want {
				t.Fatalf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestRenderIdempotent(t *testing.T) {
	t.Parallel()
	vars := map[string]string{"device": "OCT-1", "status": "down"}
	tpl := "Device {{device}} is {{status}} ({{unknown}})"
	once := Render(tpl, vars)
	twice := Render(once, vars)
	if once != twice {
		t.Fatalf("render not idempotent: %q != %q", once, twice)
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		template string
		want     []string
	}{
		{name: "none", template: "plain text", want: nil},
		{name: "ordered distinct", template: "{{b}} {{a}} {{b}}", want: []string{"b", "a"}},
		{name: "unterminated", template: "{{a}} {{broken", want: []string{"a"}},
		{name: "empty name skipped", template: "{{}} {{x}}", want: []string{"x"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Placeholders(tt.template)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Placeholders(%q) = %v, want %v", tt.template, got, tt.want)
			}
		})
	}
}
