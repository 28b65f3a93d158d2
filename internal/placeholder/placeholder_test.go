package placeholder

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []string
	}{
		{"simple", []string{"Dear {{employee_name}}, on {{date}}"}, []string{"employee_name", "date"}},
		{"duplicates collapse", []string{"{{a}} {{b}}", "{{a}}", "cell {{b}}"}, []string{"a", "b"}},
		{"case sensitive", []string{"{{Name}} {{name}}"}, []string{"Name", "name"}},
		{"persian name", []string{"نام: {{نام_کامل}}"}, []string{"نام_کامل"}},
		{"internal space kept", []string{"{{first name}}"}, []string{"first name"}},
		{"surrounding whitespace rejected", []string{"{{ a }} {{b }} {{ c}}"}, nil},
		{"nested braces rejected", []string{"{{{a}}} {{a{b}} {{x}}}"}, nil},
		{"empty name", []string{"{{}}"}, nil},
		{"unterminated", []string{"{{a} and {{b"}, nil},
		{"adjacent tokens", []string{"{{a}}{{b}}"}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scan(tt.texts...).Names()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Scan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReplaceFullMappingLeavesNoTokens(t *testing.T) {
	text := "{{a}} and {{b}} and again {{a}}"
	got := Replace(text, map[string]string{"a": "1", "b": "2"})
	if got != "1 and 2 and again 1" {
		t.Fatalf("Replace = %q", got)
	}
	if strings.Contains(got, Open) {
		t.Errorf("residual token in %q", got)
	}
}

func TestReplaceKeepsUnmapped(t *testing.T) {
	text := "{{employee_name}} - {{date}} - {{signature}}"
	got := Replace(text, map[string]string{"employee_name": "علی محمدی"})

	want := "علی محمدی - {{date}} - {{signature}}"
	if got != want {
		t.Fatalf("Replace = %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{"date", "signature"}, Residual(got, NewSet("date", "signature", "employee_name"))); diff != "" {
		t.Errorf("Residual mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceValueWithBraces(t *testing.T) {
	// A value that looks like a token is inserted literally, not re-expanded.
	got := Replace("{{a}}", map[string]string{"a": "{{b}}", "b": "x"})
	if got != "{{b}}" {
		t.Errorf("Replace = %q", got)
	}
}

func TestCheck(t *testing.T) {
	found := Scan("{{employee_name}} {{date}} {{unknown}}")
	fields := []Field{
		{Name: "employee_name", Label: "نام"},
		{Name: "request_date", Placeholder: "date"},
		{Name: "phone"},
	}

	want := Report{
		Found:        []string{"employee_name", "date", "unknown"},
		Mapped:       []string{"employee_name", "date"},
		Unmapped:     []string{"unknown"},
		UnusedFields: []string{"phone"},
	}
	got := Check(found, fields)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Check mismatch (-want +got):\n%s", diff)
	}
	if got.Complete() {
		t.Error("report with unmapped tokens should not be complete")
	}
}

func TestValues(t *testing.T) {
	fields := []Field{
		{Name: "employee_name"},
		{Name: "request_date", Placeholder: "date"},
		{Name: "phone"},
	}
	got := Values(fields, map[string]string{"employee_name": "x", "request_date": "1402/11/15", "extra": "y"})
	want := map[string]string{"employee_name": "x", "date": "1402/11/15"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
}

func TestFieldToken(t *testing.T) {
	tests := []struct {
		f    Field
		want string
	}{
		{Field{Name: "full_name"}, "full_name"},
		{Field{Name: "full_name", Placeholder: "employee_name"}, "employee_name"},
		{Field{Name: "full_name", Placeholder: "{{employee_name}}"}, "employee_name"},
		{Field{Name: "full_name", Placeholder: "{{}}"}, "{{}}"},
	}
	for _, tt := range tests {
		if got := tt.f.Token(); got != tt.want {
			t.Errorf("%+v.Token() = %q, want %q", tt.f, got, tt.want)
		}
	}
}
