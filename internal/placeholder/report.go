package placeholder

import "strings"

// Field binds a form field to the token it fills.
type Field struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
}

// Token returns the placeholder name the field fills. An empty placeholder
// means the field name itself is used. Administrators may enter the
// placeholder with its braces; they are removed.
func (f Field) Token() string {
	p := f.Placeholder
	if len(p) > len(Open)+len(Close) && strings.HasPrefix(p, Open) && strings.HasSuffix(p, Close) {
		p = p[len(Open) : len(p)-len(Close)]
	}
	if p != "" {
		return p
	}
	return f.Name
}

// Report compares the tokens a template uses with the fields defined for it.
type Report struct {
	Found        []string `json:"found"`
	Mapped       []string `json:"mapped"`
	Unmapped     []string `json:"unmapped"`
	UnusedFields []string `json:"unused_fields"`
}

// Complete reports whether every token found has a field.
func (r Report) Complete() bool { return len(r.Unmapped) == 0 }

// Check builds the report for found against fields.
func Check(found *Set, fields []Field) Report {
	byToken := make(map[string]bool, len(fields))
	for _, f := range fields {
		byToken[f.Token()] = true
	}

	r := Report{Found: found.Names(), Mapped: []string{}, Unmapped: []string{}, UnusedFields: []string{}}
	for _, name := range found.names {
		if byToken[name] {
			r.Mapped = append(r.Mapped, name)
		} else {
			r.Unmapped = append(r.Unmapped, name)
		}
	}
	for _, f := range fields {
		if !found.Has(f.Token()) {
			r.UnusedFields = append(r.UnusedFields, f.Name)
		}
	}
	return r
}

// Values turns a submission keyed by field name into a mapping keyed by
// placeholder name. Fields without a submitted value are left out so their
// tokens stay visible.
func Values(fields []Field, submission map[string]string) map[string]string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := submission[f.Name]; ok {
			values[f.Token()] = v
		}
	}
	return values
}
