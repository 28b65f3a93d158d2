// Package placeholder implements the {{name}} token syntax shared by every
// template kind. The syntax is a wire format: names are matched exactly,
// case- and whitespace-sensitive, and never trimmed.
package placeholder

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	Open  = "{{"
	Close = "}}"
)

var tokenPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Match is one token occurrence. Start and End are byte offsets of the
// whole token including braces.
type Match struct {
	Name  string
	Start int
	End   int
}

// Token renders name in template syntax.
func Token(name string) string {
	return Open + name + Close
}

// Find returns every well-formed token in text in order of appearance.
// Tokens touching an extra brace ("{{{a}}}") and tokens whose name starts
// or ends with whitespace ("{{ a }}") are not matches.
func Find(text string) []Match {
	var matches []Match
	for _, loc := range tokenPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && text[start-1] == '{' {
			continue
		}
		if end < len(text) && text[end] == '}' {
			continue
		}
		name := text[loc[2]:loc[3]]
		if !validName(name) {
			continue
		}
		matches = append(matches, Match{Name: name, Start: start, End: end})
	}
	return matches
}

func validName(name string) bool {
	first, _ := utf8.DecodeRuneInString(name)
	last, _ := utf8.DecodeLastRuneInString(name)
	return !unicode.IsSpace(first) && !unicode.IsSpace(last)
}

// Replace substitutes every token whose name is in values. Tokens without
// a value are left in place so a reader can see the gap.
func Replace(text string, values map[string]string) string {
	matches := Find(text)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		v, ok := values[m.Name]
		if !ok {
			continue
		}
		b.WriteString(text[prev:m.Start])
		b.WriteString(v)
		prev = m.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Set is an insertion-ordered set of placeholder names.
type Set struct {
	names []string
	seen  map[string]struct{}
}

func NewSet(names ...string) *Set {
	s := &Set{seen: make(map[string]struct{})}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts name and reports whether it was new.
func (s *Set) Add(name string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[name]; ok {
		return false
	}
	s.seen[name] = struct{}{}
	s.names = append(s.names, name)
	return true
}

func (s *Set) Has(name string) bool {
	_, ok := s.seen[name]
	return ok
}

func (s *Set) Len() int { return len(s.names) }

// Names returns the names in first-seen order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Merge adds every name of other.
func (s *Set) Merge(other *Set) {
	for _, n := range other.names {
		s.Add(n)
	}
}

// Scan collects the distinct token names of the given texts. Each text
// must be a whole paragraph or cell, never a single formatting run.
func Scan(texts ...string) *Set {
	s := NewSet()
	for _, t := range texts {
		for _, m := range Find(t) {
			s.Add(m.Name)
		}
	}
	return s
}

// Residual returns the names of tokens still present in text that belong
// to names.
func Residual(text string, names *Set) []string {
	var left []string
	for _, m := range Find(text) {
		if names.Has(m.Name) {
			left = append(left, m.Name)
		}
	}
	return left
}
