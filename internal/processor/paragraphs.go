package processor

import (
	"bytes"
	"encoding/xml"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/kspro0090/baradar/internal/placeholder"
)

// paragraphOrText matches the tags that delimit paragraphs and text runs.
// <w:pPr>, <w:tab/> and <w:tbl> do not match.
var paragraphOrText = regexp.MustCompile(`<(/?)w:(p|t)((?:\s[^>]*?)?)(/?)>`)

// segment is the character data of one <w:t> element.
type segment struct {
	start, end int // content offsets in the part
	openStart  int // offset of the opening tag
	openEnd    int
	value      string // unescaped
}

type paragraph struct {
	segments []segment
}

func (p *paragraph) text() string {
	var b strings.Builder
	for _, s := range p.segments {
		b.WriteString(s.value)
	}
	return b.String()
}

// scanParagraphs returns every paragraph of an XML part with its text
// segments. Paragraphs nested in text boxes are returned on their own and
// do not contribute to the enclosing paragraph.
func scanParagraphs(data []byte) []*paragraph {
	var (
		stack []*paragraph
		done  []*paragraph
		open  = -1
		openS int
		openE int
	)

	for _, m := range paragraphOrText.FindAllSubmatchIndex(data, -1) {
		closing := m[3] > m[2]
		name := string(data[m[4]:m[5]])
		selfClosing := m[9] > m[8]

		switch {
		case name == "p" && selfClosing:
		case name == "p" && !closing:
			stack = append(stack, &paragraph{})
		case name == "p" && closing:
			if len(stack) > 0 {
				done = append(done, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
		case name == "t" && selfClosing:
		case name == "t" && !closing:
			open, openS, openE = m[1], m[0], m[1]
		case name == "t" && closing:
			if open >= 0 && len(stack) > 0 {
				top := stack[len(stack)-1]
				top.segments = append(top.segments, segment{
					start:     open,
					end:       m[0],
					openStart: openS,
					openEnd:   openE,
					value:     html.UnescapeString(string(data[open:m[0]])),
				})
			}
			open = -1
		}
	}
	return done
}

type edit struct {
	start, end int
	repl       []byte
}

// replaceInPart substitutes mapped tokens paragraph by paragraph. A token
// may span several runs; its value is written into the run holding the
// opening braces and the rest of the token is removed from the following
// runs, so the first run's formatting wins.
func replaceInPart(data []byte, values map[string]string) ([]byte, int, error) {
	var edits []edit
	count := 0

	for _, p := range scanParagraphs(data) {
		full := p.text()
		matches := placeholder.Find(full)
		if len(matches) == 0 {
			continue
		}

		// Offsets of each segment inside full.
		offsets := make([]int, len(p.segments)+1)
		for i, s := range p.segments {
			offsets[i+1] = offsets[i] + len(s.value)
		}

		newValues := make([]string, len(p.segments))
		changed := make([]bool, len(p.segments))
		for i, s := range p.segments {
			newValues[i] = s.value
		}

		// Apply right to left so earlier offsets stay valid.
		for k := len(matches) - 1; k >= 0; k-- {
			m := matches[k]
			v, ok := values[m.Name]
			if !ok {
				continue
			}
			count++

			first := sort.SearchInts(offsets, m.Start+1) - 1
			for i := first; i < len(p.segments) && offsets[i] < m.End; i++ {
				segStart := offsets[i]
				lo := max(m.Start, segStart) - segStart
				hi := min(m.End, offsets[i+1]) - segStart
				cur := newValues[i]
				if i == first {
					newValues[i] = cur[:lo] + v + cur[hi:]
				} else {
					newValues[i] = cur[:lo] + cur[hi:]
				}
				changed[i] = true
			}
		}

		for i, s := range p.segments {
			if !changed[i] {
				continue
			}
			edits = append(edits, edit{start: s.start, end: s.end, repl: escapeText(newValues[i])})
			if needsPreserve(newValues[i]) && !bytes.Contains(data[s.openStart:s.openEnd], []byte("xml:space")) {
				edits = append(edits, edit{start: s.openEnd - 1, end: s.openEnd - 1, repl: []byte(` xml:space="preserve"`)})
			}
		}
	}

	if len(edits) == 0 {
		return data, 0, nil
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := append([]byte(nil), data...)
	for _, e := range edits {
		out = append(out[:e.start], append(append([]byte(nil), e.repl...), out[e.end:]...)...)
	}
	return out, count, nil
}

func needsPreserve(s string) bool {
	return s != strings.TrimSpace(s) || strings.Contains(s, "  ")
}

func escapeText(s string) []byte {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.Bytes()
}
