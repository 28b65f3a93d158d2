// Package rtl prepares Persian and Arabic text for drawing engines that do
// no shaping of their own: letters are replaced by their joined
// presentation forms and the line is put into visual order.
package rtl

import (
	"golang.org/x/text/unicode/bidi"
)

// Options control shaping.
type Options struct {
	// KeepDiacritics keeps harakat and other combining marks. They are
	// dropped by default.
	KeepDiacritics bool
}

type Shaper struct {
	opts Options
}

func New(opts Options) *Shaper {
	return &Shaper{opts: opts}
}

// Shape returns text ready to be drawn left to right. Text without any
// right-to-left characters is returned unchanged, and so is any input that
// trips an unexpected condition.
func (s *Shaper) Shape(text string) (out string) {
	if !ContainsRTL(text) {
		return text
	}
	defer func() {
		if recover() != nil {
			out = text
		}
	}()

	runes := []rune(text)
	if !s.opts.KeepDiacritics {
		runes = dropMarks(runes)
	}
	return string(reorder(join(runes)))
}

func dropMarks(runes []rune) []rune {
	out := runes[:0:0]
	for _, r := range runes {
		if !isMark(r) {
			out = append(out, r)
		}
	}
	return out
}

// ContainsRTL reports whether text has any right-to-left letter.
func ContainsRTL(text string) bool {
	for _, r := range text {
		switch classOf(r) {
		case bidi.R, bidi.AL:
			return true
		}
	}
	return false
}

// IsRTL reports whether the first strong character of text is
// right-to-left, which makes it a right-to-left paragraph.
func IsRTL(text string) bool {
	for _, r := range text {
		switch classOf(r) {
		case bidi.R, bidi.AL:
			return true
		case bidi.L:
			return false
		}
	}
	return false
}

func classOf(r rune) bidi.Class {
	p, _ := bidi.LookupRune(r)
	return p.Class()
}
