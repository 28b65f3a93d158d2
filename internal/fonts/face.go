package fonts

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// Face is a parsed font program ready to be embedded by a PDF writer.
type Face struct {
	Resolution Resolution
	Data       []byte
	font       *sfnt.Font
}

// OpenFace loads and parses the font behind res.
func (r *Registry) OpenFace(res Resolution) (*Face, error) {
	data, err := r.Load(res)
	if err != nil {
		return nil, err
	}
	return ParseFace(res, data)
}

// BuiltinFace returns the embedded Go Regular face.
func BuiltinFace() *Face {
	f, err := ParseFace(Resolution{Key: BuiltinKey, Family: "Go", Level: FallbackBuiltin}, nil)
	if err != nil {
		panic(err)
	}
	return f
}

func ParseFace(res Resolution, data []byte) (*Face, error) {
	if res.Builtin() && data == nil {
		data = goregular.TTF
	}
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFont, err)
	}
	return &Face{Resolution: res, Data: data, font: f}, nil
}

// Has reports whether the face maps r to a real glyph.
func (f *Face) Has(r rune) bool {
	var buf sfnt.Buffer
	idx, err := f.font.GlyphIndex(&buf, r)
	return err == nil && idx != 0
}

// Filter drops runes the face cannot draw and reports how many were
// dropped. Whitespace is always kept.
func (f *Face) Filter(s string) (string, int) {
	var buf sfnt.Buffer
	var b strings.Builder
	dropped := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			b.WriteRune(r)
			continue
		}
		if idx, err := f.font.GlyphIndex(&buf, r); err != nil || idx == 0 {
			dropped++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), dropped
}
