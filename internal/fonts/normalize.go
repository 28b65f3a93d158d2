package fonts

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// styleWords are weight and style tokens that do not identify a family.
// Longer words come first so "extrabold" is not eaten as "bold".
var styleWords = []string{
	"extralight", "ultralight", "extrabold", "ultrabold", "semibold", "demibold",
	"regular", "oblique", "italic", "medium", "normal", "heavy", "black",
	"light", "thin", "bold", "book", "web",
}

// Normalize canonicalizes a font name for matching: case is folded,
// separators are removed and trailing weight/style tokens are dropped.
// "Vazir-Bold", "vazir regular" and "VAZIR_Light" all normalize to "vazir".
func Normalize(name string) string {
	s := strings.ToLower(norm.NFKC.String(name))
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
	if len(tokens) == 0 {
		return ""
	}

	kept := tokens[:1]
	for _, tok := range tokens[1:] {
		if tok = trimStyle(tok); tok != "" {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, "")
}

// trimStyle strips style words from the end of tok until none remain,
// so "bolditalic" disappears entirely.
func trimStyle(tok string) string {
	for {
		trimmed := false
		for _, w := range styleWords {
			if strings.HasSuffix(tok, w) {
				tok = strings.TrimSuffix(tok, w)
				trimmed = true
				break
			}
		}
		if !trimmed || tok == "" {
			return tok
		}
	}
}
