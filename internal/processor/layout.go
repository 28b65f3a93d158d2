package processor

import (
	"regexp"
	"strconv"
	"strings"
)

type DocumentLayout struct {
	PageWidth    float64 // Page width in points
	PageHeight   float64 // Page height in points
	LeftMargin   float64 // Left margin in points
	RightMargin  float64 // Right margin in points
	TopMargin    float64 // Top margin in points
	BottomMargin float64 // Bottom margin in points
	LineHeight   float64 // Default line height in points
	Landscape    bool    // True if page is in landscape orientation
}

// ContentWidth is the width between the side margins.
func (l DocumentLayout) ContentWidth() float64 {
	return l.PageWidth - l.LeftMargin - l.RightMargin
}

// A4 portrait with one inch margins.
func defaultLayout() DocumentLayout {
	return DocumentLayout{
		PageWidth:    595.3,
		PageHeight:   841.9,
		LeftMargin:   72,
		RightMargin:  72,
		TopMargin:    72,
		BottomMargin: 72,
		LineHeight:   14.4, // 12pt font with 1.2 line spacing
	}
}

var (
	sectPrTag = regexp.MustCompile(`(?s)<w:sectPr\b.*?</w:sectPr>`)
	pgSzTag   = regexp.MustCompile(`<w:pgSz\b[^>]*>`)
	pgMarTag  = regexp.MustCompile(`<w:pgMar\b[^>]*>`)
)

// parseDocumentLayout reads page size, margins and orientation from the
// first w:sectPr of document.xml.
func parseDocumentLayout(content string) DocumentLayout {
	layout := defaultLayout()

	sect := sectPrTag.FindString(content)
	if sect == "" {
		return layout
	}

	if tag := pgSzTag.FindString(sect); tag != "" {
		if w := twipsAttr(tag, "w"); w > 0 {
			layout.PageWidth = w
		}
		if h := twipsAttr(tag, "h"); h > 0 {
			layout.PageHeight = h
		}
		layout.Landscape = attr(tag, "orient") == "landscape"
	}

	if tag := pgMarTag.FindString(sect); tag != "" {
		for name, dst := range map[string]*float64{
			"left":   &layout.LeftMargin,
			"right":  &layout.RightMargin,
			"top":    &layout.TopMargin,
			"bottom": &layout.BottomMargin,
		} {
			if v := twipsAttr(tag, name); v > 0 {
				*dst = v
			}
		}
	}

	// No explicit orientation: decide by the page shape.
	if !layout.Landscape {
		layout.Landscape = layout.PageWidth > layout.PageHeight
	}
	return layout
}

// attr returns the value of the w:name attribute of a tag.
func attr(tag, name string) string {
	key := `w:` + name + `="`
	start := strings.Index(tag, key)
	if start == -1 {
		return ""
	}
	start += len(key)
	end := strings.IndexByte(tag[start:], '"')
	if end == -1 {
		return ""
	}
	return tag[start : start+end]
}

// twipsAttr converts a twentieths-of-a-point attribute to points.
func twipsAttr(tag, name string) float64 {
	v, err := strconv.ParseFloat(attr(tag, name), 64)
	if err != nil {
		return 0
	}
	return v / 20
}
