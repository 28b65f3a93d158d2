package pdf

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kspro0090/baradar/internal/placeholder"
	"github.com/kspro0090/baradar/internal/rtl"
)

// PageSize selects the page an image template is fitted to.
type PageSize string

const (
	PageA4       PageSize = "A4"
	PageA5       PageSize = "A5"
	PageOriginal PageSize = "original"
)

// Dimensions returns the page size in points. Original pages take the
// image size with one pixel per point.
func (p PageSize) Dimensions(imgW, imgH float64) (float64, float64) {
	switch strings.ToUpper(string(p)) {
	case "A5":
		return 419.53, 595.28
	case "ORIGINAL":
		return imgW, imgH
	}
	return 595.28, 841.89
}

// ParsePageSize accepts A4, A5 and original in any case. Empty means A4.
func ParsePageSize(s string) (PageSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "a4":
		return PageA4, nil
	case "a5":
		return PageA5, nil
	case "original":
		return PageOriginal, nil
	}
	return "", fmt.Errorf("unknown page size %q", s)
}

// LayoutEntry places one field on an image template. Coordinates are in
// source image pixels with the origin at the top-left corner.
type LayoutEntry struct {
	Field  string  `json:"field"`
	Label  string  `json:"label,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Font   string  `json:"font,omitempty"`
	Size   float64 `json:"size,omitempty"`
	Color  string  `json:"color,omitempty"` // #rrggbb
	Align  string  `json:"align,omitempty"` // left, right, center
}

const defaultTextSize = 12

type Layout []LayoutEntry

// ParseLayout decodes a JSON layout and checks every entry names a field
// and sits inside the image plane.
func ParseLayout(data []byte) (Layout, error) {
	var l Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("invalid layout JSON: %w", err)
	}
	for i, e := range l {
		if strings.TrimSpace(e.Field) == "" {
			return nil, fmt.Errorf("layout entry %d has no field", i)
		}
		if e.X < 0 || e.Y < 0 || e.Width < 0 || e.Height < 0 || e.Size < 0 {
			return nil, fmt.Errorf("layout entry %d (%s) has a negative dimension", i, e.Field)
		}
		if _, _, _, err := parseColor(e.Color); err != nil {
			return nil, fmt.Errorf("layout entry %d (%s): %w", i, e.Field, err)
		}
		switch e.Align {
		case "", "left", "right", "center":
		default:
			return nil, fmt.Errorf("layout entry %d (%s) has unknown align %q", i, e.Field, e.Align)
		}
	}
	return l, nil
}

// Fields returns the distinct field names of the layout in order.
func (l Layout) Fields() *placeholder.Set {
	s := placeholder.NewSet()
	for _, e := range l {
		s.Add(e.Field)
	}
	return s
}

func (e LayoutEntry) size() float64 {
	if e.Size > 0 {
		return e.Size
	}
	return defaultTextSize
}

// alignFor returns the effective alignment of text in the entry. Boxes
// with a width default to right alignment for right-to-left text.
func (e LayoutEntry) alignFor(text string) string {
	if e.Align != "" {
		return e.Align
	}
	if e.Width > 0 && rtl.IsRTL(text) {
		return "right"
	}
	return "left"
}

// Placement converts a layout box to the point where a string of width
// textWidth (in points) starts, in top-left page space. scale converts
// image pixels to points. The y value is the text baseline: the bottom of
// the box when it has a height, otherwise one font size below its top.
func Placement(e LayoutEntry, scale, textWidth float64, align string) (x, baseline float64) {
	switch align {
	case "right":
		x = (e.X+e.Width)*scale - textWidth
	case "center":
		x = (e.X+e.Width/2)*scale - textWidth/2
	default:
		x = e.X * scale
	}
	if e.Height > 0 {
		baseline = (e.Y + e.Height) * scale
	} else {
		baseline = e.Y*scale + e.size()*scale
	}
	return x, baseline
}

// parseColor reads #rgb or #rrggbb. Empty means black.
func parseColor(s string) (r, g, b int, err error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 0:
		return 0, 0, 0, nil
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
	default:
		return 0, 0, 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid color %q", s)
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), nil
}
