package pdf

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/processor"
	"github.com/kspro0090/baradar/internal/rtl"
)

const (
	defaultParagraphSize = 11.0
	lineSpacing          = 1.4
	cellPadding          = 4.0
)

// docWriter lays a processor.Document out on pages.
type docWriter struct {
	*canvas
	layout processor.DocumentLayout
	font   fonts.Resolution
	y      float64
	err    error
}

// EmitDocument draws the body of doc in order with its headers and footers
// repeated on every page. font is used for paragraphs that name no font.
func (e *Emitter) EmitDocument(ctx context.Context, doc *processor.Document, font fonts.Resolution, stamp Stamp) (*Output, error) {
	l := doc.Layout
	w := &docWriter{
		canvas: e.newCanvas(l.PageWidth, l.PageHeight),
		layout: l,
		font:   font,
	}

	w.pdf.SetHeaderFunc(func() {
		w.blocksAt(doc.Header, l.TopMargin/2)
	})
	w.pdf.SetFooterFunc(func() {
		w.blocksAt(doc.Footer, l.PageHeight-l.BottomMargin*0.75)
		if e.opts.QR && stamp.TrackingCode != "" {
			if err := w.stampQR(stamp.TrackingCode, l.LeftMargin, l.PageHeight-qrSize-8); err != nil && w.err == nil {
				w.err = err
			}
		}
	})

	w.newPage()
	for _, b := range doc.Body {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case b.Paragraph != nil:
			w.paragraph(*b.Paragraph, l.LeftMargin, l.ContentWidth(), true)
		case b.Table != nil:
			w.table(b.Table)
		}
		if w.err != nil {
			return nil, w.err
		}
	}

	out, err := w.finish()
	if err != nil {
		return nil, err
	}
	if w.err != nil {
		return nil, w.err
	}
	return out, nil
}

func (w *docWriter) newPage() {
	w.pdf.AddPage()
	w.y = w.layout.TopMargin
}

func (w *docWriter) bottom() float64 {
	return w.layout.PageHeight - w.layout.BottomMargin
}

// blocksAt draws header or footer blocks starting at y without moving the
// body cursor.
func (w *docWriter) blocksAt(blocks []processor.Block, y float64) {
	saved := w.y
	face, fam, size := w.face, w.fam, w.size
	w.y = y
	for _, b := range blocks {
		if b.Paragraph != nil {
			w.paragraph(*b.Paragraph, w.layout.LeftMargin, w.layout.ContentWidth(), false)
		}
	}
	w.y = saved
	if face != nil {
		w.pdf.SetFont(fam, "", size)
		w.face, w.fam, w.size = face, fam, size
	}
}

func (w *docWriter) paragraphSize(p processor.Paragraph) float64 {
	if p.Size > 0 {
		return p.Size
	}
	return defaultParagraphSize
}

// paragraph draws p wrapped to width starting at x. With breakPages set a
// line that does not fit starts a new page.
func (w *docWriter) paragraph(p processor.Paragraph, x, width float64, breakPages bool) {
	size := w.paragraphSize(p)
	w.useFont(w.resolve(p.Font, w.font), size)
	w.pdf.SetTextColor(0, 0, 0)

	lineHeight := size * lineSpacing
	align := resolveAlign(p)
	for _, line := range w.wrap(p.Text, width) {
		if breakPages && w.y+lineHeight > w.bottom() {
			w.newPage()
			w.useFont(w.resolve(p.Font, w.font), size)
		}
		w.y += lineHeight
		if strings.TrimSpace(line) == "" {
			continue
		}
		lw := w.width(line)
		lx := x
		switch align {
		case "right":
			lx = x + width - lw
		case "center":
			lx = x + (width-lw)/2
		}
		w.draw(lx, w.y-size*0.3, line, p.Bold)
	}
	w.y += size * 0.4
}

// resolveAlign maps the paragraph alignment to left, right or center.
// Start, end, justified and unset alignment follow the text direction.
func resolveAlign(p processor.Paragraph) string {
	rtlPara := p.Bidi || rtl.IsRTL(p.Text)
	switch p.Align {
	case "left", "right", "center":
		return p.Align
	case "end":
		if rtlPara {
			return "left"
		}
		return "right"
	}
	if rtlPara {
		return "right"
	}
	return "left"
}

// wrap breaks logical text into lines no wider than width. Hard breaks
// are kept; words longer than a line are split by rune.
func (w *docWriter) wrap(text string, width float64) []string {
	text = strings.ReplaceAll(text, "\t", "    ")
	var lines []string
	for _, hard := range strings.Split(text, "\n") {
		words := strings.Fields(hard)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		cur := ""
		for _, word := range words {
			candidate := word
			if cur != "" {
				candidate = cur + " " + word
			}
			if w.width(candidate) <= width {
				cur = candidate
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
			}
			for w.width(word) > width && utf8.RuneCountInString(word) > 1 {
				head, rest := w.split(word, width)
				lines = append(lines, head)
				word = rest
			}
			cur = word
		}
		lines = append(lines, cur)
	}
	return lines
}

// split returns the longest prefix of word that fits width, at least one
// rune.
func (w *docWriter) split(word string, width float64) (string, string) {
	runes := []rune(word)
	n := 1
	for n < len(runes) && w.width(string(runes[:n+1])) <= width {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}

// table draws bordered rows. Column widths follow the longest text in each
// column; tables holding right-to-left text run their columns from the
// right edge.
func (w *docWriter) table(t *processor.Table) {
	cols := 0
	for _, row := range t.Rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return
	}

	weights := make([]float64, cols)
	rtlTable := false
	for _, row := range t.Rows {
		for i, cell := range row {
			text := cell.Text()
			weights[i] = max(weights[i], float64(utf8.RuneCountInString(text)))
			if rtl.IsRTL(text) {
				rtlTable = true
			}
		}
	}
	total := 0.0
	for i := range weights {
		weights[i] = max(weights[i], 3)
		total += weights[i]
	}

	content := w.layout.ContentWidth()
	widths := make([]float64, cols)
	for i := range weights {
		widths[i] = content * weights[i] / total
	}

	for _, row := range t.Rows {
		height := w.rowHeight(row, widths)
		if w.y+height > w.bottom() {
			w.newPage()
		}
		top := w.y
		x := w.layout.LeftMargin
		if rtlTable {
			x += content
		}
		for i := 0; i < cols; i++ {
			if rtlTable {
				x -= widths[i]
			}
			w.pdf.Rect(x, top, widths[i], height, "D")
			if i < len(row) {
				w.y = top + cellPadding
				for _, p := range row[i].Paragraphs {
					w.paragraph(p, x+cellPadding, widths[i]-2*cellPadding, false)
				}
			}
			if !rtlTable {
				x += widths[i]
			}
		}
		w.y = top + height
	}
	w.y += defaultParagraphSize * 0.4
}

func (w *docWriter) rowHeight(row []processor.Cell, widths []float64) float64 {
	tallest := 0.0
	for i, cell := range row {
		h := 0.0
		for _, p := range cell.Paragraphs {
			size := w.paragraphSize(p)
			w.useFont(w.resolve(p.Font, w.font), size)
			lines := len(w.wrap(p.Text, widths[i]-2*cellPadding))
			h += float64(lines)*size*lineSpacing + size*0.4
		}
		tallest = max(tallest, h)
	}
	return tallest + 2*cellPadding
}
