// Package pdf draws filled templates into PDF files. Text is shaped for
// right-to-left scripts before drawing because the PDF engine lays glyphs
// out strictly left to right.
package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/rtl"
)

type Options struct {
	KeepDiacritics bool
	// QR adds a QR code of the tracking code to each page.
	QR bool
	// NoCompression leaves content streams readable. Used by tests.
	NoCompression bool
}

// DrawnText records one string as it was drawn. X and Y are the start of
// the baseline in points from the top-left corner of the page.
type DrawnText struct {
	Page    int     `json:"page"`
	Text    string  `json:"text"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Font    string  `json:"font"`
	Size    float64 `json:"size"`
	Dropped int     `json:"dropped,omitempty"` // runes the font could not draw
}

type Output struct {
	PDF   []byte
	Pages int
	Text  []DrawnText
}

// Stamp carries request metadata printed on generated pages.
type Stamp struct {
	TrackingCode string
}

type Emitter struct {
	fonts  *fonts.Registry
	shaper *rtl.Shaper
	logger *zap.Logger
	opts   Options
	now    func() time.Time
}

// NewEmitter returns an emitter drawing with fonts from registry. A nil
// registry limits drawing to the built-in face.
func NewEmitter(registry *fonts.Registry, logger *zap.Logger, opts Options) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		fonts:  registry,
		shaper: rtl.New(rtl.Options{KeepDiacritics: opts.KeepDiacritics}),
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// canvas is one PDF under construction with the fonts embedded so far.
type canvas struct {
	e     *Emitter
	pdf   *gofpdf.Fpdf
	faces map[string]*fonts.Face // by gofpdf family
	names map[string]fonts.Resolution
	face  *fonts.Face
	fam   string
	size  float64
	text  []DrawnText
}

func (e *Emitter) newCanvas(width, height float64) *canvas {
	doc := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: width, Ht: height},
	})
	doc.SetCompression(!e.opts.NoCompression)
	doc.SetAutoPageBreak(false, 0)
	doc.SetMargins(0, 0, 0)
	doc.SetCreator("baradar", true)
	doc.SetCreationDate(e.now())
	doc.SetCatalogSort(true)
	return &canvas{e: e, pdf: doc, faces: make(map[string]*fonts.Face), names: make(map[string]fonts.Resolution)}
}

// resolve looks a requested font name up once per document.
func (c *canvas) resolve(name string, fallback fonts.Resolution) fonts.Resolution {
	if name == "" || c.e.fonts == nil {
		return fallback
	}
	res, ok := c.names[name]
	if !ok {
		res = c.e.fonts.Resolve(name)
		c.names[name] = res
	}
	return res
}

func familyOf(res fonts.Resolution) string {
	return "f-" + res.Key
}

// useFont selects the face for res, embedding it on first use. A face
// that cannot be embedded is replaced by the built-in face.
func (c *canvas) useFont(res fonts.Resolution, size float64) {
	key := familyOf(res)
	face, ok := c.faces[key]
	if !ok {
		var err error
		if face, err = c.embed(key, res); err != nil {
			c.e.logger.Warn("font could not be embedded, using built-in face",
				zap.String("requested", res.Requested),
				zap.String("font", res.Family),
				zap.Error(err))
			face = c.builtin()
			c.faces[key] = face
		}
	}

	fam := familyOf(face.Resolution)
	c.pdf.SetFont(fam, "", size)
	c.face, c.fam, c.size = face, fam, size
}

func (c *canvas) builtin() *fonts.Face {
	res := fonts.BuiltinFace().Resolution
	key := familyOf(res)
	if face, ok := c.faces[key]; ok {
		return face
	}
	face, err := c.embed(key, res)
	if err != nil {
		panic(fmt.Sprintf("pdf: built-in face rejected: %v", err))
	}
	return face
}

func (c *canvas) embed(fam string, res fonts.Resolution) (face *fonts.Face, err error) {
	defer func() {
		// The TrueType parser panics on some malformed tables.
		if r := recover(); r != nil {
			face, err = nil, fmt.Errorf("font parser: %v", r)
		}
	}()

	if c.e.fonts != nil {
		face, err = c.e.fonts.OpenFace(res)
	} else {
		face, err = fonts.ParseFace(res, nil)
	}
	if err != nil {
		return nil, err
	}

	c.pdf.AddUTF8FontFromBytes(fam, "", face.Data)
	if c.pdf.Err() {
		err = c.pdf.Error()
		c.pdf.ClearError()
		return nil, err
	}
	c.faces[fam] = face
	return face, nil
}

// prepare shapes text for drawing and removes runes the current face
// has no glyph for.
func (c *canvas) prepare(text string) (shaped, drawable string, dropped int) {
	shaped = c.e.shaper.Shape(text)
	drawable, dropped = c.face.Filter(shaped)
	return shaped, drawable, dropped
}

// width measures logical text as it will be drawn.
func (c *canvas) width(text string) float64 {
	_, drawable, _ := c.prepare(text)
	return c.pdf.GetStringWidth(drawable)
}

// draw writes logical text with its baseline starting at (x, y) in
// top-left page space.
func (c *canvas) draw(x, y float64, text string, bold bool) {
	shaped, drawable, dropped := c.prepare(text)
	if dropped > 0 {
		c.e.logger.Debug("dropped runes without glyphs",
			zap.String("font", c.face.Resolution.Family), zap.Int("count", dropped))
	}
	c.pdf.Text(x, y, drawable)
	if bold {
		// No bold face is embedded; overprint with a small offset.
		c.pdf.Text(x+c.size*0.03, y, drawable)
	}
	c.text = append(c.text, DrawnText{
		Page:    c.pdf.PageNo(),
		Text:    shaped,
		X:       x,
		Y:       y,
		Font:    c.face.Resolution.Family,
		Size:    c.size,
		Dropped: dropped,
	})
}

func (c *canvas) finish() (*Output, error) {
	var buf bytes.Buffer
	if err := c.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return &Output{PDF: buf.Bytes(), Pages: c.pdf.PageCount(), Text: c.text}, nil
}
