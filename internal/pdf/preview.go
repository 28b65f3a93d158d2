package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/kspro0090/baradar/internal/fonts"
)

type previewFace struct {
	glyphs *fonts.Face
	face   font.Face
}

// Preview draws the layout onto a copy of the template image and returns
// it as PNG, in source pixels. Entries without a value show their label,
// or the field name, so every box is visible.
func (e *Emitter) Preview(ctx context.Context, page ImagePage, fallback fonts.Resolution) ([]byte, error) {
	raster, err := DecodeImage(page.Image)
	if err != nil {
		return nil, err
	}
	src := raster.Image
	dst := image.NewRGBA(image.Rect(0, 0, int(raster.Width), int(raster.Height)))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)

	faces := make(map[string]*previewFace)
	defer func() {
		for _, f := range faces {
			f.face.Close()
		}
	}()

	for _, entry := range page.Layout {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := page.Values[entry.Field]
		if text == "" {
			text = entry.Label
		}
		if text == "" {
			text = entry.Field
		}

		res := fallback
		if entry.Font != "" && e.fonts != nil {
			res = e.fonts.Resolve(entry.Font)
		}
		pf, err := e.previewFace(faces, res, entry.size())
		if err != nil {
			return nil, err
		}

		shaped, _ := pf.glyphs.Filter(e.shaper.Shape(text))
		width := float64(font.MeasureString(pf.face, shaped)) / 64
		x, y := Placement(entry, 1, width, entry.alignFor(text))

		r, g, b, _ := parseColor(entry.Color)
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xff}),
			Face: pf.face,
			Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
		}
		d.DrawString(shaped)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Emitter) previewFace(cache map[string]*previewFace, res fonts.Resolution, size float64) (*previewFace, error) {
	key := fmt.Sprintf("%s@%g", res.Key, size)
	if pf, ok := cache[key]; ok {
		return pf, nil
	}

	glyphs, err := e.openFace(res)
	if err != nil {
		e.logger.Warn("preview font unusable, using built-in face",
			zap.String("font", res.Family), zap.Error(err))
		glyphs = fonts.BuiltinFace()
	}
	parsed, err := opentype.Parse(glyphs.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", glyphs.Resolution.Family, err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, fmt.Errorf("failed to create face %s: %w", glyphs.Resolution.Family, err)
	}

	pf := &previewFace{glyphs: glyphs, face: face}
	cache[key] = pf
	return pf, nil
}

func (e *Emitter) openFace(res fonts.Resolution) (*fonts.Face, error) {
	if e.fonts == nil {
		return fonts.ParseFace(res, nil)
	}
	return e.fonts.OpenFace(res)
}
