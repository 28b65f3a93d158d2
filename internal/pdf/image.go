package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/placeholder"
)

// ErrImageLoad is returned when the template image cannot be decoded. No
// blank page is produced in that case.
var ErrImageLoad = errors.New("pdf: template image cannot be loaded")

// ImagePage is an image template with the values to draw on it.
type ImagePage struct {
	Image  []byte
	Size   PageSize
	Layout Layout
	Values map[string]string
	Stamp  Stamp
}

// Raster is a decoded template image in a form the PDF engine accepts.
type Raster struct {
	Image  image.Image
	Data   []byte // JPEG or PNG bytes
	Type   string // JPG or PNG
	Width  float64
	Height float64
}

// DecodeImage reads PNG, JPEG, GIF, BMP, TIFF and WebP images. JPEG data
// is kept as is; anything else is flattened onto white and re-encoded as
// PNG.
func DecodeImage(data []byte) (*Raster, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrImageLoad)
	}
	r := &Raster{Image: img, Width: float64(b.Dx()), Height: float64(b.Dy())}

	if format == "jpeg" {
		r.Data, r.Type = data, "JPG"
		return r, nil
	}

	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, flat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	r.Image, r.Data, r.Type = flat, buf.Bytes(), "PNG"
	return r, nil
}

// Fit returns the scale that fits the raster on a page of the given size
// without distortion.
func (r *Raster) Fit(pageW, pageH float64) float64 {
	return math.Min(pageW/r.Width, pageH/r.Height)
}

// EmitImage draws the image scaled onto the page and every layout entry
// that has a value on top of it. font is used for entries that name no
// font of their own.
func (e *Emitter) EmitImage(ctx context.Context, page ImagePage, font fonts.Resolution) (*Output, error) {
	raster, err := DecodeImage(page.Image)
	if err != nil {
		return nil, err
	}

	pageW, pageH := page.Size.Dimensions(raster.Width, raster.Height)
	scale := raster.Fit(pageW, pageH)

	c := e.newCanvas(pageW, pageH)
	c.pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: raster.Type}
	c.pdf.RegisterImageOptionsReader("template", opts, bytes.NewReader(raster.Data))
	if c.pdf.Err() {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, c.pdf.Error())
	}
	c.pdf.ImageOptions("template", 0, 0, raster.Width*scale, raster.Height*scale, false, opts, 0, "")

	for _, entry := range page.Layout {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value, ok := page.Values[entry.Field]
		if !ok {
			// Unmapped fields stay visible.
			value = entry.Label
			if value == "" {
				value = placeholder.Token(entry.Field)
			}
		}
		if value == "" {
			continue
		}

		c.useFont(c.resolve(entry.Font, font), entry.size()*scale)
		r, g, b, _ := parseColor(entry.Color)
		c.pdf.SetTextColor(r, g, b)

		x, y := Placement(entry, scale, c.width(value), entry.alignFor(value))
		c.draw(x, y, value, false)
	}

	if e.opts.QR && page.Stamp.TrackingCode != "" {
		if err := c.stampQR(page.Stamp.TrackingCode, 8, pageH-8-qrSize); err != nil {
			return nil, err
		}
	}
	return c.finish()
}
