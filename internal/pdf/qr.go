package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/draw"
)

const qrSize = 48.0 // points

// QRCode renders content as a PNG QR code of px by px pixels.
func QRCode(content string, px int) ([]byte, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	code, err = barcode.Scale(code, px, px)
	if err != nil {
		return nil, fmt.Errorf("failed to scale QR code: %w", err)
	}
	// The barcode image is 16-bit grey, which the PDF engine rejects.
	gray := image.NewGray(code.Bounds())
	draw.Draw(gray, gray.Bounds(), code, code.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stampQR draws the tracking code QR with its top-left corner at (x, y).
// The image is registered once per document.
func (c *canvas) stampQR(code string, x, y float64) error {
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	name := "qr-" + code
	if c.pdf.GetImageInfo(name) == nil {
		data, err := QRCode(code, 256)
		if err != nil {
			return err
		}
		c.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		if c.pdf.Err() {
			return fmt.Errorf("failed to embed QR code: %w", c.pdf.Error())
		}
	}
	c.pdf.ImageOptions(name, x, y, qrSize, qrSize, false, opts, 0, "")
	return nil
}
