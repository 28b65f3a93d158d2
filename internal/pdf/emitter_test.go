package pdf

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/processor"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 240, G: 240, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testEmitter() *Emitter {
	return NewEmitter(nil, nil, Options{NoCompression: true})
}

var textOp = regexp.MustCompile(`BT ([\d.]+) ([\d.]+) Td`)

func textPositions(t *testing.T, pdf []byte) [][2]float64 {
	t.Helper()
	var out [][2]float64
	for _, m := range textOp.FindAllSubmatch(pdf, -1) {
		x, _ := strconv.ParseFloat(string(m[1]), 64)
		y, _ := strconv.ParseFloat(string(m[2]), 64)
		out = append(out, [2]float64{x, y})
	}
	return out
}

func TestPlacement(t *testing.T) {
	tests := []struct {
		name         string
		entry        LayoutEntry
		scale, width float64
		align        string
		wantX, wantY float64
	}{
		{"left with height", LayoutEntry{X: 10, Y: 20, Height: 30}, 1, 50, "left", 10, 50},
		{"no height uses size", LayoutEntry{X: 10, Y: 20, Size: 16}, 1, 50, "left", 10, 36},
		{"default size", LayoutEntry{X: 0, Y: 0}, 2, 0, "left", 0, 24},
		{"right", LayoutEntry{X: 100, Y: 0, Width: 200, Height: 10}, 0.5, 40, "right", 110, 5},
		{"center", LayoutEntry{X: 100, Y: 0, Width: 200, Height: 10}, 1, 40, "center", 180, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := Placement(tt.entry, tt.scale, tt.width, tt.align)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("Placement = (%v, %v), want (%v, %v)", x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestAlignDefaultsToRightForRTL(t *testing.T) {
	boxed := LayoutEntry{Width: 100}
	if got := boxed.alignFor("علی"); got != "right" {
		t.Errorf("alignFor(rtl) = %q", got)
	}
	if got := boxed.alignFor("Ali"); got != "left" {
		t.Errorf("alignFor(ltr) = %q", got)
	}
	if got := (LayoutEntry{}).alignFor("علی"); got != "left" {
		t.Errorf("alignFor(rtl, no width) = %q", got)
	}
	if got := (LayoutEntry{Width: 100, Align: "center"}).alignFor("علی"); got != "center" {
		t.Errorf("explicit align = %q", got)
	}
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout([]byte(`[
		{"field": "full_name", "x": 100, "y": 50, "width": 200, "size": 14, "color": "#333"},
		{"field": "date", "x": 10, "y": 10},
		{"field": "full_name", "x": 10, "y": 300}
	]`))
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if diff := cmp.Diff([]string{"full_name", "date"}, l.Fields().Names()); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}

	bad := []string{
		`{"field": "x"}`,
		`[{"x": 1}]`,
		`[{"field": "a", "x": -1}]`,
		`[{"field": "a", "color": "blue"}]`,
		`[{"field": "a", "align": "justify"}]`,
	}
	for _, in := range bad {
		if _, err := ParseLayout([]byte(in)); err == nil {
			t.Errorf("ParseLayout(%s) succeeded, want error", in)
		}
	}
}

func TestParseColor(t *testing.T) {
	r, g, b, err := parseColor("#1a2B3c")
	if err != nil || r != 0x1a || g != 0x2b || b != 0x3c {
		t.Errorf("parseColor = %d %d %d %v", r, g, b, err)
	}
	r, g, b, _ = parseColor("#f00")
	if r != 255 || g != 0 || b != 0 {
		t.Errorf("short form = %d %d %d", r, g, b)
	}
}

func TestPageSize(t *testing.T) {
	for in, want := range map[string]PageSize{"": PageA4, "a4": PageA4, "A5": PageA5, "Original": PageOriginal} {
		got, err := ParsePageSize(in)
		if err != nil || got != want {
			t.Errorf("ParsePageSize(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePageSize("letter"); err == nil {
		t.Error("ParsePageSize(letter) succeeded")
	}
	if w, h := PageOriginal.Dimensions(640, 480); w != 640 || h != 480 {
		t.Errorf("original = %v x %v", w, h)
	}
}

// The layout uses a top-left origin; PDF user space starts bottom-left.
func TestEmitImageFlipsVerticalAxis(t *testing.T) {
	page := ImagePage{
		Image:  testPNG(t, 200, 100),
		Size:   PageOriginal,
		Layout: Layout{{Field: "name", X: 10, Y: 10, Height: 20}},
		Values: map[string]string{"name": "ABC"},
	}
	out, err := testEmitter().EmitImage(context.Background(), page, fonts.BuiltinFace().Resolution)
	if err != nil {
		t.Fatalf("EmitImage: %v", err)
	}

	got := textPositions(t, out.PDF)
	if diff := cmp.Diff([][2]float64{{10, 70}}, got); diff != "" {
		t.Errorf("text operators mismatch (-want +got):\n%s", diff)
	}
	want := []DrawnText{{Page: 1, Text: "ABC", X: 10, Y: 30, Font: "Go", Size: 12}}
	if diff := cmp.Diff(want, out.Text); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitImageScalesToPage(t *testing.T) {
	page := ImagePage{
		Image:  testPNG(t, 200, 100),
		Size:   PageA4,
		Layout: Layout{{Field: "name", X: 10, Y: 10, Height: 20}},
		Values: map[string]string{"name": "ABC"},
	}
	out, err := testEmitter().EmitImage(context.Background(), page, fonts.BuiltinFace().Resolution)
	if err != nil {
		t.Fatalf("EmitImage: %v", err)
	}

	scale := 595.28 / 200
	got := textPositions(t, out.PDF)
	if len(got) != 1 {
		t.Fatalf("got %d text operators, want 1", len(got))
	}
	approx := cmpopts.EquateApprox(0, 0.01)
	if !cmp.Equal([2]float64{10 * scale, 841.89 - 30*scale}, got[0], approx) {
		t.Errorf("text at %v, want (%.2f, %.2f)", got[0], 10*scale, 841.89-30*scale)
	}
	if !cmp.Equal(12*scale, out.Text[0].Size, approx) {
		t.Errorf("font size %v, want %v", out.Text[0].Size, 12*scale)
	}
}

func TestEmitImageShapesValues(t *testing.T) {
	page := ImagePage{
		Image: testPNG(t, 300, 300),
		Size:  PageOriginal,
		Layout: Layout{
			{Field: "full_name", X: 50, Y: 10, Width: 100, Height: 20},
		},
		Values: map[string]string{"full_name": "علی"},
	}
	out, err := testEmitter().EmitImage(context.Background(), page, fonts.BuiltinFace().Resolution)
	if err != nil {
		t.Fatalf("EmitImage: %v", err)
	}
	if len(out.Text) != 1 {
		t.Fatalf("drew %d strings, want 1", len(out.Text))
	}
	got := out.Text[0]
	if got.Text != "\uFBFD\uFEE0\uFECB" {
		t.Errorf("drawn text %q is not shaped", got.Text)
	}
	// The built-in face has no Arabic glyphs: nothing is drawn and the
	// empty string is right-aligned at the box edge.
	if got.Dropped != 3 || got.X != 150 {
		t.Errorf("dropped = %d, x = %v", got.Dropped, got.X)
	}
}

func TestEmitImageKeepsUnmappedFieldsVisible(t *testing.T) {
	page := ImagePage{
		Image: testPNG(t, 300, 300),
		Size:  PageOriginal,
		Layout: Layout{
			{Field: "signature", Label: "Signature", X: 10, Y: 40},
			{Field: "unit", X: 10, Y: 80},
			{Field: "note", Label: "Note", X: 10, Y: 120},
			{Field: "city", X: 10, Y: 160},
		},
		// note was submitted empty; signature and unit are not mapped.
		Values: map[string]string{"note": "", "city": "Tabriz"},
	}
	out, err := testEmitter().EmitImage(context.Background(), page, fonts.BuiltinFace().Resolution)
	if err != nil {
		t.Fatalf("EmitImage: %v", err)
	}
	var drawn []string
	for _, d := range out.Text {
		drawn = append(drawn, d.Text)
	}
	if diff := cmp.Diff([]string{"Signature", "{{unit}}", "Tabriz"}, drawn); diff != "" {
		t.Errorf("drawn text mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitImageRejectsBadImage(t *testing.T) {
	out, err := testEmitter().EmitImage(context.Background(), ImagePage{Image: []byte("nope")}, fonts.BuiltinFace().Resolution)
	if !errors.Is(err, ErrImageLoad) {
		t.Fatalf("err = %v, want ErrImageLoad", err)
	}
	if out != nil {
		t.Error("output returned for a bad image")
	}
}

func TestDecodeImageKeepsJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	r, err := DecodeImage(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if r.Type != "JPG" || !bytes.Equal(r.Data, buf.Bytes()) || r.Width != 8 || r.Height != 4 {
		t.Errorf("raster = %s %vx%v", r.Type, r.Width, r.Height)
	}
	if s := r.Fit(16, 16); s != 2 {
		t.Errorf("Fit = %v, want 2", s)
	}
}

func TestQRCode(t *testing.T) {
	data, err := QRCode("A1B2C3D4E5", 128)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 128 || b.Dy() != 128 {
		t.Errorf("bounds = %v", b)
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Errorf("QR image is %T, want 8-bit grey", img)
	}
}

func TestEmitDocument(t *testing.T) {
	doc := &processor.Document{
		Layout: processor.DocumentLayout{PageWidth: 300, PageHeight: 200, LeftMargin: 20, RightMargin: 20, TopMargin: 20, BottomMargin: 20},
		Body: []processor.Block{
			{Paragraph: &processor.Paragraph{Text: "Dear Ali", Align: "center"}},
			{Table: &processor.Table{Rows: [][]processor.Cell{
				{{Paragraphs: []processor.Paragraph{{Text: "code"}}}, {Paragraphs: []processor.Paragraph{{Text: "A1B2"}}}},
			}}},
		},
		Header: []processor.Block{{Paragraph: &processor.Paragraph{Text: "Header"}}},
	}
	for i := 0; i < 20; i++ {
		doc.Body = append(doc.Body, processor.Block{Paragraph: &processor.Paragraph{Text: "line " + strconv.Itoa(i)}})
	}

	out, err := NewEmitter(nil, nil, Options{NoCompression: true, QR: true}).
		EmitDocument(context.Background(), doc, fonts.BuiltinFace().Resolution, Stamp{TrackingCode: "A1B2C3D4E5"})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	if out.Pages < 2 {
		t.Errorf("pages = %d, want the body to overflow onto a second page", out.Pages)
	}
	if !bytes.HasPrefix(out.PDF, []byte("%PDF-")) {
		t.Error("output is not a PDF")
	}

	var texts []string
	headers := 0
	for _, d := range out.Text {
		texts = append(texts, d.Text)
		if d.Text == "Header" {
			headers++
		}
		if d.Y > 200 || d.X < 0 {
			t.Errorf("%q drawn off the page at (%v, %v)", d.Text, d.X, d.Y)
		}
	}
	if headers != out.Pages {
		t.Errorf("header drawn %d times on %d pages", headers, out.Pages)
	}
	joined := strings.Join(texts, "|")
	for _, want := range []string{"Dear Ali", "code", "A1B2", "line 19"} {
		if !strings.Contains(joined, want) {
			t.Errorf("transcript %q lacks %q", joined, want)
		}
	}
}

func TestWrap(t *testing.T) {
	c := testEmitter().newCanvas(100, 100)
	c.pdf.AddPage()
	c.useFont(fonts.BuiltinFace().Resolution, 10)
	w := &docWriter{canvas: c}

	lines := w.wrap("one two three four five six seven eight", 60)
	if len(lines) < 2 {
		t.Fatalf("wrap returned %q", lines)
	}
	for _, l := range lines {
		if w.width(l) > 60 {
			t.Errorf("line %q is %.1f wide", l, w.width(l))
		}
	}
	if got := strings.Join(lines, " "); got != "one two three four five six seven eight" {
		t.Errorf("words lost: %q", got)
	}

	long := w.wrap(strings.Repeat("x", 50), 30)
	if len(long) < 2 || strings.Join(long, "") != strings.Repeat("x", 50) {
		t.Errorf("long word split = %q", long)
	}
	if got := w.wrap("a\n\nb", 60); !cmp.Equal(got, []string{"a", "", "b"}) {
		t.Errorf("hard breaks = %q", got)
	}
}

func TestResolveAlign(t *testing.T) {
	tests := []struct {
		p    processor.Paragraph
		want string
	}{
		{processor.Paragraph{Text: "سلام"}, "right"},
		{processor.Paragraph{Text: "hello"}, "left"},
		{processor.Paragraph{Text: "hello", Bidi: true}, "right"},
		{processor.Paragraph{Text: "سلام", Align: "center"}, "center"},
		{processor.Paragraph{Text: "سلام", Align: "both"}, "right"},
		{processor.Paragraph{Text: "سلام", Align: "end"}, "left"},
		{processor.Paragraph{Text: "hello", Align: "start"}, "left"},
	}
	for _, tt := range tests {
		if got := resolveAlign(tt.p); got != tt.want {
			t.Errorf("resolveAlign(%+v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestPreviewDrawsOnSourcePixels(t *testing.T) {
	page := ImagePage{
		Image:  testPNG(t, 120, 60),
		Layout: Layout{{Field: "name", X: 10, Y: 10, Size: 20, Color: "#000"}},
	}
	data, err := testEmitter().Preview(context.Background(), page, fonts.BuiltinFace().Resolution)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("preview is not a PNG: %v", err)
	}
	if got := img.Bounds().Size(); got != (image.Point{X: 120, Y: 60}) {
		t.Errorf("preview size = %v, want the source size", got)
	}

	dark := 0
	for y := 10; y < 30; y++ {
		for x := 10; x < 80; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r < 0x8000 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Error("field name was not drawn inside its box")
	}
}
