package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kspro0090/baradar/internal/gdocs"
	"github.com/kspro0090/baradar/internal/pdf"
	"github.com/kspro0090/baradar/internal/placeholder"
	"github.com/kspro0090/baradar/internal/processor"
	"github.com/kspro0090/baradar/internal/processor/docxtest"
	"github.com/kspro0090/baradar/internal/rtl"
)

type memBlobs map[string][]byte

func (m memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("object %s does not exist", key)
	}
	return data, nil
}

type fakeRemote struct {
	found     *placeholder.Set
	scanned   string
	copied    string
	title     string
	inPlace   string
	values    map[string]string
	renderErr error
}

func (f *fakeRemote) Placeholders(_ context.Context, docID string) (*placeholder.Set, error) {
	f.scanned = docID
	return f.found, nil
}

func (f *fakeRemote) RenderCopy(_ context.Context, templateID, title string, values map[string]string) ([]byte, error) {
	f.copied, f.title, f.values = templateID, title, values
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return []byte("%PDF-google"), nil
}

func (f *fakeRemote) RenderInPlace(_ context.Context, docID string, values map[string]string) ([]byte, error) {
	f.inPlace, f.values = docID, values
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return []byte("%PDF-instance"), nil
}

type fakeConverter struct {
	filename  string
	landscape bool
}

func (f *fakeConverter) ConvertDocx(_ context.Context, docx []byte, filename string, landscape bool) ([]byte, error) {
	f.filename, f.landscape = filename, landscape
	return []byte("%PDF-gotenberg"), nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var requestDocx = docxtest.Package{
	Body: docxtest.RTLPara("Vazir", "{{employee_name}}") +
		docxtest.Para("Date: {{date}}"),
}.Bytes()

func transcript(res *Result) string {
	var parts []string
	for _, d := range res.Text {
		parts = append(parts, d.Text)
	}
	return strings.Join(parts, "\n")
}

func TestRenderDocxFillsEveryToken(t *testing.T) {
	r := New(Options{Blobs: memBlobs{"tpl.docx": requestDocx}, Emitter: pdf.NewEmitter(nil, nil, pdf.Options{NoCompression: true})})
	values := map[string]string{"employee_name": "علی رضایی", "date": "2024/05/01"}

	res, err := r.Render(context.Background(), Template{Kind: KindDocx, Ref: "tpl.docx"}, values)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	text := transcript(res)
	if strings.Contains(text, "{{") {
		t.Errorf("transcript still has a token:\n%s", text)
	}
	if want := rtl.New(rtl.Options{}).Shape("علی رضایی"); !strings.Contains(text, want) {
		t.Errorf("transcript lacks the shaped name %q:\n%s", want, text)
	}
	if !strings.Contains(text, "Date: 2024/05/01") {
		t.Errorf("transcript lacks the date:\n%s", text)
	}
	if diff := cmp.Diff([]string{"employee_name", "date"}, res.Found); diff != "" {
		t.Errorf("Found mismatch (-want +got):\n%s", diff)
	}
	if len(res.Unmapped) != 0 {
		t.Errorf("Unmapped = %v, want none", res.Unmapped)
	}
	if !bytes.HasPrefix(res.PDF, []byte("%PDF-")) || res.Pages != 1 {
		t.Errorf("got %d pages, prefix %q", res.Pages, res.PDF[:min(8, len(res.PDF))])
	}

	dp := processor.NewDocxProcessor(res.Docx)
	if err := dp.UnzipDocx(); err != nil {
		t.Fatalf("filled docx does not open: %v", err)
	}
	if n := dp.ExtractPlaceholders().Len(); n != 0 {
		t.Errorf("filled docx has %d tokens left", n)
	}
}

func TestRenderDocxKeepsUnmappedTokens(t *testing.T) {
	r := New(Options{Blobs: memBlobs{"tpl.docx": requestDocx}})

	res, err := r.Render(context.Background(), Template{Kind: KindDocx, Ref: "tpl.docx"},
		map[string]string{"employee_name": "Ali"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if diff := cmp.Diff([]string{"date"}, res.Unmapped); diff != "" {
		t.Errorf("Unmapped mismatch (-want +got):\n%s", diff)
	}
	if text := transcript(res); !strings.Contains(text, "{{date}}") {
		t.Errorf("unmapped token should stay literally:\n%s", text)
	}
}

func TestRenderDocxThroughConverter(t *testing.T) {
	conv := &fakeConverter{}
	landscape := docxtest.Package{Body: docxtest.Para("{{a}}") + docxtest.Section(841.9, 595.3, true)}.Bytes()
	r := New(Options{Blobs: memBlobs{"l.docx": landscape}, Converter: conv})

	res, err := r.Render(context.Background(), Template{Kind: KindDocx, Ref: "l.docx"},
		WithReserved(map[string]string{"a": "1"}, "AB12CD34EF", time.Now()))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(res.PDF) != "%PDF-gotenberg" {
		t.Errorf("PDF = %q, want the converter output", res.PDF)
	}
	if conv.filename != "request_AB12CD34EF.docx" || !conv.landscape {
		t.Errorf("converter got %q landscape=%v", conv.filename, conv.landscape)
	}
	if res.Text != nil {
		t.Error("converted render should have no drawn transcript")
	}
}

func TestRenderUnavailableTemplate(t *testing.T) {
	r := New(Options{Blobs: memBlobs{"junk.docx": []byte("not a zip")}})

	tests := []struct {
		name  string
		tpl   Template
		stage string
		cause error
	}{
		{"missing object", Template{Kind: KindDocx, Ref: "gone.docx"}, StageFetch, nil},
		{"not a docx", Template{Kind: KindDocx, Ref: "junk.docx"}, StageParse, processor.ErrNotDocx},
		{"broken image", Template{Kind: KindImage, Ref: "junk.docx"}, StageParse, pdf.ErrImageLoad},
		{"no remote docs", Template{Kind: KindGoogleDoc, Ref: "doc"}, StageFetch, nil},
		{"unknown kind", Template{Kind: "pptx", Ref: "x"}, StageParse, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Render(context.Background(), tt.tpl, nil)
			if !errors.Is(err, ErrTemplateUnavailable) {
				t.Fatalf("err = %v, want ErrTemplateUnavailable", err)
			}
			var se *StageError
			if !errors.As(err, &se) || se.Stage != tt.stage {
				t.Errorf("stage error = %+v, want stage %s", se, tt.stage)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("err = %v, want it to wrap %v", err, tt.cause)
			}
		})
	}
}

func TestRenderImage(t *testing.T) {
	layout := pdf.Layout{
		{Field: "name", X: 10, Y: 10, Size: 10},
		{Field: "unit", X: 10, Y: 40, Size: 10},
	}
	r := New(Options{Blobs: memBlobs{"form.png": testPNG(t, 200, 100)}})

	res, err := r.Render(context.Background(),
		Template{Kind: KindImage, Ref: "form.png", Layout: layout, PageSize: pdf.PageOriginal},
		map[string]string{"name": "Ali"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	var drawn []string
	for _, d := range res.Text {
		drawn = append(drawn, d.Text)
	}
	if diff := cmp.Diff([]string{"Ali", "{{unit}}"}, drawn); diff != "" {
		t.Errorf("drawn text mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"unit"}, res.Unmapped); diff != "" {
		t.Errorf("Unmapped mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderGoogleDocCopiesTemplate(t *testing.T) {
	remote := &fakeRemote{found: placeholder.NewSet("name", "date")}
	r := New(Options{Remote: remote})
	values := map[string]string{"name": "Ali", "extra": "x", TrackingCodeKey: "0123456789"}

	res, err := r.Render(context.Background(), Template{Kind: KindGoogleDoc, Ref: "tpl-doc"}, values)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(res.PDF) != "%PDF-google" {
		t.Errorf("PDF = %q", res.PDF)
	}
	if remote.copied != "tpl-doc" || remote.title != "request_0123456789" {
		t.Errorf("copied %q titled %q", remote.copied, remote.title)
	}
	if diff := cmp.Diff(map[string]string{"name": "Ali"}, remote.values); diff != "" {
		t.Errorf("sent values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"date"}, res.Unmapped); diff != "" {
		t.Errorf("Unmapped mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderGoogleDocInstanceInPlace(t *testing.T) {
	remote := &fakeRemote{found: placeholder.NewSet("name")}
	r := New(Options{Remote: remote})

	res, err := r.Render(context.Background(),
		Template{Kind: KindGoogleDoc, Ref: "tpl-doc", Instance: "instance-3"},
		map[string]string{"name": "Ali"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(res.PDF) != "%PDF-instance" {
		t.Errorf("PDF = %q", res.PDF)
	}
	if remote.scanned != "instance-3" || remote.inPlace != "instance-3" || remote.copied != "" {
		t.Errorf("scanned %q, filled %q, copied %q", remote.scanned, remote.inPlace, remote.copied)
	}
}

func TestRenderGoogleDocErrors(t *testing.T) {
	tests := []struct {
		name      string
		instance  string
		err       error
		want      error
		wantDirty bool
	}{
		{"copy refused", "", &gdocs.OpError{Op: "copy", DocID: "tpl", Err: errors.New("denied")}, ErrTemplateUnavailable, false},
		{"export timed out", "", &gdocs.OpError{Op: "export", DocID: "c", Err: context.DeadlineExceeded}, ErrRenderFailure, false},
		{"instance export timed out", "instance-1", &gdocs.OpError{Op: "export", DocID: "instance-1", Err: context.DeadlineExceeded}, ErrRenderFailure, true},
		{"instance replace failed", "instance-1", &gdocs.OpError{Op: "replace", DocID: "instance-1", Err: errors.New("backend error")}, ErrRenderFailure, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Options{Remote: &fakeRemote{found: placeholder.NewSet(), renderErr: tt.err}})
			_, err := r.Render(context.Background(), Template{Kind: KindGoogleDoc, Ref: "tpl", Instance: tt.instance}, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, should keep the cause", err)
			}
			if got := Dirty(err); got != tt.wantDirty {
				t.Errorf("Dirty = %v, want %v", got, tt.wantDirty)
			}
		})
	}
}

func TestWithReserved(t *testing.T) {
	at := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	got := WithReserved(map[string]string{"name": "Ali", RequestDateKey: "custom"}, "ABCDEF0123", at)
	want := map[string]string{"name": "Ali", TrackingCodeKey: "ABCDEF0123", RequestDateKey: "custom"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WithReserved mismatch (-want +got):\n%s", diff)
	}
	if got := WithReserved(nil, "X", at)[RequestDateKey]; got != "2024/03/09" {
		t.Errorf("request date = %q", got)
	}
}

func TestPreviewOnlyForImages(t *testing.T) {
	r := New(Options{Blobs: memBlobs{"form.png": testPNG(t, 50, 50)}})
	if _, err := r.Preview(context.Background(), Template{Kind: KindDocx, Ref: "x"}, nil); err == nil {
		t.Error("Preview of a DOCX template succeeded")
	}
	out, err := r.Preview(context.Background(),
		Template{Kind: KindImage, Ref: "form.png", Layout: pdf.Layout{{Field: "a", X: 1, Y: 1}}}, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("preview is not a PNG: %v", err)
	}
}
