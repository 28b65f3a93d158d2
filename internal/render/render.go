// Package render turns a template and a set of values into a PDF. It is
// the single dispatch point over the template kinds.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/gdocs"
	"github.com/kspro0090/baradar/internal/pdf"
	"github.com/kspro0090/baradar/internal/placeholder"
	"github.com/kspro0090/baradar/internal/processor"
)

type Kind string

const (
	KindDocx      Kind = "docx"
	KindGoogleDoc Kind = "google_doc"
	KindImage     Kind = "image"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDocx, KindGoogleDoc, KindImage:
		return k, nil
	}
	return "", fmt.Errorf("unknown template kind %q", s)
}

// Reserved names filled from request metadata when no form field defines
// them.
const (
	TrackingCodeKey = "tracking_code"
	RequestDateKey  = "request_date"
)

// Template identifies the source of a render. Ref is an object key for
// DOCX and image templates and a document ID for Google Docs. Instance,
// when set, is a reserved single-use copy rendered instead of Ref.
type Template struct {
	Kind     Kind
	Ref      string
	Name     string
	Layout   pdf.Layout   // image only
	PageSize pdf.PageSize // image only
	Font     string       // default font; DOCX templates fall back to their own
	Instance string
}

func (t Template) label() string {
	if t.Name != "" {
		return t.Name
	}
	return string(t.Kind) + ":" + t.Ref
}

func (t Template) source() string {
	if t.Instance != "" {
		return t.Instance
	}
	return t.Ref
}

type Result struct {
	PDF      []byte
	Pages    int
	Text     []pdf.DrawnText
	Docx     []byte // filled package, DOCX templates only
	Found    []string
	Unmapped []string
}

// Blobs reads uploaded template files.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// RemoteDocs fills and exports Google Docs.
type RemoteDocs interface {
	Placeholders(ctx context.Context, docID string) (*placeholder.Set, error)
	RenderCopy(ctx context.Context, templateID, title string, values map[string]string) ([]byte, error)
	RenderInPlace(ctx context.Context, docID string, values map[string]string) ([]byte, error)
}

// DocxConverter converts a filled DOCX to PDF outside the process.
type DocxConverter interface {
	ConvertDocx(ctx context.Context, docx []byte, filename string, landscape bool) ([]byte, error)
}

type Options struct {
	Blobs   Blobs
	Remote  RemoteDocs // nil disables Google Doc templates
	Emitter *pdf.Emitter
	Fonts   *fonts.Registry
	// Converter, when set, replaces native drawing for DOCX templates.
	Converter DocxConverter
	Logger    *zap.Logger
}

type Renderer struct {
	blobs     Blobs
	remote    RemoteDocs
	emitter   *pdf.Emitter
	fonts     *fonts.Registry
	converter DocxConverter
	logger    *zap.Logger
}

func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = pdf.NewEmitter(opts.Fonts, logger, pdf.Options{})
	}
	return &Renderer{
		blobs:     opts.Blobs,
		remote:    opts.Remote,
		emitter:   emitter,
		fonts:     opts.Fonts,
		converter: opts.Converter,
		logger:    logger,
	}
}

// WithReserved returns values extended with the reserved metadata names.
// Values already present win.
func WithReserved(values map[string]string, trackingCode string, at time.Time) map[string]string {
	out := make(map[string]string, len(values)+2)
	out[TrackingCodeKey] = trackingCode
	out[RequestDateKey] = at.Format("2006/01/02")
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Render fills tpl with values and produces a PDF. Tokens without a value
// are left in place and listed in Result.Unmapped.
func (r *Renderer) Render(ctx context.Context, tpl Template, values map[string]string) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch tpl.Kind {
	case KindDocx:
		res, err = r.renderDocx(ctx, tpl, values)
	case KindGoogleDoc:
		res, err = r.renderGoogleDoc(ctx, tpl, values)
	case KindImage:
		res, err = r.renderImage(ctx, tpl, values)
	default:
		return nil, unavailable(tpl, StageParse, fmt.Errorf("unknown template kind %q", tpl.Kind))
	}
	if err != nil {
		return nil, err
	}

	if len(res.Unmapped) > 0 {
		r.logger.Warn("template has unmapped placeholders",
			zap.String("template", tpl.label()), zap.Strings("unmapped", res.Unmapped))
	}
	return res, nil
}

// Scan returns the tokens a template uses.
func (r *Renderer) Scan(ctx context.Context, tpl Template) (*placeholder.Set, error) {
	switch tpl.Kind {
	case KindDocx:
		dp, err := r.openDocx(ctx, tpl)
		if err != nil {
			return nil, err
		}
		return dp.ExtractPlaceholders(), nil
	case KindGoogleDoc:
		if r.remote == nil {
			return nil, unavailable(tpl, StageFetch, errors.New("google docs are not configured"))
		}
		found, err := r.remote.Placeholders(ctx, tpl.source())
		if err != nil {
			return nil, unavailable(tpl, StageFetch, err)
		}
		return found, nil
	case KindImage:
		return tpl.Layout.Fields(), nil
	}
	return nil, unavailable(tpl, StageParse, fmt.Errorf("unknown template kind %q", tpl.Kind))
}

// DocxFonts lists the fonts a DOCX template asks for.
func (r *Renderer) DocxFonts(ctx context.Context, tpl Template) ([]string, error) {
	dp, err := r.openDocx(ctx, tpl)
	if err != nil {
		return nil, err
	}
	return dp.ExtractFonts(), nil
}

// Preview draws an image template's layout onto the source image.
func (r *Renderer) Preview(ctx context.Context, tpl Template, values map[string]string) ([]byte, error) {
	if tpl.Kind != KindImage {
		return nil, failure(tpl, StageEmit, fmt.Errorf("preview is only available for image templates"))
	}
	data, err := r.fetch(ctx, tpl)
	if err != nil {
		return nil, err
	}
	png, err := r.emitter.Preview(ctx, pdf.ImagePage{Image: data, Layout: tpl.Layout, Values: values}, r.resolveFont(tpl.Font))
	if err != nil {
		if errors.Is(err, pdf.ErrImageLoad) {
			return nil, unavailable(tpl, StageParse, err)
		}
		return nil, failure(tpl, StageEmit, err)
	}
	return png, nil
}

func (r *Renderer) fetch(ctx context.Context, tpl Template) ([]byte, error) {
	if r.blobs == nil {
		return nil, unavailable(tpl, StageFetch, errors.New("no template store configured"))
	}
	data, err := r.blobs.Get(ctx, tpl.source())
	if err != nil {
		return nil, unavailable(tpl, StageFetch, err)
	}
	return data, nil
}

func (r *Renderer) openDocx(ctx context.Context, tpl Template) (*processor.DocxProcessor, error) {
	data, err := r.fetch(ctx, tpl)
	if err != nil {
		return nil, err
	}
	dp := processor.NewDocxProcessor(data)
	if err := dp.UnzipDocx(); err != nil {
		return nil, unavailable(tpl, StageParse, err)
	}
	return dp, nil
}

func (r *Renderer) resolveFont(name string) fonts.Resolution {
	if r.fonts == nil {
		return fonts.BuiltinFace().Resolution
	}
	return r.fonts.Resolve(name)
}

// documentFont picks the first font the document uses that is installed,
// or the fallback chain when none is.
func (r *Renderer) documentFont(used []string) fonts.Resolution {
	if r.fonts == nil {
		return fonts.BuiltinFace().Resolution
	}
	for _, name := range used {
		if res := r.fonts.Resolve(name); res.Level < fonts.FallbackRTL {
			return res
		}
	}
	return r.fonts.Resolve("")
}

func (r *Renderer) renderDocx(ctx context.Context, tpl Template, values map[string]string) (*Result, error) {
	dp, err := r.openDocx(ctx, tpl)
	if err != nil {
		return nil, err
	}
	found := dp.ExtractPlaceholders()

	n, err := dp.FindAndReplaceInDocument(values)
	if err != nil {
		return nil, failure(tpl, StageFill, err)
	}
	filled, err := dp.ReZipDocx()
	if err != nil {
		return nil, failure(tpl, StageFill, err)
	}
	r.logger.Debug("filled docx template",
		zap.String("template", tpl.label()), zap.Int("replacements", n))

	res := &Result{Docx: filled, Found: found.Names(), Unmapped: unmapped(found, values)}

	if r.converter != nil {
		name := "document.docx"
		if code := values[TrackingCodeKey]; code != "" {
			name = "request_" + code + ".docx"
		}
		out, err := r.converter.ConvertDocx(ctx, filled, name, dp.DetectOrientation())
		if err != nil {
			return nil, failure(tpl, StageConvert, err)
		}
		res.PDF = out
		return res, nil
	}

	doc, err := dp.Document()
	if err != nil {
		return nil, failure(tpl, StageParse, err)
	}
	font := r.resolveFont(tpl.Font)
	if tpl.Font == "" {
		font = r.documentFont(dp.ExtractFonts())
	}
	out, err := r.emitter.EmitDocument(ctx, doc, font, pdf.Stamp{TrackingCode: values[TrackingCodeKey]})
	if err != nil {
		return nil, failure(tpl, StageEmit, err)
	}
	res.PDF, res.Pages, res.Text = out.PDF, out.Pages, out.Text
	return res, nil
}

func (r *Renderer) renderGoogleDoc(ctx context.Context, tpl Template, values map[string]string) (*Result, error) {
	found, err := r.Scan(ctx, tpl)
	if err != nil {
		return nil, err
	}

	// Only tokens the document uses become API requests.
	mapped := make(map[string]string)
	for _, name := range found.Names() {
		if v, ok := values[name]; ok {
			mapped[name] = v
		}
	}

	var out []byte
	if tpl.Instance != "" {
		out, err = r.remote.RenderInPlace(ctx, tpl.Instance, mapped)
	} else {
		title := "render"
		if code := values[TrackingCodeKey]; code != "" {
			title = "request_" + code
		}
		out, err = r.remote.RenderCopy(ctx, tpl.Ref, title, mapped)
	}
	if err != nil {
		var op *gdocs.OpError
		serr := failure(tpl, StageExport, err)
		if gdocs.NotFound(err) || (errors.As(err, &op) && op.Op == "copy") {
			serr = unavailable(tpl, StageFetch, err)
		}
		// An in-place fill is not undone when the export fails.
		if tpl.Instance != "" {
			serr.(*StageError).Dirty = true
		}
		return nil, serr
	}
	return &Result{PDF: out, Found: found.Names(), Unmapped: unmapped(found, values)}, nil
}

func (r *Renderer) renderImage(ctx context.Context, tpl Template, values map[string]string) (*Result, error) {
	data, err := r.fetch(ctx, tpl)
	if err != nil {
		return nil, err
	}
	found := tpl.Layout.Fields()

	page := pdf.ImagePage{
		Image:  data,
		Size:   tpl.PageSize,
		Layout: tpl.Layout,
		Values: values,
		Stamp:  pdf.Stamp{TrackingCode: values[TrackingCodeKey]},
	}
	out, err := r.emitter.EmitImage(ctx, page, r.resolveFont(tpl.Font))
	if err != nil {
		if errors.Is(err, pdf.ErrImageLoad) {
			return nil, unavailable(tpl, StageParse, err)
		}
		return nil, failure(tpl, StageEmit, err)
	}
	return &Result{
		PDF:      out.PDF,
		Pages:    out.Pages,
		Text:     out.Text,
		Found:    found.Names(),
		Unmapped: unmapped(found, values),
	}, nil
}

func unmapped(found *placeholder.Set, values map[string]string) []string {
	var missing []string
	for _, name := range found.Names() {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
