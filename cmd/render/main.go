// Command render fills a local DOCX or image template and writes the PDF,
// without a database or server.
//
//	render -template leave.docx -values values.json -out leave.pdf
//	render -template form.png -layout layout.json -values values.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/logger"
	"github.com/kspro0090/baradar/internal/pdf"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/storage"
)

func main() {
	var (
		templatePath = flag.String("template", "", "DOCX or image template file")
		kindFlag     = flag.String("kind", "", "template kind: docx or image (default: from the file extension)")
		layoutPath   = flag.String("layout", "", "JSON layout for image templates")
		pageSize     = flag.String("page-size", "", "A4, A5 or original (image templates)")
		valuesPath   = flag.String("values", "", "JSON object of placeholder values")
		fontsDir     = flag.String("fonts", "fonts", "font directory")
		font         = flag.String("font", "", "default font name")
		code         = flag.String("code", "", "tracking code to print")
		qr           = flag.Bool("qr", false, "add a QR code of the tracking code")
		out          = flag.String("out", "", "output PDF (default: template name with .pdf)")
		verbose      = flag.Bool("v", false, "development logging")
	)
	flag.Parse()

	if *templatePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	env := "production"
	if *verbose {
		env = "development"
	}
	zl, err := logger.New(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zl.Sync()

	if err := run(context.Background(), zl, options{
		template: *templatePath,
		kind:     *kindFlag,
		layout:   *layoutPath,
		pageSize: *pageSize,
		values:   *valuesPath,
		fontsDir: *fontsDir,
		font:     *font,
		code:     *code,
		qr:       *qr,
		out:      *out,
	}); err != nil {
		zl.Error("render failed", zap.Error(err))
		os.Exit(1)
	}
}

type options struct {
	template, kind, layout, pageSize, values string
	fontsDir, font, code, out                string
	qr                                       bool
}

func kindOf(path, explicit string) (render.Kind, error) {
	if explicit != "" {
		return render.ParseKind(explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return render.KindDocx, nil
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return render.KindImage, nil
	}
	return "", fmt.Errorf("cannot tell the template kind of %s; use -kind", path)
}

func run(ctx context.Context, zl *zap.Logger, o options) error {
	kind, err := kindOf(o.template, o.kind)
	if err != nil {
		return err
	}
	if kind == render.KindGoogleDoc {
		return fmt.Errorf("google_doc templates need the server")
	}

	values := map[string]string{}
	if o.values != "" {
		data, err := os.ReadFile(o.values)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("values: %w", err)
		}
	}

	abs, err := filepath.Abs(o.template)
	if err != nil {
		return err
	}
	blobs, err := storage.NewLocal(filepath.Dir(abs))
	if err != nil {
		return err
	}

	tpl := render.Template{Kind: kind, Ref: filepath.Base(abs), Font: o.font}
	if kind == render.KindImage {
		if o.layout == "" {
			return fmt.Errorf("image templates need -layout")
		}
		data, err := os.ReadFile(o.layout)
		if err != nil {
			return err
		}
		if tpl.Layout, err = pdf.ParseLayout(data); err != nil {
			return err
		}
		if tpl.PageSize, err = pdf.ParsePageSize(o.pageSize); err != nil {
			return err
		}
	}

	registry, err := fonts.Open(o.fontsDir, zl)
	if err != nil {
		return err
	}
	renderer := render.New(render.Options{
		Blobs:   blobs,
		Fonts:   registry,
		Emitter: pdf.NewEmitter(registry, zl, pdf.Options{QR: o.qr}),
		Logger:  zl,
	})

	result, err := renderer.Render(ctx, tpl, render.WithReserved(values, o.code, time.Now()))
	if err != nil {
		return err
	}
	if len(result.Unmapped) > 0 {
		zl.Warn("placeholders without a value", zap.Strings("names", result.Unmapped))
	}

	out := o.out
	if out == "" {
		out = strings.TrimSuffix(o.template, filepath.Ext(o.template)) + ".pdf"
	}
	if err := os.WriteFile(out, result.PDF, 0o644); err != nil {
		return err
	}
	zl.Info("wrote pdf", zap.String("path", out), zap.Int("pages", result.Pages))
	return nil
}
