package services

import (
	"context"
	"fmt"
	"io"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/render"
)

type FontService struct {
	registry  *fonts.Registry
	templates *TemplateService
}

func NewFontService(registry *fonts.Registry, templates *TemplateService) *FontService {
	return &FontService{registry: registry, templates: templates}
}

func (s *FontService) List() []fonts.Asset {
	return s.registry.List()
}

func (s *FontService) Upload(filename string, r io.Reader) (fonts.Asset, error) {
	return s.registry.Upload(filename, r)
}

func (s *FontService) Delete(filename string) error {
	return s.registry.Delete(filename)
}

// Resolve reports how a font name would be served.
func (s *FontService) Resolve(name string) fonts.Resolution {
	return s.registry.Resolve(name)
}

// Missing lists the fonts a DOCX service template asks for that are not
// installed.
func (s *FontService) Missing(ctx context.Context, serviceID string) ([]string, error) {
	svc, err := s.templates.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.Template(svc)
	if err != nil {
		return nil, err
	}
	if tpl.Kind != render.KindDocx {
		return nil, fmt.Errorf("%w: only DOCX templates name fonts", ErrInvalidTemplate)
	}
	used, err := s.templates.renderer.DocxFonts(ctx, tpl)
	if err != nil {
		return nil, err
	}
	return s.registry.Missing(used), nil
}
