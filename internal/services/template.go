package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/pdf"
	"github.com/kspro0090/baradar/internal/placeholder"
	"github.com/kspro0090/baradar/internal/processor"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/storage"
	"github.com/kspro0090/baradar/internal/store"
)

const maxTemplateSize = 20 << 20

// TemplateService manages services, their form fields and their templates.
type TemplateService struct {
	store     store.Services
	blobs     storage.Store
	renderer  *render.Renderer
	lifecycle *lifecycle.Manager
	fonts     *fonts.Registry
	logger    *zap.Logger
}

func NewTemplateService(s store.Services, blobs storage.Store, renderer *render.Renderer, lc *lifecycle.Manager, registry *fonts.Registry, logger *zap.Logger) *TemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{
		store:     s,
		blobs:     blobs,
		renderer:  renderer,
		lifecycle: lc,
		fonts:     registry,
		logger:    logger,
	}
}

type FieldInput struct {
	Name        string   `json:"field_name" binding:"required"`
	Label       string   `json:"field_label"`
	Placeholder string   `json:"document_placeholder"`
	Type        string   `json:"field_type"`
	Required    bool     `json:"is_required"`
	Options     []string `json:"options"`
	Order       int      `json:"field_order"`
}

type CreateServiceInput struct {
	Name               string       `json:"name" binding:"required"`
	Description        string       `json:"description"`
	TemplateKind       string       `json:"template_kind" binding:"required"`
	GoogleDocID        string       `json:"google_doc_id"`
	PageSize           string       `json:"page_size"`
	DefaultFont        string       `json:"default_font"`
	UseInstancePool    bool         `json:"use_instance_pool"`
	AutoApproveSheetID string       `json:"auto_approve_sheet_id"`
	AutoApproveColumn  string       `json:"auto_approve_column"`
	AutoApproveField   string       `json:"auto_approve_field"`
	Fields             []FieldInput `json:"fields"`
}

func validFieldType(t string) bool {
	switch t {
	case models.FieldText, models.FieldNumber, models.FieldEmail, models.FieldDate, models.FieldTextarea, models.FieldSelect:
		return true
	}
	return false
}

func (s *TemplateService) CreateService(ctx context.Context, in CreateServiceInput) (*models.Service, error) {
	kind, err := render.ParseKind(in.TemplateKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if kind == render.KindGoogleDoc && strings.TrimSpace(in.GoogleDocID) == "" && !in.UseInstancePool {
		return nil, fmt.Errorf("%w: google_doc services need a document id or an instance pool", ErrInvalidTemplate)
	}
	pageSize, err := pdf.ParsePageSize(in.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	svc := &models.Service{
		ID:                 uuid.New().String(),
		Name:               strings.TrimSpace(in.Name),
		Description:        in.Description,
		IsActive:           true,
		TemplateKind:       string(kind),
		GoogleDocID:        strings.TrimSpace(in.GoogleDocID),
		PageSize:           string(pageSize),
		DefaultFont:        in.DefaultFont,
		UseInstancePool:    in.UseInstancePool,
		AutoApproveSheetID: in.AutoApproveSheetID,
		AutoApproveColumn:  in.AutoApproveColumn,
		AutoApproveField:   in.AutoApproveField,
	}

	problems := make(map[string]string)
	seen := make(map[string]bool)
	for i, f := range in.Fields {
		name := strings.TrimSpace(f.Name)
		typ := f.Type
		if typ == "" {
			typ = models.FieldText
		}
		switch {
		case name == "":
			problems[fmt.Sprintf("fields[%d]", i)] = "field_name is required"
			continue
		case seen[name]:
			problems[name] = "duplicate field name"
			continue
		case !validFieldType(typ):
			problems[name] = fmt.Sprintf("unknown field type %q", typ)
			continue
		case typ == models.FieldSelect && len(f.Options) == 0:
			problems[name] = "select fields need options"
			continue
		}
		seen[name] = true

		var options string
		if len(f.Options) > 0 {
			b, _ := json.Marshal(f.Options)
			options = string(b)
		}
		order := f.Order
		if order == 0 {
			order = i + 1
		}
		svc.Fields = append(svc.Fields, models.FormField{
			ID:                  uuid.New().String(),
			ServiceID:           svc.ID,
			FieldName:           name,
			FieldLabel:          f.Label,
			DocumentPlaceholder: f.Placeholder,
			FieldType:           typ,
			IsRequired:          f.Required,
			Options:             options,
			FieldOrder:          order,
		})
	}
	if svc.AutoApproves() && !seen[svc.AutoApproveField] {
		problems["auto_approve_field"] = "must name one of the fields"
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}

	if err := s.store.CreateService(ctx, svc); err != nil {
		return nil, fmt.Errorf("failed to save service: %w", err)
	}
	s.logger.Info("service created",
		zap.String("service_id", svc.ID), zap.String("kind", svc.TemplateKind), zap.Int("fields", len(svc.Fields)))
	return svc, nil
}

func (s *TemplateService) GetService(ctx context.Context, id string) (*models.Service, error) {
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", id, err)
	}
	return svc, nil
}

// TemplateUpload is a DOCX or image file for a service. Layout replaces
// the stored layout of image templates when set.
type TemplateUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Layout      string
	PageSize    string
}

// UploadTemplate stores a new template file for the service. Every upload
// gets its own object, so earlier uploads are never changed.
func (s *TemplateService) UploadTemplate(ctx context.Context, serviceID string, up TemplateUpload) (*models.Service, error) {
	svc, err := s.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, maxTemplateSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read template upload: %w", err)
	}
	if len(data) > maxTemplateSize {
		return nil, fmt.Errorf("%w: file larger than %d bytes", ErrInvalidTemplate, maxTemplateSize)
	}

	switch render.Kind(svc.TemplateKind) {
	case render.KindDocx:
		if !strings.EqualFold(filepath.Ext(up.Filename), ".docx") {
			return nil, fmt.Errorf("%w: expected a .docx file", ErrInvalidTemplate)
		}
		if err := processor.NewDocxProcessor(data).UnzipDocx(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
	case render.KindImage:
		if _, err := pdf.DecodeImage(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		if up.Layout != "" {
			if _, err := pdf.ParseLayout([]byte(up.Layout)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
			}
			svc.LayoutJSON = up.Layout
		}
		if up.PageSize != "" {
			size, err := pdf.ParsePageSize(up.PageSize)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
			}
			svc.PageSize = string(size)
		}
	default:
		return nil, fmt.Errorf("%w: %s templates are not uploaded", ErrInvalidTemplate, svc.TemplateKind)
	}

	objectName := storage.TemplateObjectName(svc.ID, up.Filename)
	if _, err := s.blobs.Put(ctx, objectName, bytes.NewReader(data), up.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store template: %w", err)
	}

	if svc.TemplateKind == string(render.KindDocx) {
		svc.DocxPath = objectName
	} else {
		svc.ImagePath = objectName
	}
	if err := s.store.UpdateService(ctx, svc); err != nil {
		if derr := s.blobs.Delete(ctx, objectName); derr != nil {
			s.logger.Warn("failed to remove orphaned template", zap.String("object", objectName), zap.Error(derr))
		}
		return nil, fmt.Errorf("failed to save template metadata: %w", err)
	}

	s.logger.Info("template uploaded",
		zap.String("service_id", svc.ID), zap.String("object", objectName), zap.Int("size", len(data)))
	return svc, nil
}

// Template describes the service template for the renderer.
func (s *TemplateService) Template(svc *models.Service) (render.Template, error) {
	kind, err := render.ParseKind(svc.TemplateKind)
	if err != nil {
		return render.Template{}, fmt.Errorf("%w: %v", render.ErrTemplateUnavailable, err)
	}
	tpl := render.Template{Kind: kind, Name: svc.Name, Font: svc.DefaultFont}

	switch kind {
	case render.KindDocx:
		tpl.Ref = svc.DocxPath
	case render.KindGoogleDoc:
		tpl.Ref = svc.GoogleDocID
	case render.KindImage:
		tpl.Ref = svc.ImagePath
		if svc.LayoutJSON != "" {
			if tpl.Layout, err = pdf.ParseLayout([]byte(svc.LayoutJSON)); err != nil {
				return render.Template{}, fmt.Errorf("%w: %v", render.ErrTemplateUnavailable, err)
			}
		}
		if tpl.PageSize, err = pdf.ParsePageSize(svc.PageSize); err != nil {
			return render.Template{}, fmt.Errorf("%w: %v", render.ErrTemplateUnavailable, err)
		}
	}
	if tpl.Ref == "" && !(svc.UseInstancePool && kind == render.KindGoogleDoc) {
		return render.Template{}, fmt.Errorf("%w: service %s has no template", render.ErrTemplateUnavailable, svc.ID)
	}
	return tpl, nil
}

// Fields returns the placeholder bindings of the service form.
func Fields(svc *models.Service) []placeholder.Field {
	out := make([]placeholder.Field, len(svc.Fields))
	for i, f := range svc.Fields {
		out[i] = placeholder.Field{Name: f.FieldName, Label: f.FieldLabel, Placeholder: f.DocumentPlaceholder}
	}
	return out
}

type TemplateReport struct {
	placeholder.Report
	Complete     bool     `json:"complete"`
	MissingFonts []string `json:"missing_fonts,omitempty"`
	Available    *int64   `json:"available_instances,omitempty"`
}

// Report scans the service template and compares its tokens with the
// form fields.
func (s *TemplateService) Report(ctx context.Context, serviceID string) (*TemplateReport, error) {
	svc, err := s.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.Template(svc)
	if err != nil {
		return nil, err
	}
	if tpl.Ref == "" && svc.UseInstancePool {
		// Pool-only Google Doc services are scanned through a free instance.
		if inst, ok := s.peekInstance(ctx, svc.ID); ok {
			tpl.Ref = inst
		}
	}

	found, err := s.renderer.Scan(ctx, tpl)
	if err != nil {
		return nil, err
	}
	rep := &TemplateReport{Report: reservedMapped(placeholder.Check(found, Fields(svc)))}
	rep.Complete = rep.Report.Complete()

	if tpl.Kind == render.KindDocx && s.fonts != nil {
		used, err := s.renderer.DocxFonts(ctx, tpl)
		if err != nil {
			return nil, err
		}
		rep.MissingFonts = s.fonts.Missing(used)
	}
	if svc.UseInstancePool && s.lifecycle != nil {
		n, err := s.lifecycle.Available(ctx, svc.ID)
		if err != nil {
			return nil, err
		}
		rep.Available = &n
	}
	return rep, nil
}

// reservedMapped counts the request metadata names as mapped; the
// renderer fills them when no field does.
func reservedMapped(r placeholder.Report) placeholder.Report {
	unmapped := r.Unmapped[:0]
	for _, name := range r.Unmapped {
		if name == render.TrackingCodeKey || name == render.RequestDateKey {
			r.Mapped = append(r.Mapped, name)
			continue
		}
		unmapped = append(unmapped, name)
	}
	r.Unmapped = unmapped
	return r
}

func (s *TemplateService) peekInstance(ctx context.Context, serviceID string) (string, bool) {
	if s.lifecycle == nil {
		return "", false
	}
	instances, err := s.lifecycle.Instances(ctx, serviceID)
	if err != nil {
		return "", false
	}
	for _, inst := range instances {
		if !inst.Used && inst.RequestID == "" {
			return inst.Ref, true
		}
	}
	return "", false
}

// RegisterInstances adds single-use template copies to a pooled service.
func (s *TemplateService) RegisterInstances(ctx context.Context, serviceID string, refs []string) ([]models.TemplateInstance, int64, error) {
	svc, err := s.GetService(ctx, serviceID)
	if err != nil {
		return nil, 0, err
	}
	if !svc.UseInstancePool {
		return nil, 0, fmt.Errorf("%w: service %s does not use an instance pool", ErrInvalidTemplate, svc.ID)
	}
	if len(refs) == 0 {
		return nil, 0, &ValidationError{Fields: map[string]string{"refs": "at least one reference is required"}}
	}
	instances, err := s.lifecycle.Register(ctx, svc.ID, refs...)
	if err != nil {
		return nil, 0, err
	}
	n, err := s.lifecycle.Available(ctx, svc.ID)
	if err != nil {
		return nil, 0, err
	}
	return instances, n, nil
}

// Preview draws the layout of an image template with sample values. Empty
// values show the field labels.
func (s *TemplateService) Preview(ctx context.Context, serviceID string, values map[string]string) ([]byte, error) {
	svc, err := s.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.Template(svc)
	if err != nil {
		return nil, err
	}
	if tpl.Kind != render.KindImage {
		return nil, fmt.Errorf("%w: preview needs an image template", ErrInvalidTemplate)
	}
	png, err := s.renderer.Preview(ctx, tpl, values)
	if err != nil {
		if errors.Is(err, render.ErrTemplateUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to draw preview: %w", err)
	}
	return png, nil
}
