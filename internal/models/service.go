package models

import (
	"time"

	"gorm.io/gorm"
)

type Service struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	// Template
	TemplateKind string `gorm:"type:varchar(20);not null" json:"template_kind"` // google_doc, docx, image
	GoogleDocID  string `gorm:"type:varchar(255)" json:"google_doc_id,omitempty"`
	DocxPath     string `gorm:"type:varchar(512)" json:"docx_path,omitempty"`
	ImagePath    string `gorm:"type:varchar(512)" json:"image_path,omitempty"`
	LayoutJSON   string `gorm:"type:text" json:"layout_json,omitempty"`
	PageSize     string `gorm:"type:varchar(20);default:'A4'" json:"page_size"`
	DefaultFont  string `gorm:"type:varchar(255)" json:"default_font,omitempty"`

	UseInstancePool bool `gorm:"default:false" json:"use_instance_pool"`

	// Auto-approval: the value of AutoApproveField is looked up in a
	// column of a Google Sheet.
	AutoApproveSheetID string `gorm:"type:varchar(255)" json:"auto_approve_sheet_id,omitempty"`
	AutoApproveColumn  string `gorm:"type:varchar(10)" json:"auto_approve_column,omitempty"`
	AutoApproveField   string `gorm:"type:varchar(100)" json:"auto_approve_field,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Fields []FormField `gorm:"foreignKey:ServiceID" json:"fields,omitempty"`
}

func (Service) TableName() string {
	return "services"
}

// AutoApproves reports whether the service is configured for sheet lookup.
func (s *Service) AutoApproves() bool {
	return s.AutoApproveSheetID != "" && s.AutoApproveField != ""
}

// Field types accepted by FormField.FieldType.
const (
	FieldText     = "text"
	FieldNumber   = "number"
	FieldEmail    = "email"
	FieldDate     = "date"
	FieldTextarea = "textarea"
	FieldSelect   = "select"
)

type FormField struct {
	ID                  string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ServiceID           string    `gorm:"type:varchar(36);not null;index" json:"service_id"`
	FieldName           string    `gorm:"type:varchar(100);not null" json:"field_name"`
	FieldLabel          string    `gorm:"type:varchar(255)" json:"field_label"`
	DocumentPlaceholder string    `gorm:"type:varchar(255)" json:"document_placeholder,omitempty"`
	FieldType           string    `gorm:"type:varchar(20);default:'text'" json:"field_type"`
	IsRequired          bool      `gorm:"default:false" json:"is_required"`
	Options             string    `gorm:"type:text" json:"options,omitempty"` // JSON array for select fields
	FieldOrder          int       `gorm:"default:0" json:"field_order"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (FormField) TableName() string {
	return "form_fields"
}
