package models

import (
	"time"
)

// Request statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
)

type ServiceRequest struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ServiceID    string     `gorm:"type:varchar(36);not null;index" json:"service_id"`
	TrackingCode string     `gorm:"type:varchar(10);not null;uniqueIndex" json:"tracking_code"`
	FormData     string     `gorm:"type:text" json:"form_data"` // JSON object of submitted values
	Status       string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ApprovalNote string     `gorm:"type:text" json:"approval_note,omitempty"`
	ApprovedBy   string     `gorm:"type:varchar(255)" json:"approved_by,omitempty"`
	PDFFilename  string     `gorm:"type:varchar(255)" json:"pdf_filename,omitempty"`
	JobID        string     `gorm:"type:varchar(36)" json:"job_id,omitempty"` // job that owns a processing request
	Version      int        `gorm:"not null;default:0" json:"-"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (ServiceRequest) TableName() string {
	return "service_requests"
}

// TemplateInstance is a single-use copy of a service template. RequestID
// is set while an approval holds it; Used is final. A Discarded instance
// was changed by a render that did not complete and is never reused.
type TemplateInstance struct {
	ID        string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ServiceID string     `gorm:"type:varchar(36);not null;index" json:"service_id"`
	Ref       string     `gorm:"type:varchar(512);not null" json:"ref"`
	Used      bool       `gorm:"not null;default:false;index" json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	Discarded bool       `gorm:"not null;default:false" json:"discarded,omitempty"`
	RequestID string     `gorm:"type:varchar(36);index" json:"request_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (TemplateInstance) TableName() string {
	return "template_instances"
}

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

type PDFJob struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	RequestID    string     `gorm:"type:varchar(36);not null;index" json:"request_id"`
	TrackingCode string     `gorm:"type:varchar(10)" json:"tracking_code"`
	Status       string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	Error        string     `gorm:"type:text" json:"error,omitempty"` // administrator detail
	Result       string     `gorm:"type:varchar(255)" json:"result,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (PDFJob) TableName() string {
	return "pdf_jobs"
}
