// Package store persists services, requests, template instances, jobs and
// activity logs. Gorm backs it in production; Memory serves tests and
// single-process deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kspro0090/baradar/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional update lost a race or a unique key
	// is already taken.
	ErrConflict = errors.New("record changed concurrently")
)

type Services interface {
	CreateService(ctx context.Context, svc *models.Service) error
	// GetService returns the service with its fields in FieldOrder.
	GetService(ctx context.Context, id string) (*models.Service, error)
	UpdateService(ctx context.Context, svc *models.Service) error
}

type Requests interface {
	// CreateRequest fails with ErrConflict when the tracking code is taken.
	CreateRequest(ctx context.Context, req *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	GetRequestByCode(ctx context.Context, code string) (*models.ServiceRequest, error)
	// TransitionRequest stores req if the row still has status from and
	// req.Version. On success req.Version is incremented; otherwise
	// ErrConflict is returned and nothing changes.
	TransitionRequest(ctx context.Context, req *models.ServiceRequest, from string) error
	// ListRequests returns matching requests oldest first, with the total
	// before paging.
	ListRequests(ctx context.Context, filter RequestFilter) ([]models.ServiceRequest, int64, error)
	RequestStats(ctx context.Context, serviceID string) (Stats, error)
}

// Instances hold the single-use template pool. An instance is available
// when it is unused and not held by a request.
type Instances interface {
	AddInstances(ctx context.Context, instances []models.TemplateInstance) error
	// ClaimInstance holds an available instance for requestID. An unused
	// instance already held by requestID is returned again. ErrNotFound
	// means the pool is empty.
	ClaimInstance(ctx context.Context, serviceID, requestID string) (*models.TemplateInstance, error)
	// UseInstance marks an instance held by requestID as used.
	UseInstance(ctx context.Context, id, requestID string, at time.Time) error
	// ReleaseInstance returns an unused instance held by requestID to the
	// pool.
	ReleaseInstance(ctx context.Context, id, requestID string) error
	// DiscardInstance retires an unused instance held by requestID
	// without giving it back to the pool.
	DiscardInstance(ctx context.Context, id, requestID string, at time.Time) error
	CountAvailable(ctx context.Context, serviceID string) (int64, error)
	// ListInstances returns the whole pool of a service, oldest first.
	ListInstances(ctx context.Context, serviceID string) ([]models.TemplateInstance, error)
}

type Jobs interface {
	CreateJob(ctx context.Context, job *models.PDFJob) error
	GetJob(ctx context.Context, id string) (*models.PDFJob, error)
	UpdateJob(ctx context.Context, job *models.PDFJob) error
}

type Logs interface {
	CreateLog(ctx context.Context, log *models.ActivityLog) error
	ListLogs(ctx context.Context, filter LogFilter) ([]models.ActivityLog, int64, error)
}

type Store interface {
	Services
	Requests
	Instances
	Jobs
	Logs
}

type Stats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Approved   int64 `json:"approved"`
	Rejected   int64 `json:"rejected"`
}

// RequestFilter selects requests. An empty ServiceID or Status matches
// all.
type RequestFilter struct {
	ServiceID string
	Status    string
	Limit     int
	Offset    int
}

// LogFilter selects activity logs, newest first. Method matches exactly
// (case-insensitive), Path as a substring. A zero Limit means no limit.
type LogFilter struct {
	Method string
	Path   string
	Limit  int
	Offset int
}
