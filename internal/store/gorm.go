package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kspro0090/baradar/internal/models"
)

// Gorm is the SQL store. Instance claims lock rows with FOR UPDATE SKIP
// LOCKED so concurrent approvals never wait on or share an instance.
type Gorm struct {
	db *gorm.DB
}

var _ Store = (*Gorm)(nil)

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (g *Gorm) CreateService(ctx context.Context, svc *models.Service) error {
	if err := g.db.WithContext(ctx).Create(svc).Error; err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

func (g *Gorm) GetService(ctx context.Context, id string) (*models.Service, error) {
	var svc models.Service
	err := g.db.WithContext(ctx).
		Preload("Fields", func(db *gorm.DB) *gorm.DB { return db.Order("field_order ASC") }).
		First(&svc, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &svc, nil
}

func (g *Gorm) UpdateService(ctx context.Context, svc *models.Service) error {
	res := g.db.WithContext(ctx).Omit(clause.Associations).Save(svc)
	if res.Error != nil {
		return fmt.Errorf("failed to update service: %w", res.Error)
	}
	return nil
}

func (g *Gorm) CreateRequest(ctx context.Context, req *models.ServiceRequest) error {
	err := g.db.WithContext(ctx).Create(req).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (g *Gorm) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	if err := g.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (g *Gorm) GetRequestByCode(ctx context.Context, code string) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	if err := g.db.WithContext(ctx).First(&req, "tracking_code = ?", code).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (g *Gorm) TransitionRequest(ctx context.Context, req *models.ServiceRequest, from string) error {
	res := transitionQuery(g.db.WithContext(ctx), req, from)
	if res.Error != nil {
		return fmt.Errorf("failed to update request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	req.Version++
	return nil
}

func transitionQuery(db *gorm.DB, req *models.ServiceRequest, from string) *gorm.DB {
	return db.Model(&models.ServiceRequest{}).
		Where("id = ? AND status = ? AND version = ?", req.ID, from, req.Version).
		Updates(map[string]any{
			"status":        req.Status,
			"approval_note": req.ApprovalNote,
			"approved_by":   req.ApprovedBy,
			"pdf_filename":  req.PDFFilename,
			"decided_at":    req.DecidedAt,
			"job_id":        req.JobID,
			"version":       req.Version + 1,
		})
}

func (g *Gorm) ListRequests(ctx context.Context, filter RequestFilter) ([]models.ServiceRequest, int64, error) {
	query := g.db.WithContext(ctx).Model(&models.ServiceRequest{})
	if filter.ServiceID != "" {
		query = query.Where("service_id = ?", filter.ServiceID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var reqs []models.ServiceRequest
	if err := query.Order("created_at ASC").Find(&reqs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch requests: %w", err)
	}
	return reqs, total, nil
}

func (g *Gorm) RequestStats(ctx context.Context, serviceID string) (Stats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := g.db.WithContext(ctx).Model(&models.ServiceRequest{}).
		Select("status, COUNT(*) AS count").
		Where("service_id = ?", serviceID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count requests: %w", err)
	}

	var s Stats
	for _, r := range rows {
		s.add(r.Status, r.Count)
	}
	return s, nil
}

func (s *Stats) add(status string, n int64) {
	s.Total += n
	switch status {
	case models.StatusPending:
		s.Pending += n
	case models.StatusProcessing:
		s.Processing += n
	case models.StatusApproved:
		s.Approved += n
	case models.StatusRejected:
		s.Rejected += n
	}
}

func (g *Gorm) AddInstances(ctx context.Context, instances []models.TemplateInstance) error {
	if len(instances) == 0 {
		return nil
	}
	if err := g.db.WithContext(ctx).Create(&instances).Error; err != nil {
		return fmt.Errorf("failed to add instances: %w", err)
	}
	return nil
}

func (g *Gorm) ClaimInstance(ctx context.Context, serviceID, requestID string) (*models.TemplateInstance, error) {
	var inst models.TemplateInstance
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("service_id = ? AND request_id = ? AND used = ?", serviceID, requestID, false).
			First(&inst).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := claimQuery(tx, serviceID).First(&inst).Error; err != nil {
			return err
		}
		res := tx.Model(&models.TemplateInstance{}).
			Where("id = ? AND request_id = ?", inst.ID, "").
			Update("request_id", requestID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		inst.RequestID = requestID
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &inst, nil
}

// claimQuery selects the oldest available instance and locks it, skipping
// rows other transactions hold.
func claimQuery(tx *gorm.DB, serviceID string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Where("service_id = ? AND used = ? AND request_id = ?", serviceID, false, "").
		Order("created_at ASC")
}

func (g *Gorm) UseInstance(ctx context.Context, id, requestID string, at time.Time) error {
	res := g.db.WithContext(ctx).Model(&models.TemplateInstance{}).
		Where("id = ? AND request_id = ? AND used = ?", id, requestID, false).
		Updates(map[string]any{"used": true, "used_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to mark instance used: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (g *Gorm) ReleaseInstance(ctx context.Context, id, requestID string) error {
	res := g.db.WithContext(ctx).Model(&models.TemplateInstance{}).
		Where("id = ? AND request_id = ? AND used = ?", id, requestID, false).
		Update("request_id", "")
	if res.Error != nil {
		return fmt.Errorf("failed to release instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (g *Gorm) DiscardInstance(ctx context.Context, id, requestID string, at time.Time) error {
	res := g.db.WithContext(ctx).Model(&models.TemplateInstance{}).
		Where("id = ? AND request_id = ? AND used = ?", id, requestID, false).
		Updates(map[string]any{"used": true, "discarded": true, "used_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to discard instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (g *Gorm) CountAvailable(ctx context.Context, serviceID string) (int64, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&models.TemplateInstance{}).
		Where("service_id = ? AND used = ? AND request_id = ?", serviceID, false, "").
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}

func (g *Gorm) ListInstances(ctx context.Context, serviceID string) ([]models.TemplateInstance, error) {
	var out []models.TemplateInstance
	err := g.db.WithContext(ctx).Where("service_id = ?", serviceID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return out, nil
}

func (g *Gorm) CreateJob(ctx context.Context, job *models.PDFJob) error {
	if err := g.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (g *Gorm) GetJob(ctx context.Context, id string) (*models.PDFJob, error) {
	var job models.PDFJob
	if err := g.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (g *Gorm) UpdateJob(ctx context.Context, job *models.PDFJob) error {
	if err := g.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (g *Gorm) CreateLog(ctx context.Context, log *models.ActivityLog) error {
	return g.db.WithContext(ctx).Create(log).Error
}

func (g *Gorm) ListLogs(ctx context.Context, filter LogFilter) ([]models.ActivityLog, int64, error) {
	query := g.db.WithContext(ctx).Model(&models.ActivityLog{})
	if filter.Method != "" {
		query = query.Where("method = ?", strings.ToUpper(filter.Method))
	}
	if filter.Path != "" {
		query = query.Where("path LIKE ?", "%"+filter.Path+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var logs []models.ActivityLog
	if err := query.Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch logs: %w", err)
	}
	return logs, total, nil
}
