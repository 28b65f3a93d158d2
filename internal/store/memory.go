package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kspro0090/baradar/internal/models"
)

// Memory keeps everything in process. One mutex serialises all access, so
// instance claims are exclusive in the same way row locks make them in SQL.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	services  map[string]models.Service
	requests  map[string]models.ServiceRequest
	codes     map[string]string // tracking code -> request ID
	instances []models.TemplateInstance
	jobs      map[string]models.PDFJob
	logs      []models.ActivityLog
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		services: make(map[string]models.Service),
		requests: make(map[string]models.ServiceRequest),
		codes:    make(map[string]string),
		jobs:     make(map[string]models.PDFJob),
	}
}

func (m *Memory) stamp(created, updated *time.Time) {
	now := m.now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func (m *Memory) CreateService(_ context.Context, svc *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[svc.ID]; ok {
		return ErrConflict
	}
	m.stamp(&svc.CreatedAt, &svc.UpdatedAt)
	for i := range svc.Fields {
		svc.Fields[i].ServiceID = svc.ID
		m.stamp(&svc.Fields[i].CreatedAt, &svc.Fields[i].UpdatedAt)
	}
	m.services[svc.ID] = cloneService(*svc)
	return nil
}

func (m *Memory) GetService(_ context.Context, id string) (*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneService(svc)
	sort.SliceStable(out.Fields, func(i, j int) bool { return out.Fields[i].FieldOrder < out.Fields[j].FieldOrder })
	return &out, nil
}

// UpdateService stores the service columns; fields are kept as created.
func (m *Memory) UpdateService(_ context.Context, svc *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.services[svc.ID]
	if !ok {
		return ErrNotFound
	}
	updated := cloneService(*svc)
	updated.Fields = old.Fields
	updated.CreatedAt = old.CreatedAt
	m.stamp(&updated.CreatedAt, &updated.UpdatedAt)
	svc.UpdatedAt = updated.UpdatedAt
	m.services[svc.ID] = updated
	return nil
}

func cloneService(s models.Service) models.Service {
	s.Fields = append([]models.FormField(nil), s.Fields...)
	return s
}

func (m *Memory) CreateRequest(_ context.Context, req *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[req.TrackingCode]; ok {
		return ErrConflict
	}
	if _, ok := m.requests[req.ID]; ok {
		return ErrConflict
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	m.stamp(&req.CreatedAt, &req.UpdatedAt)
	m.requests[req.ID] = *req
	m.codes[req.TrackingCode] = req.ID
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *Memory) GetRequestByCode(_ context.Context, code string) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	req := m.requests[id]
	return &req, nil
}

func (m *Memory) TransitionRequest(_ context.Context, req *models.ServiceRequest, from string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[req.ID]
	if !ok || cur.Status != from || cur.Version != req.Version {
		return ErrConflict
	}
	cur.Status = req.Status
	cur.ApprovalNote = req.ApprovalNote
	cur.ApprovedBy = req.ApprovedBy
	cur.PDFFilename = req.PDFFilename
	cur.DecidedAt = req.DecidedAt
	cur.JobID = req.JobID
	cur.Version++
	cur.UpdatedAt = m.now()
	m.requests[req.ID] = cur

	req.Version = cur.Version
	req.UpdatedAt = cur.UpdatedAt
	return nil
}

func (m *Memory) ListRequests(_ context.Context, filter RequestFilter) ([]models.ServiceRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.ServiceRequest
	for _, r := range m.requests {
		if (filter.ServiceID != "" && r.ServiceID != filter.ServiceID) || (filter.Status != "" && r.Status != filter.Status) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (m *Memory) RequestStats(_ context.Context, serviceID string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, r := range m.requests {
		if r.ServiceID == serviceID {
			s.add(r.Status, 1)
		}
	}
	return s, nil
}

func (m *Memory) AddInstances(_ context.Context, instances []models.TemplateInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range instances {
		m.stamp(&inst.CreatedAt, &inst.UpdatedAt)
		m.instances = append(m.instances, inst)
	}
	return nil
}

func (m *Memory) ClaimInstance(_ context.Context, serviceID, requestID string) (*models.TemplateInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.instances {
		inst := &m.instances[i]
		if inst.ServiceID == serviceID && !inst.Used && inst.RequestID == requestID {
			out := *inst
			return &out, nil
		}
	}
	for i := range m.instances {
		inst := &m.instances[i]
		if inst.ServiceID == serviceID && !inst.Used && inst.RequestID == "" {
			inst.RequestID = requestID
			inst.UpdatedAt = m.now()
			out := *inst
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) held(id, requestID string) (*models.TemplateInstance, error) {
	for i := range m.instances {
		inst := &m.instances[i]
		if inst.ID != id {
			continue
		}
		if inst.Used || inst.RequestID != requestID {
			return nil, ErrConflict
		}
		return inst, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) UseInstance(_ context.Context, id, requestID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, err := m.held(id, requestID)
	if err != nil {
		return err
	}
	inst.Used = true
	inst.UsedAt = &at
	inst.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ReleaseInstance(_ context.Context, id, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, err := m.held(id, requestID)
	if err != nil {
		return err
	}
	inst.RequestID = ""
	inst.UpdatedAt = m.now()
	return nil
}

func (m *Memory) DiscardInstance(_ context.Context, id, requestID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, err := m.held(id, requestID)
	if err != nil {
		return err
	}
	inst.Used = true
	inst.Discarded = true
	inst.UsedAt = &at
	inst.UpdatedAt = m.now()
	return nil
}

func (m *Memory) CountAvailable(_ context.Context, serviceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inst := range m.instances {
		if inst.ServiceID == serviceID && !inst.Used && inst.RequestID == "" {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListInstances(_ context.Context, serviceID string) ([]models.TemplateInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TemplateInstance
	for _, inst := range m.instances {
		if inst.ServiceID == serviceID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *Memory) CreateJob(_ context.Context, job *models.PDFJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrConflict
	}
	m.stamp(&job.CreatedAt, &job.UpdatedAt)
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*models.PDFJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (m *Memory) UpdateJob(_ context.Context, job *models.PDFJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.stamp(&job.CreatedAt, &job.UpdatedAt)
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) CreateLog(_ context.Context, log *models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&log.CreatedAt, &log.UpdatedAt)
	m.logs = append(m.logs, *log)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, filter LogFilter) ([]models.ActivityLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.ActivityLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		l := m.logs[i]
		if filter.Method != "" && !strings.EqualFold(l.Method, filter.Method) {
			continue
		}
		if filter.Path != "" && !strings.Contains(l.Path, filter.Path) {
			continue
		}
		matched = append(matched, l)
	}

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}
