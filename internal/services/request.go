package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/queue"
	"github.com/kspro0090/baradar/internal/storage"
	"github.com/kspro0090/baradar/internal/store"
)

const maxCodeAttempts = 5

// SheetLookup answers auto-approval questions.
type SheetLookup interface {
	Contains(ctx context.Context, spreadsheetID, column, value string) (bool, error)
}

type RequestOptions struct {
	Sheets      SheetLookup // nil disables auto-approval
	Signer      *auth.Signer
	DownloadTTL time.Duration
	BaseURL     string
	Logger      *zap.Logger
}

type RequestService struct {
	store       store.Store
	queue       queue.Queue
	lifecycle   *lifecycle.Manager
	artifacts   storage.Store
	sheets      SheetLookup
	signer      *auth.Signer
	downloadTTL time.Duration
	baseURL     string
	logger      *zap.Logger
}

func NewRequestService(s store.Store, q queue.Queue, lc *lifecycle.Manager, artifacts storage.Store, opts RequestOptions) *RequestService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.DownloadTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RequestService{
		store:       s,
		queue:       q,
		lifecycle:   lc,
		artifacts:   artifacts,
		sheets:      opts.Sheets,
		signer:      opts.Signer,
		downloadTTL: ttl,
		baseURL:     opts.BaseURL,
		logger:      logger,
	}
}

// Submit validates data against the service form and stores a pending
// request under a fresh tracking code.
func (s *RequestService) Submit(ctx context.Context, serviceID string, data map[string]string) (*models.ServiceRequest, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", serviceID, err)
	}
	if !svc.IsActive {
		return nil, ErrServiceInactive
	}

	clean, err := validateSubmission(svc.Fields, data)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form data: %w", err)
	}

	req := &models.ServiceRequest{
		ID:        uuid.New().String(),
		ServiceID: svc.ID,
		FormData:  string(payload),
		Status:    models.StatusPending,
	}
	for attempt := 1; ; attempt++ {
		if req.TrackingCode, err = newTrackingCode(); err != nil {
			return nil, fmt.Errorf("failed to generate tracking code: %w", err)
		}
		err = s.store.CreateRequest(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxCodeAttempts {
			return nil, fmt.Errorf("failed to save request: %w", err)
		}
		s.logger.Warn("tracking code collision", zap.Int("attempt", attempt))
	}
	s.logger.Info("request submitted",
		zap.String("service_id", svc.ID), zap.String("tracking_code", req.TrackingCode))

	if svc.AutoApproves() {
		s.autoApprove(ctx, svc, req, clean[svc.AutoApproveField])
	}
	return req, nil
}

func (s *RequestService) autoApprove(ctx context.Context, svc *models.Service, req *models.ServiceRequest, value string) {
	if s.sheets == nil || value == "" {
		return
	}
	logger := s.logger.With(zap.String("tracking_code", req.TrackingCode))

	ok, err := s.sheets.Contains(ctx, svc.AutoApproveSheetID, svc.AutoApproveColumn, value)
	if err != nil {
		logger.Warn("auto-approval lookup failed, request stays pending", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if _, err := s.Approve(ctx, req.ID, "auto", "تایید خودکار"); err != nil {
		logger.Warn("auto-approval could not be queued", zap.Error(err))
		return
	}
	logger.Info("request auto-approved")
}

// Tracking is what the public sees of a request.
type Tracking struct {
	TrackingCode string     `json:"tracking_code"`
	ServiceName  string     `json:"service_name"`
	Status       string     `json:"status"`
	ApprovalNote string     `json:"approval_note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DownloadURL  string     `json:"download_url,omitempty"`
}

func (s *RequestService) Track(ctx context.Context, code string) (*Tracking, error) {
	req, err := s.store.GetRequestByCode(ctx, NormalizeTrackingCode(code))
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", code, err)
	}
	t := &Tracking{
		TrackingCode: req.TrackingCode,
		Status:       req.Status,
		ApprovalNote: req.ApprovalNote,
		CreatedAt:    req.CreatedAt,
		DecidedAt:    req.DecidedAt,
	}
	if svc, err := s.store.GetService(ctx, req.ServiceID); err == nil {
		t.ServiceName = svc.Name
	}
	if req.Status == models.StatusApproved && s.signer != nil {
		token, err := s.signer.DownloadToken(req.TrackingCode, s.downloadTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to sign download link: %w", err)
		}
		t.DownloadURL = fmt.Sprintf("%s/api/v1/requests/%s/pdf?token=%s", s.baseURL, req.TrackingCode, url.QueryEscape(token))
	}
	return t, nil
}

// Approve hands a pending request to a new PDF job and queues it. The
// request moves to processing under the job's ID in one conditional
// update, so of two concurrent approvals only one succeeds. Services with
// an instance pool are refused up front when the pool is already empty.
func (s *RequestService) Approve(ctx context.Context, requestID, approvedBy, note string) (*models.PDFJob, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("request %s is %s: %w", req.ID, req.Status, ErrNotPending)
	}
	svc, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", req.ServiceID, err)
	}
	if svc.UseInstancePool {
		n, err := s.lifecycle.Available(ctx, svc.ID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, lifecycle.ErrEmptyTemplatePool
		}
	}

	job := &models.PDFJob{
		ID:           uuid.New().String(),
		RequestID:    req.ID,
		TrackingCode: req.TrackingCode,
		Status:       models.JobPending,
	}
	req.Status = models.StatusProcessing
	req.JobID = job.ID
	if err := s.store.TransitionRequest(ctx, req, models.StatusPending); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("request %s was decided concurrently: %w", req.ID, ErrNotPending)
		}
		return nil, fmt.Errorf("failed to claim request %s: %w", req.ID, err)
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		s.reopen(ctx, req)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	task := queue.Task{
		JobID:        job.ID,
		RequestID:    req.ID,
		TrackingCode: req.TrackingCode,
		ServiceID:    svc.ID,
		ApprovedBy:   approvedBy,
		Note:         note,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		job.Status = models.JobFailed
		job.Error = err.Error()
		if uerr := s.store.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
			s.logger.Warn("failed to record enqueue failure", zap.Error(uerr))
		}
		s.reopen(ctx, req)
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	s.logger.Info("approval queued",
		zap.String("tracking_code", req.TrackingCode), zap.String("job_id", job.ID), zap.String("by", approvedBy))
	return job, nil
}

// reopen returns a request whose job never got queued to pending.
func (s *RequestService) reopen(ctx context.Context, req *models.ServiceRequest) {
	req.Status = models.StatusPending
	req.JobID = ""
	if err := s.store.TransitionRequest(context.WithoutCancel(ctx), req, models.StatusProcessing); err != nil {
		s.logger.Error("failed to return request to pending",
			zap.String("tracking_code", req.TrackingCode), zap.Error(err))
	}
}

func (s *RequestService) Reject(ctx context.Context, requestID, rejectedBy, note string) (*models.ServiceRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("request %s is %s: %w", req.ID, req.Status, ErrNotPending)
	}
	now := time.Now()
	req.Status = models.StatusRejected
	req.ApprovedBy = rejectedBy
	req.ApprovalNote = note
	req.DecidedAt = &now
	if err := s.store.TransitionRequest(ctx, req, models.StatusPending); err != nil {
		return nil, fmt.Errorf("failed to reject request %s: %w", req.ID, err)
	}
	s.logger.Info("request rejected", zap.String("tracking_code", req.TrackingCode), zap.String("by", rejectedBy))
	return req, nil
}

func (s *RequestService) Job(ctx context.Context, id string) (*models.PDFJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return job, nil
}

func (s *RequestService) Stats(ctx context.Context, serviceID string) (store.Stats, error) {
	if _, err := s.store.GetService(ctx, serviceID); err != nil {
		return store.Stats{}, fmt.Errorf("service %s: %w", serviceID, err)
	}
	return s.store.RequestStats(ctx, serviceID)
}

// List returns a service's requests for the approval queue.
func (s *RequestService) List(ctx context.Context, filter store.RequestFilter) ([]models.ServiceRequest, int64, error) {
	if _, err := s.store.GetService(ctx, filter.ServiceID); err != nil {
		return nil, 0, fmt.Errorf("service %s: %w", filter.ServiceID, err)
	}
	return s.store.ListRequests(ctx, filter)
}

// Download opens the PDF of an approved request. token must be a download
// token signed for code.
func (s *RequestService) Download(ctx context.Context, code, token string) (io.ReadCloser, string, error) {
	code = NormalizeTrackingCode(code)
	if s.signer == nil {
		return nil, "", auth.ErrInvalidToken
	}
	if err := s.signer.VerifyDownload(token, code); err != nil {
		return nil, "", err
	}
	req, err := s.store.GetRequestByCode(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("request %s: %w", code, err)
	}
	if req.Status != models.StatusApproved {
		return nil, "", ErrNotApproved
	}
	rc, err := s.artifacts.Open(ctx, storage.ArtifactObjectName(req.TrackingCode))
	if errors.Is(err, storage.ErrNotExist) {
		return nil, "", fmt.Errorf("pdf of %s: %w", code, store.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open pdf of %s: %w", code, err)
	}
	return rc, req.PDFFilename, nil
}
