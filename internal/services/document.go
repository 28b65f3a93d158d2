package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/placeholder"
	"github.com/kspro0090/baradar/internal/queue"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/storage"
	"github.com/kspro0090/baradar/internal/store"
)

// DocumentService produces the PDF of an approved request. Generate is
// the queue handler.
type DocumentService struct {
	store     store.Store
	artifacts storage.Store
	renderer  *render.Renderer
	lifecycle *lifecycle.Manager
	templates *TemplateService
	logger    *zap.Logger
	now       func() time.Time
}

func NewDocumentService(s store.Store, artifacts storage.Store, renderer *render.Renderer, lc *lifecycle.Manager, templates *TemplateService, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		store:     s,
		artifacts: artifacts,
		renderer:  renderer,
		lifecycle: lc,
		templates: templates,
		logger:    logger,
		now:       time.Now,
	}
}

func formData(req *models.ServiceRequest) (map[string]string, error) {
	data := make(map[string]string)
	if req.FormData == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(req.FormData), &data); err != nil {
		return nil, fmt.Errorf("request %s has unreadable form data: %w", req.ID, err)
	}
	return data, nil
}

// Generate runs the approval of one request: claim it for the task's job,
// reserve a template instance when the service has a pool, render, store
// the PDF, then mark the instance used and the request approved. Any
// failure before the commit puts the request back to pending and returns
// the instance to the pool, or retires it when the render may have
// written into it.
func (s *DocumentService) Generate(ctx context.Context, task queue.Task) (string, error) {
	logger := s.logger.With(zap.String("request_id", task.RequestID),
		zap.String("tracking_code", task.TrackingCode), zap.String("job_id", task.JobID))

	req, err := s.claim(ctx, task)
	if err != nil {
		return "", err
	}
	if req.Status == models.StatusApproved {
		logger.Info("request already approved")
		return req.PDFFilename, nil
	}

	var (
		reservation *lifecycle.Reservation
		filled      bool
	)
	fail := func(err error) (string, error) {
		s.compensate(ctx, req, reservation, filled || render.Dirty(err), logger)
		return "", err
	}

	svc, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return fail(fmt.Errorf("failed to load service %s: %w", req.ServiceID, err))
	}
	tpl, err := s.templates.Template(svc)
	if err != nil {
		return fail(err)
	}
	data, err := formData(req)
	if err != nil {
		return fail(err)
	}

	if svc.UseInstancePool {
		reservation, err = s.lifecycle.Reserve(ctx, svc.ID, req.ID)
		if err != nil {
			return fail(err)
		}
		tpl.Instance = reservation.Instance.Ref
		logger = logger.With(zap.String("instance_id", reservation.Instance.ID))
	}

	values := render.WithReserved(placeholder.Values(Fields(svc), data), req.TrackingCode, req.CreatedAt)
	result, err := s.renderer.Render(ctx, tpl, values)
	if err != nil {
		return fail(err)
	}
	// A Google Doc instance now carries this request's data.
	filled = tpl.Kind == render.KindGoogleDoc && tpl.Instance != ""

	filename := storage.PDFFilename(req.TrackingCode)
	objectName := storage.ArtifactObjectName(req.TrackingCode)
	if _, err := s.artifacts.Put(ctx, objectName, bytes.NewReader(result.PDF), "application/pdf"); err != nil {
		return fail(fmt.Errorf("failed to store %s: %w", filename, err))
	}

	if reservation != nil {
		if err := reservation.Commit(ctx); err != nil {
			if derr := s.artifacts.Delete(context.WithoutCancel(ctx), objectName); derr != nil {
				logger.Warn("failed to remove artifact", zap.Error(derr))
			}
			return fail(err)
		}
	}

	decided := s.now()
	req.Status = models.StatusApproved
	req.ApprovedBy = task.ApprovedBy
	req.ApprovalNote = task.Note
	req.PDFFilename = filename
	req.DecidedAt = &decided
	if err := s.store.TransitionRequest(context.WithoutCancel(ctx), req, models.StatusProcessing); err != nil {
		// The instance is already used; it stays bound to this request.
		logger.Error("PDF stored but request could not be marked approved", zap.Error(err))
		return "", fmt.Errorf("failed to approve request %s: %w", req.ID, err)
	}

	logger.Info("request approved",
		zap.String("file", filename), zap.Int("pages", result.Pages), zap.Strings("unmapped", result.Unmapped))
	return filename, nil
}

// claim returns the request if task's job owns it. Approve hands the
// request over in processing; a pending request still naming the job was
// put back by an earlier attempt and is taken again. An approved request
// is returned as is.
func (s *DocumentService) claim(ctx context.Context, task queue.Task) (*models.ServiceRequest, error) {
	for {
		req, err := s.store.GetRequest(ctx, task.RequestID)
		if err != nil {
			return nil, fmt.Errorf("failed to load request %s: %w", task.RequestID, err)
		}
		switch {
		case req.Status == models.StatusApproved:
			return req, nil
		case req.JobID != task.JobID:
			return nil, fmt.Errorf("request %s belongs to job %q: %w", req.ID, req.JobID, ErrNotPending)
		case req.Status == models.StatusProcessing:
			return req, nil
		case req.Status != models.StatusPending:
			return nil, fmt.Errorf("request %s is %s: %w", req.ID, req.Status, ErrNotPending)
		}

		req.Status = models.StatusProcessing
		err = s.store.TransitionRequest(ctx, req, models.StatusPending)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim request %s: %w", req.ID, err)
		}
		return req, nil
	}
}

// compensate undoes a failed approval. The request keeps its JobID so a
// retry of the same job can claim it again.
func (s *DocumentService) compensate(ctx context.Context, req *models.ServiceRequest, reservation *lifecycle.Reservation, dirty bool, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if reservation != nil {
		settle := reservation.Release
		if dirty {
			settle = reservation.Discard
		}
		if err := settle(ctx); err != nil {
			logger.Error("failed to settle template instance", zap.Bool("discard", dirty), zap.Error(err))
		}
	}
	req.Status = models.StatusPending
	if err := s.store.TransitionRequest(ctx, req, models.StatusProcessing); err != nil {
		logger.Error("failed to return request to pending", zap.Error(err))
	}
}

// Recover puts back to pending every request left processing for longer
// than staleAfter, typically by a process that died mid-render or a queue
// that lost its tasks. Instances they hold go back to the pool, except
// Google Doc instances, which may already be filled and are retired. The
// request keeps its JobID, so a task that is still queued claims it again.
func (s *DocumentService) Recover(ctx context.Context, staleAfter time.Duration) (int, error) {
	stuck, _, err := s.store.ListRequests(ctx, store.RequestFilter{Status: models.StatusProcessing})
	if err != nil {
		return 0, fmt.Errorf("failed to list processing requests: %w", err)
	}

	cutoff := s.now().Add(-staleAfter)
	recovered := 0
	for i := range stuck {
		req := &stuck[i]
		if req.UpdatedAt.After(cutoff) {
			continue
		}
		logger := s.logger.With(zap.String("request_id", req.ID),
			zap.String("tracking_code", req.TrackingCode), zap.String("job_id", req.JobID))

		svc, err := s.store.GetService(ctx, req.ServiceID)
		if err != nil {
			return recovered, fmt.Errorf("failed to load service %s: %w", req.ServiceID, err)
		}
		var reservation *lifecycle.Reservation
		if svc.UseInstancePool {
			if reservation, err = s.lifecycle.Held(ctx, svc.ID, req.ID); err != nil {
				return recovered, err
			}
		}

		req.Status = models.StatusPending
		if err := s.store.TransitionRequest(ctx, req, models.StatusProcessing); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return recovered, fmt.Errorf("failed to reset request %s: %w", req.ID, err)
		}
		if reservation != nil {
			settle := reservation.Release
			if svc.TemplateKind == string(render.KindGoogleDoc) {
				settle = reservation.Discard
			}
			if err := settle(ctx); err != nil {
				logger.Error("failed to settle template instance", zap.Error(err))
			}
		}
		s.failJob(ctx, req.JobID, logger)

		recovered++
		logger.Warn("recovered interrupted approval")
	}
	return recovered, nil
}

func (s *DocumentService) failJob(ctx context.Context, jobID string, logger *zap.Logger) {
	if jobID == "" {
		return
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Warn("job of interrupted approval not found", zap.Error(err))
		return
	}
	if job.Status == models.JobCompleted || job.Status == models.JobFailed {
		return
	}
	job.Status = models.JobFailed
	job.Error = "interrupted before the PDF was stored"
	if err := s.store.UpdateJob(ctx, job); err != nil {
		logger.Warn("failed to mark job failed", zap.Error(err))
	}
}
