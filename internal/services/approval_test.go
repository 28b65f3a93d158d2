package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kspro0090/baradar/internal/gdocs"
	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/placeholder"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/storage"
)

// fakeDocs keeps Google Doc bodies in memory. RenderInPlace writes the
// values into the stored body before exporting, as the Docs API does.
type fakeDocs struct {
	mu         sync.Mutex
	bodies     map[string]string
	failExport int
}

func (f *fakeDocs) Placeholders(_ context.Context, docID string) (*placeholder.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[docID]
	if !ok {
		return nil, &gdocs.OpError{Op: "get", DocID: docID, Err: errors.New("no such document")}
	}
	return placeholder.Scan(body), nil
}

func (f *fakeDocs) RenderCopy(context.Context, string, string, map[string]string) ([]byte, error) {
	return nil, errors.New("pooled services never copy")
}

func (f *fakeDocs) RenderInPlace(_ context.Context, docID string, values map[string]string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := f.bodies[docID]
	for name, v := range values {
		body = strings.ReplaceAll(body, placeholder.Token(name), v)
	}
	f.bodies[docID] = body
	if f.failExport > 0 {
		f.failExport--
		return nil, &gdocs.OpError{Op: "export", DocID: docID, Err: context.DeadlineExceeded}
	}
	return []byte("%PDF- " + body), nil
}

func (e *env) submitName(t *testing.T, serviceID, name string) *models.ServiceRequest {
	t.Helper()
	req, err := e.requests.Submit(context.Background(), serviceID, map[string]string{"employee_name": name})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return req
}

func (e *env) artifact(t *testing.T, code string) string {
	t.Helper()
	rc, err := e.blobs.Open(context.Background(), storage.ArtifactObjectName(code))
	if err != nil {
		t.Fatalf("open artifact of %s: %v", code, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestFailedExportRetiresFilledInstance(t *testing.T) {
	ctx := context.Background()
	docs := &fakeDocs{
		bodies: map[string]string{
			"doc-1": "name: {{employee_name}}",
			"doc-2": "name: {{employee_name}}",
		},
		failExport: 1,
	}
	e := newRemoteEnv(t, nil, nil, docs)
	svc, err := e.templates.CreateService(ctx, CreateServiceInput{
		Name:            "گواهی اشتغال",
		TemplateKind:    "google_doc",
		UseInstancePool: true,
		Fields:          []FieldInput{{Name: "employee_name", Required: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.templates.RegisterInstances(ctx, svc.ID, []string{"doc-1", "doc-2"}); err != nil {
		t.Fatal(err)
	}

	ali := e.submitName(t, svc.ID, "Ali")
	aliTask := e.approve(t, ali.ID)
	if _, err := e.documents.Generate(ctx, aliTask); !errors.Is(err, render.ErrRenderFailure) {
		t.Fatalf("Generate err = %v, want ErrRenderFailure", err)
	}
	if got, _ := e.store.GetRequest(ctx, ali.ID); got.Status != models.StatusPending {
		t.Errorf("request status = %s, want pending", got.Status)
	}

	pool, _ := e.lifecycle.Instances(ctx, svc.ID)
	want := []models.TemplateInstance{
		{ServiceID: svc.ID, Ref: "doc-1", Used: true, Discarded: true, RequestID: ali.ID},
		{ServiceID: svc.ID, Ref: "doc-2"},
	}
	ignore := cmpopts.IgnoreFields(models.TemplateInstance{}, "ID", "UsedAt", "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(want, pool, ignore); diff != "" {
		t.Errorf("pool mismatch (-want +got):\n%s", diff)
	}

	maryam := e.submitName(t, svc.ID, "Maryam")
	if _, err := e.documents.Generate(ctx, e.approve(t, maryam.ID)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := e.artifact(t, maryam.TrackingCode); got != "%PDF- name: Maryam" {
		t.Errorf("second PDF = %q", got)
	}
	if n, _ := e.lifecycle.Available(ctx, svc.ID); n != 0 {
		t.Errorf("available = %d, want 0", n)
	}

	// The filled document is never handed out again, also not to Ali.
	if _, err := e.documents.Generate(ctx, aliTask); !errors.Is(err, lifecycle.ErrEmptyTemplatePool) {
		t.Errorf("retry err = %v, want ErrEmptyTemplatePool", err)
	}
}

func TestConcurrentApprovalsOfOneRequest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, nil)
	svc := e.docxService(t, false)
	req := e.submit(t, svc.ID)

	var (
		wg   sync.WaitGroup
		jobs = make([]*models.PDFJob, 2)
		errs = make([]error, 2)
	)
	for i, by := range []string{"reza", "sara"} {
		wg.Add(1)
		go func(i int, by string) {
			defer wg.Done()
			jobs[i], errs[i] = e.requests.Approve(ctx, req.ID, by, "")
		}(i, by)
	}
	wg.Wait()

	var winner *models.PDFJob
	for i, err := range errs {
		switch {
		case err == nil:
			winner = jobs[i]
		case !errors.Is(err, ErrNotPending):
			t.Errorf("losing approval err = %v, want ErrNotPending", err)
		}
	}
	if winner == nil || (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("approvals = %v, want exactly one success", errs)
	}
	if n, _ := e.queue.Len(ctx); n != 1 {
		t.Errorf("%d tasks queued, want 1", n)
	}
	got, _ := e.store.GetRequest(ctx, req.ID)
	if got.Status != models.StatusProcessing || got.JobID != winner.ID {
		t.Errorf("request = %s owned by %q, want processing by %s", got.Status, got.JobID, winner.ID)
	}
}

func TestTaskOfAnotherJobDoesNotRender(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, nil)
	svc := e.docxService(t, false)
	req := e.submit(t, svc.ID)
	task := e.approve(t, req.ID)

	dup := task
	dup.JobID = "stale-job"
	if _, err := e.documents.Generate(ctx, dup); !errors.Is(err, ErrNotPending) {
		t.Fatalf("foreign task err = %v, want ErrNotPending", err)
	}
	if _, err := e.blobs.Open(ctx, storage.ArtifactObjectName(req.TrackingCode)); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("foreign task stored a PDF: %v", err)
	}
	if got, _ := e.store.GetRequest(ctx, req.ID); got.Status != models.StatusProcessing || got.JobID != task.JobID {
		t.Errorf("request = %s owned by %q", got.Status, got.JobID)
	}

	if _, err := e.documents.Generate(ctx, task); err != nil {
		t.Fatalf("owning task: %v", err)
	}
}

func TestApproveRestoresPendingWhenQueueFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, nil)
	svc := e.docxService(t, false)
	req := e.submit(t, svc.ID)
	e.queue.Close()

	if _, err := e.requests.Approve(ctx, req.ID, "reza", ""); err == nil {
		t.Fatal("Approve succeeded on a closed queue")
	}
	got, _ := e.store.GetRequest(ctx, req.ID)
	if got.Status != models.StatusPending || got.JobID != "" {
		t.Errorf("request = %s owned by %q, want pending and free", got.Status, got.JobID)
	}
}

func TestRecoverInterruptedApproval(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, nil)
	svc := e.docxService(t, true)
	if _, err := e.blobs.Put(ctx, "instances/1.docx", bytes.NewReader(leaveDocx), ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.templates.RegisterInstances(ctx, svc.ID, []string{"instances/1.docx"}); err != nil {
		t.Fatal(err)
	}
	req := e.submit(t, svc.ID)
	task := e.approve(t, req.ID)
	// A worker reserved the instance and died before finishing.
	if _, err := e.lifecycle.Reserve(ctx, svc.ID, req.ID); err != nil {
		t.Fatal(err)
	}

	if n, err := e.documents.Recover(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("recent approval recovered: n = %d, err = %v", n, err)
	}
	n, err := e.documents.Recover(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v; want 1", n, err)
	}

	got, _ := e.store.GetRequest(ctx, req.ID)
	if got.Status != models.StatusPending || got.JobID != task.JobID {
		t.Errorf("request = %s owned by %q", got.Status, got.JobID)
	}
	if n, _ := e.lifecycle.Available(ctx, svc.ID); n != 1 {
		t.Errorf("available = %d, want 1", n)
	}
	if job, _ := e.store.GetJob(ctx, task.JobID); job.Status != models.JobFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}

	// A task that survived in the queue still completes the approval.
	if _, err := e.documents.Generate(ctx, task); err != nil {
		t.Fatalf("Generate after recovery: %v", err)
	}
	if got, _ := e.store.GetRequest(ctx, req.ID); got.Status != models.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
}
