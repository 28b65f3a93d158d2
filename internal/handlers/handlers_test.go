package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/pdf"
	"github.com/kspro0090/baradar/internal/queue"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/services"
	"github.com/kspro0090/baradar/internal/storage"
	"github.com/kspro0090/baradar/internal/store"
)

type testServer struct {
	router   *gin.Engine
	signer   *auth.Signer
	store    *store.Memory
	blobs    *storage.Local
	admin    string
	approver string
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blobs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	registry, err := fonts.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	signer, _ := auth.NewSigner("handler-secret")
	mem := store.NewMemory()
	lc := lifecycle.NewManager(mem, nil)
	renderer := render.New(render.Options{
		Blobs:   blobs,
		Fonts:   registry,
		Emitter: pdf.NewEmitter(registry, nil, pdf.Options{}),
	})
	templates := services.NewTemplateService(mem, blobs, renderer, lc, registry, nil)

	s := &testServer{signer: signer, store: mem, blobs: blobs}
	s.router = NewRouter(RouterOptions{
		Templates:    templates,
		Requests:     services.NewRequestService(mem, queue.NewMemory(8), lc, blobs, services.RequestOptions{Signer: signer}),
		Fonts:        services.NewFontService(registry, templates),
		ActivityLogs: services.NewActivityLogService(mem, nil),
		Signer:       signer,
		Limiter:      limiter,
	})
	s.admin, _ = signer.IssueRole("root", auth.RoleAdmin, time.Hour)
	s.approver, _ = signer.IssueRole("reza", auth.RoleApprover, time.Hour)
	return s
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (s *testServer) createService(t *testing.T, pooled bool) string {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/api/v1/services", s.admin, map[string]any{
		"name":              "گواهی اشتغال",
		"template_kind":     "docx",
		"use_instance_pool": pooled,
		"fields": []map[string]any{
			{"field_name": "employee_name", "is_required": true},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create service = %d %s", w.Code, w.Body)
	}
	return body["id"].(string)
}

func TestRoleChecks(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"approver", s.approver, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := s.do(t, http.MethodPost, "/api/v1/services", tt.token, map[string]any{"name": "x", "template_kind": "docx"})
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSubmitAndTrack(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createService(t, false)

	w, body := s.do(t, http.MethodPost, "/api/v1/services/"+id+"/requests", "", map[string]any{
		"data": map[string]string{"employee_name": "مریم احمدی"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d %s", w.Code, w.Body)
	}
	code, _ := body["tracking_code"].(string)
	if len(code) != 10 {
		t.Fatalf("tracking code = %q", code)
	}

	w, body = s.do(t, http.MethodGet, "/api/v1/requests/"+code, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("track = %d %s", w.Code, w.Body)
	}
	if body["status"] != "pending" {
		t.Errorf("status = %v", body["status"])
	}
	if _, ok := body["download_url"]; ok {
		t.Error("pending request offers a download")
	}

	w, _ = s.do(t, http.MethodGet, "/api/v1/requests/"+code+"/pdf?token=forged", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("download with a forged token = %d", w.Code)
	}
}

func TestSubmitValidationListsFields(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createService(t, false)

	w, body := s.do(t, http.MethodPost, "/api/v1/services/"+id+"/requests", "", map[string]any{
		"data": map[string]string{"employee_name": "  "},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	fields, _ := body["fields"].(map[string]any)
	if _, ok := fields["employee_name"]; !ok {
		t.Errorf("fields = %v", body["fields"])
	}
	if _, ok := body["detail"]; ok {
		t.Error("public caller received internal detail")
	}
}

func TestDownloadApprovedPDF(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, nil)
	const code = "K7M2PQ9XTB"
	err := s.store.CreateRequest(ctx, &models.ServiceRequest{
		ID:           "req-1",
		ServiceID:    "svc-1",
		TrackingCode: code,
		Status:       models.StatusApproved,
		PDFFilename:  storage.PDFFilename(code),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.blobs.Put(ctx, storage.ArtifactObjectName(code), bytes.NewReader([]byte("%PDF-1.4 test")), "application/pdf"); err != nil {
		t.Fatal(err)
	}
	token, err := s.signer.DownloadToken(code, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	w, _ := s.do(t, http.MethodGet, "/api/v1/requests/"+code+"/pdf?token="+url.QueryEscape(token), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download = %d %s", w.Code, w.Body)
	}
	got := map[string]string{
		"Content-Disposition": w.Header().Get("Content-Disposition"),
		"Content-Type":        w.Header().Get("Content-Type"),
		"body":                w.Body.String(),
	}
	want := map[string]string{
		"Content-Disposition": `attachment; filename="request_K7M2PQ9XTB.pdf"`,
		"Content-Type":        "application/pdf",
		"body":                "%PDF-1.4 test",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("download mismatch (-want +got):\n%s", diff)
	}
}

func TestApproveEmptyPool(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createService(t, true)

	_, created := s.do(t, http.MethodPost, "/api/v1/services/"+id+"/requests", "", map[string]any{
		"data": map[string]string{"employee_name": "مریم احمدی"},
	})
	code := created["tracking_code"].(string)
	_, tracked := s.do(t, http.MethodGet, "/api/v1/requests/"+code, "", nil)
	if tracked["status"] != "pending" {
		t.Fatalf("track = %v", tracked)
	}

	w, list := s.do(t, http.MethodGet, "/api/v1/services/"+id+"/requests?status=pending", s.approver, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d %s", w.Code, w.Body)
	}
	pending, _ := list["requests"].([]any)
	if len(pending) != 1 {
		t.Fatalf("pending = %v", list["requests"])
	}
	first := pending[0].(map[string]any)
	if first["tracking_code"] != code {
		t.Errorf("listed %v, want %s", first["tracking_code"], code)
	}
	requestID := first["id"].(string)

	w, body := s.do(t, http.MethodPost, "/api/v1/requests/"+requestID+"/approve", s.approver, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("approve = %d %s", w.Code, w.Body)
	}
	want := map[string]any{"error": body["error"], "code": "empty_template_pool"}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("approver body mismatch (-want +got):\n%s", diff)
	}

	_, body = s.do(t, http.MethodPost, "/api/v1/requests/"+requestID+"/approve", s.admin, nil)
	if body["detail"] == nil {
		t.Error("admin response lacks detail")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	s := newTestServer(t, NewRateLimiter(0.001, 1, nil))
	id := s.createService(t, false)

	payload := map[string]any{"data": map[string]string{"employee_name": "مریم"}}
	if w, _ := s.do(t, http.MethodPost, "/api/v1/services/"+id+"/requests", "", payload); w.Code != http.StatusCreated {
		t.Fatalf("first submit = %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodPost, "/api/v1/services/"+id+"/requests", "", payload); w.Code != http.StatusTooManyRequests {
		t.Errorf("second submit = %d, want 429", w.Code)
	}
	// Other routes are not limited.
	if w, _ := s.do(t, http.MethodGet, "/api/v1/services/"+id, "", nil); w.Code != http.StatusOK {
		t.Errorf("get service = %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{lifecycle.ErrEmptyTemplatePool, http.StatusConflict},
		{services.ErrNotPending, http.StatusConflict},
		{store.ErrNotFound, http.StatusNotFound},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{&services.ValidationError{Fields: map[string]string{"a": "b"}}, http.StatusBadRequest},
		{&render.StageError{Template: "t", Stage: render.StageFetch, Err: render.ErrTemplateUnavailable}, http.StatusUnprocessableEntity},
		{queue.ErrFull, http.StatusServiceUnavailable},
		{render.ErrRenderFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
