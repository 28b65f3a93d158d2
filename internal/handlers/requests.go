package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/services"
	"github.com/kspro0090/baradar/internal/store"
)

type RequestHandler struct {
	requests *services.RequestService
}

func NewRequestHandler(requests *services.RequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

type submitRequest struct {
	Data map[string]string `json:"data" binding:"required"`
}

func (h *RequestHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "اطلاعات ارسال شده معتبر نیست"})
		return
	}
	created, err := h.requests.Submit(c.Request.Context(), c.Param("id"), req.Data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"tracking_code": created.TrackingCode,
		"status":        created.Status,
		"message":       "درخواست شما ثبت شد. کد پیگیری را نگه دارید",
	})
}

func (h *RequestHandler) Track(c *gin.Context) {
	t, err := h.requests.Track(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *RequestHandler) Download(c *gin.Context) {
	rc, filename, err := h.requests.Download(c.Request.Context(), c.Param("ref"), c.Query("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}

type decisionRequest struct {
	Note string `json:"note"`
}

func (h *RequestHandler) Approve(c *gin.Context) {
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)

	job, err := h.requests.Approve(c.Request.Context(), c.Param("ref"), subjectOf(c), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func (h *RequestHandler) Reject(c *gin.Context) {
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)

	rejected, err := h.requests.Reject(c.Request.Context(), c.Param("ref"), subjectOf(c), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking_code": rejected.TrackingCode, "status": rejected.Status})
}

func (h *RequestHandler) Job(c *gin.Context) {
	job, err := h.requests.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	// The failure detail is for administrators.
	if roleOf(c) != auth.RoleAdmin {
		job.Error = ""
	}
	c.JSON(http.StatusOK, job)
}

// List serves the approval queue of a service: ?status= filters, paging as
// for the activity log.
func (h *RequestHandler) List(c *gin.Context) {
	limit, page := pagination(c)
	reqs, total, err := h.requests.List(c.Request.Context(), store.RequestFilter{
		ServiceID: c.Param("id"),
		Status:    c.Query("status"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests": reqs,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}
