package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kspro0090/baradar/internal/services"
)

type TemplateHandler struct {
	templates *services.TemplateService
	requests  *services.RequestService
}

func NewTemplateHandler(templates *services.TemplateService, requests *services.RequestService) *TemplateHandler {
	return &TemplateHandler{templates: templates, requests: requests}
}

func (h *TemplateHandler) CreateService(c *gin.Context) {
	var in services.CreateServiceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "detail": err.Error()})
		return
	}
	svc, err := h.templates.CreateService(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, svc)
}

func (h *TemplateHandler) GetService(c *gin.Context) {
	svc, err := h.templates.GetService(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

// UploadTemplate takes a multipart form with the file under "template" and
// optional "layout" and "page_size" values for image templates.
func (h *TemplateHandler) UploadTemplate(c *gin.Context) {
	file, header, err := c.Request.FormFile("template")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	svc, err := h.templates.UploadTemplate(c.Request.Context(), c.Param("id"), services.TemplateUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		Layout:      c.PostForm("layout"),
		PageSize:    c.PostForm("page_size"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	report, err := h.templates.Report(c.Request.Context(), svc.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service": svc,
		"report":  report,
		"message": "Template uploaded successfully",
	})
}

func (h *TemplateHandler) GetPlaceholders(c *gin.Context) {
	report, err := h.templates.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type registerInstancesRequest struct {
	Refs []string `json:"refs" binding:"required"`
}

func (h *TemplateHandler) RegisterInstances(c *gin.Context) {
	var req registerInstancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "detail": err.Error()})
		return
	}
	instances, available, err := h.templates.RegisterInstances(c.Request.Context(), c.Param("id"), req.Refs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"instances": instances, "available": available})
}

// Preview returns the image template as PNG with the layout drawn on it.
// Query parameters fill fields; missing ones show their labels.
func (h *TemplateHandler) Preview(c *gin.Context) {
	values := make(map[string]string)
	for key, v := range c.Request.URL.Query() {
		if len(v) > 0 && v[0] != "" {
			values[key] = v[0]
		}
	}
	png, err := h.templates.Preview(c.Request.Context(), c.Param("id"), values)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *TemplateHandler) Stats(c *gin.Context) {
	stats, err := h.requests.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
