package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kspro0090/baradar/internal/services"
)

type FontHandler struct {
	fonts *services.FontService
}

func NewFontHandler(fonts *services.FontService) *FontHandler {
	return &FontHandler{fonts: fonts}
}

// List returns the installed fonts. With ?resolve=<name> it also shows how
// that name would be served.
func (h *FontHandler) List(c *gin.Context) {
	body := gin.H{"fonts": h.fonts.List()}
	if name, ok := c.GetQuery("resolve"); ok {
		body["resolution"] = h.fonts.Resolve(name)
	}
	c.JSON(http.StatusOK, body)
}

func (h *FontHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("font")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	asset, err := h.fonts.Upload(header.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

func (h *FontHandler) Delete(c *gin.Context) {
	if err := h.fonts.Delete(c.Param("file")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FontHandler) Missing(c *gin.Context) {
	missing, err := h.fonts.Missing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"missing": missing})
}
