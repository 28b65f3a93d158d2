package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/queue"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/services"
	"github.com/kspro0090/baradar/internal/store"
)

func statusFor(err error) int {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, services.ErrInvalidTemplate),
		errors.Is(err, fonts.ErrInvalidFont):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fonts.ErrFontNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrEmptyTemplatePool),
		errors.Is(err, services.ErrNotPending),
		errors.Is(err, services.ErrNotApproved),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, services.ErrServiceInactive):
		return http.StatusConflict
	case errors.Is(err, render.ErrTemplateUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the public message for err. Administrators also get
// the internal detail.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": services.PublicMessage(err)}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	if errors.Is(err, lifecycle.ErrEmptyTemplatePool) {
		body["code"] = "empty_template_pool"
	}
	if roleOf(c) == auth.RoleAdmin {
		body["detail"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}
