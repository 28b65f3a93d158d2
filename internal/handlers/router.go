package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/services"
)

type RouterOptions struct {
	Templates    *services.TemplateService
	Requests     *services.RequestService
	Fonts        *services.FontService
	ActivityLogs *services.ActivityLogService
	Signer       *auth.Signer
	Limiter      *RateLimiter
	AllowOrigins []string
	Logger       *zap.Logger
}

func NewRouter(opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: len(origins) != 1 || origins[0] != "*",
		MaxAge:           12 * time.Hour,
	}))

	r.Use(Authenticate(opts.Signer))
	if opts.ActivityLogs != nil {
		r.Use(opts.ActivityLogs.LoggingMiddleware())
	}

	templates := NewTemplateHandler(opts.Templates, opts.Requests)
	requests := NewRequestHandler(opts.Requests)
	fonts := NewFontHandler(opts.Fonts)
	logs := NewLogsHandler(opts.ActivityLogs)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		submit := []gin.HandlerFunc{requests.Submit}
		if opts.Limiter != nil {
			submit = append([]gin.HandlerFunc{opts.Limiter.Middleware()}, submit...)
		}
		v1.GET("/services/:id", templates.GetService)
		v1.POST("/services/:id/requests", submit...)
		v1.GET("/requests/:ref", requests.Track)
		v1.GET("/requests/:ref/pdf", requests.Download)

		// :ref is a tracking code on public routes and a request ID on
		// decision routes.
		approver := v1.Group("", RequireRole(auth.RoleApprover))
		approver.POST("/requests/:ref/approve", requests.Approve)
		approver.POST("/requests/:ref/reject", requests.Reject)
		approver.GET("/jobs/:id", requests.Job)
		approver.GET("/services/:id/requests", requests.List)

		admin := v1.Group("", RequireRole(auth.RoleAdmin))
		admin.POST("/services", templates.CreateService)
		admin.POST("/services/:id/template", templates.UploadTemplate)
		admin.GET("/services/:id/placeholders", templates.GetPlaceholders)
		admin.POST("/services/:id/instances", templates.RegisterInstances)
		admin.GET("/services/:id/preview", templates.Preview)
		admin.GET("/services/:id/stats", templates.Stats)
		admin.GET("/services/:id/fonts/missing", fonts.Missing)

		admin.GET("/fonts", fonts.List)
		admin.POST("/fonts", fonts.Upload)
		admin.DELETE("/fonts/:file", fonts.Delete)

		admin.GET("/logs", logs.GetAllLogs)
		admin.GET("/logs/stats", logs.GetLogStats)
		admin.GET("/logs/decisions", logs.GetDecisions)
	}

	logger.Info("routes registered", zap.Int("count", len(r.Routes())))
	return r
}
