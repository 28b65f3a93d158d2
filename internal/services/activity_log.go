package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/store"
)

// RoleContextKey is where the auth middleware leaves the caller's role.
const RoleContextKey = "role"

const maxLoggedBody = 10000

type ActivityLogService struct {
	store  store.Logs
	logger *zap.Logger
	wait   func() // called after each asynchronous save
}

func NewActivityLogService(s store.Logs, logger *zap.Logger) *ActivityLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityLogService{store: s, logger: logger}
}

// Form submissions carry personal data; only their size is logged.
func redactBody(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if strings.HasSuffix(path, "/requests") {
		return fmt.Sprintf("[form submission: %d bytes]", len(body))
	}
	if len(body) > maxLoggedBody {
		return fmt.Sprintf("[Large body: %d bytes] %s...", len(body), string(body[:100]))
	}
	return string(body)
}

func (s *ActivityLogService) LogRequest(c *gin.Context, statusCode int, responseTime time.Duration) {
	clientIP := c.ClientIP()
	if clientIP == "" {
		clientIP = c.Request.RemoteAddr
	}

	queryParams := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if key == "token" {
			continue
		}
		if len(values) > 0 {
			queryParams[key] = values[0]
		}
	}
	queryParamsJSON, _ := json.Marshal(queryParams)

	var requestBody string
	if body, exists := c.Get("request_body"); exists {
		requestBody, _ = body.(string)
	}
	var role string
	if r, ok := c.Get(RoleContextKey); ok {
		role = fmt.Sprint(r)
	}

	now := time.Now()
	entry := &models.ActivityLog{
		ID:           uuid.New().String(),
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		Role:         role,
		UserAgent:    c.Request.UserAgent(),
		IPAddress:    clientIP,
		RequestBody:  requestBody,
		QueryParams:  string(queryParamsJSON),
		StatusCode:   statusCode,
		ResponseTime: responseTime.Milliseconds(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Saving must not hold up the response.
	go func() {
		if s.wait != nil {
			defer s.wait()
		}
		if err := s.store.CreateLog(context.Background(), entry); err != nil {
			s.logger.Warn("Failed to save activity log", zap.Error(err))
		}
	}()
}

func (s *ActivityLogService) GetLogs(ctx context.Context, filter store.LogFilter) ([]models.ActivityLog, int64, error) {
	filter.Method = strings.ToUpper(filter.Method)
	logs, total, err := s.store.ListLogs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch logs: %w", err)
	}
	return logs, total, nil
}

// LoggingMiddleware records every request after it has been served.
func (s *ActivityLogService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if c.Request.Method == "POST" && c.Request.Body != nil && !strings.HasPrefix(c.ContentType(), "multipart/") {
			bodyBytes, err := io.ReadAll(c.Request.Body)
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
				if logged := redactBody(c.Request.URL.Path, bodyBytes); logged != "" {
					c.Set("request_body", logged)
				}
			}
		}

		c.Next()

		duration := time.Since(start)
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", duration))
		s.LogRequest(c, c.Writer.Status(), duration)
	}
}
