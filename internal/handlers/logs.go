package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kspro0090/baradar/internal/services"
	"github.com/kspro0090/baradar/internal/store"
)

type LogsHandler struct {
	activityLogService *services.ActivityLogService
}

func NewLogsHandler(activityLogService *services.ActivityLogService) *LogsHandler {
	return &LogsHandler{
		activityLogService: activityLogService,
	}
}

type LogsResponse struct {
	Logs       interface{} `json:"logs"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

func pagination(c *gin.Context) (limit, page int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 1000 { // Prevent too large requests
		limit = 1000
	}
	page, err = strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	return limit, page
}

// GetAllLogs returns activity logs with pagination, optionally filtered by
// method and path.
func (h *LogsHandler) GetAllLogs(c *gin.Context) {
	limit, page := pagination(c)

	logs, total, err := h.activityLogService.GetLogs(c.Request.Context(), store.LogFilter{
		Method: c.Query("method"),
		Path:   c.Query("path"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, LogsResponse{
		Logs:       logs,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	})
}

// GetLogStats returns statistics about the logs
func (h *LogsHandler) GetLogStats(c *gin.Context) {
	logs, total, err := h.activityLogService.GetLogs(c.Request.Context(), store.LogFilter{})
	if err != nil {
		respondError(c, err)
		return
	}

	methodCounts := make(map[string]int)
	pathCounts := make(map[string]int)
	statusCounts := make(map[int]int)
	roleCounts := make(map[string]int)

	for _, log := range logs {
		methodCounts[log.Method]++
		pathCounts[log.Path]++
		statusCounts[log.StatusCode]++
		if log.Role != "" {
			roleCounts[log.Role]++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_requests": total,
		"methods":        methodCounts,
		"paths":          pathCounts,
		"status_codes":   statusCounts,
		"roles":          roleCounts,
	})
}

// GetDecisions lists approve and reject calls, newest first.
func (h *LogsHandler) GetDecisions(c *gin.Context) {
	limit, _ := pagination(c)

	logs, _, err := h.activityLogService.GetLogs(c.Request.Context(), store.LogFilter{Method: http.MethodPost, Path: "/requests/"})
	if err != nil {
		respondError(c, err)
		return
	}

	decisions := make([]gin.H, 0)
	for _, log := range logs {
		action := decisionOf(log.Path)
		if action == "" {
			continue
		}
		decisions = append(decisions, gin.H{
			"timestamp":  log.CreatedAt,
			"request_id": requestIDOf(log.Path),
			"action":     action,
			"role":       log.Role,
			"status":     log.StatusCode,
			"ip_address": log.IPAddress,
		})
		if len(decisions) == limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"total":     len(decisions),
	})
}

func decisionOf(path string) string {
	switch {
	case strings.HasSuffix(path, "/approve"):
		return "approve"
	case strings.HasSuffix(path, "/reject"):
		return "reject"
	}
	return ""
}

// requestIDOf extracts the request ID from a path like
// "/api/v1/requests/123/approve".
func requestIDOf(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "requests" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "unknown"
}
