package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lmgate/lmgate/internal/database"
	"github.com/lmgate/lmgate/internal/usage"
)

// GetUsageStatistics returns the in-memory usage statistics snapshot.
func (h *Handler) GetUsageStatistics(c *gin.Context) {
	var snapshot usage.StatisticsSnapshot
	if h != nil && h.usageStats != nil {
		snapshot = h.usageStats.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{
		"usage":           snapshot,
		"failed_requests": snapshot.FailureCount,
	})
}

// GetUsageLogs returns paginated usage records from the database.
func (h *Handler) GetUsageLogs(c *gin.Context) {
	if database.DB == nil {
		c.JSON(http.StatusOK, gin.H{
			"logs":  []database.UsageLog{},
			"total": 0,
			"page":  1,
			"size":  20,
			"error": "database not initialized",
		})
		return
	}

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	size := 20
	if s, err := strconv.Atoi(c.Query("size")); err == nil && s > 0 && s <= 100 {
		size = s
	}

	query := database.DB.WithContext(c.Request.Context()).Model(&database.UsageLog{})
	if provider := c.Query("provider"); provider != "" {
		query = query.Where("provider = ?", provider)
	}
	if model := c.Query("model"); model != "" {
		query = query.Where("model = ?", model)
	}
	if status := c.Query("status"); status != "" {
		if code, err := strconv.Atoi(status); err == nil {
			query = query.Where("status = ?", code)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count logs"})
		return
	}

	var logs []database.UsageLog
	offset := (page - 1) * size
	if err := query.Order("timestamp DESC, id DESC").Limit(size).Offset(offset).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query logs"})
		return
	}
	if logs == nil {
		logs = []database.UsageLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"total": total,
		"page":  page,
		"size":  size,
	})
}
