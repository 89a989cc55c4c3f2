package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

const analyticsWindow = 24 * time.Hour

type AnalyticsHandler struct {
	service *service.AnalyticsService
}

func NewAnalyticsHandler(service *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	from, to, err := parseTimeRange(c, time.Now(), analyticsWindow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.GetSummary(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/analytics/events, newest admission events first
func (h *AnalyticsHandler) GetEvents(c *gin.Context) {
	from, to, err := parseTimeRange(c, time.Now(), analyticsWindow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, offset := parsePage(c, 100, 1000)

	events, err := h.service.GetEvents(c.Request.Context(), from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":   from,
		"to":     to,
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}
