package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mabletask/agent/logger"
	"mabletask/agent/middleware"
	"mabletask/agent/models"
	"mabletask/agent/store"
	"mabletask/agent/utils"
)

const defaultStatsWindow = 7 * 24 * time.Hour

// LedgerQuerier is the read side of the delivery ledger.
type LedgerQuerier interface {
	GetEventCountsOverTime(ctx context.Context, orgID, interval string, start, end time.Time, eventTypeFilter string) ([]store.EventTypeCountByTime, error)
	GetTopPagePaths(ctx context.Context, orgID string, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
}

// StatsHandlers serves delivery statistics scoped to the caller's organization.
type StatsHandlers struct {
	ledger LedgerQuerier
	log    logger.Logger
}

func NewStatsHandlers(ledger LedgerQuerier, log logger.Logger) *StatsHandlers {
	return &StatsHandlers{ledger: ledger, log: log}
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	inst, ok := middleware.Installation(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'interval' parameter"})
		return
	}
	eventTypeFilter := c.Query("eventType")

	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.ledger.GetEventCountsOverTime(ctx, inst.OrgID, interval, start, end, eventTypeFilter)
	if err != nil {
		h.log.Error("Error getting event counts over time", logger.String("org_id", inst.OrgID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	if results == nil {
		results = []store.EventTypeCountByTime{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopPagePaths(c *gin.Context) {
	inst, ok := middleware.Installation(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsedLimit, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsedLimit == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsedLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.ledger.GetTopPagePaths(ctx, inst.OrgID, start, end, limit)
	if err != nil {
		h.log.Error("Error getting top page paths", logger.String("org_id", inst.OrgID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page paths statistics"})
		return
	}

	if results == nil {
		results = []models.TopPathResult{}
	}
	c.JSON(http.StatusOK, results)
}

// parseRange reads the RFC3339 start and end query parameters, defaulting to
// the last seven days. It writes the error response itself.
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	end := time.Now().UTC()
	if endParam := c.Query("end"); endParam != "" {
		parsed, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return time.Time{}, time.Time{}, false
		}
		end = parsed
	}

	start := end.Add(-defaultStatsWindow)
	if startParam := c.Query("start"); startParam != "" {
		parsed, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return time.Time{}, time.Time{}, false
		}
		start = parsed
	}

	if start.After(end) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'start' must not be after 'end'"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
