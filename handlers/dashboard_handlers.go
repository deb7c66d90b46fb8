package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"edumarket/api/models"
	"edumarket/api/orchestrator"
	"edumarket/api/utils"
)

const (
	defaultDashboardPeriod = "7d"
	defaultExportPeriod    = "30d"
)

// Warehouse is the read side of the analytics warehouse.
type Warehouse interface {
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventType string) ([]models.EventTypeCountByTime, error)
	GetAverageEventDuration(ctx context.Context, eventType string, start, end time.Time) (float64, error)
	GetAverageCustomEventParameter(ctx context.Context, eventType, param string, start, end time.Time) (float64, error)
	GetUniqueUsersOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.EventTypeCountByTime, error)
	GetTopNPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
	Dashboard(ctx context.Context, start, end time.Time) (*models.Dashboard, error)
	Export(ctx context.Context, action models.ExportAction, start, end time.Time, segment string) (any, int, error)
}

// DashboardHandlers serve the marketing team's reporting endpoints.
type DashboardHandlers struct {
	warehouse Warehouse
	reg       *orchestrator.Registry
	now       func() time.Time
}

// NewDashboardHandlers accepts a nil warehouse; its endpoints then answer
// 503 while funnels keep working from visitor storage.
func NewDashboardHandlers(w Warehouse, reg *orchestrator.Registry) *DashboardHandlers {
	return &DashboardHandlers{warehouse: w, reg: reg, now: time.Now}
}

func (h *DashboardHandlers) ready(c *gin.Context) bool {
	if h.warehouse == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analytics warehouse not configured"})
		return false
	}
	return true
}

func (h *DashboardHandlers) periodRange(c *gin.Context, period string) (time.Time, time.Time, bool) {
	d, err := utils.ParsePeriod(period)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	end := h.now().UTC()
	return end.Add(-d), end, true
}

func (h *DashboardHandlers) Dashboard(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	period := c.DefaultQuery("period", defaultDashboardPeriod)
	start, end, ok := h.periodRange(c, period)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	d, err := h.warehouse.Dashboard(ctx, start, end)
	if err != nil {
		log.Error().Err(err).Str("period", period).Msg("Failed to build dashboard")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard data"})
		return
	}
	d.Period = period
	c.JSON(http.StatusOK, d)
}

func (h *DashboardHandlers) Export(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req models.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Period == "" {
		req.Period = defaultExportPeriod
	}
	start, end, ok := h.periodRange(c, req.Period)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	rows, n, err := h.warehouse.Export(ctx, req.Action, start, end, req.Segment)
	if err != nil {
		log.Error().Err(err).Str("action", string(req.Action)).Msg("Export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export data"})
		return
	}
	c.JSON(http.StatusOK, models.ExportResult{
		Action: req.Action, Period: req.Period, Segment: req.Segment,
		Start: start, End: end, Count: n, Rows: rows,
	})
}

// Funnel replays a funnel over the journeys of the visitors this instance
// has seen.
func (h *DashboardHandlers) Funnel(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	report, err := h.reg.Funnel(ctx, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ExperimentResults runs the significance test over the live counters and
// names a winner once a variant beats the control.
func (h *DashboardHandlers) ExperimentResults(c *gin.Context) {
	res, err := h.reg.Engines().Experiments.Results(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *DashboardHandlers) statsRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := utils.ParseRange(c.Query("start"), c.Query("end"), h.now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *DashboardHandlers) GetEventCountsOverTime(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return
	}
	start, end, ok := h.statsRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	results, err := h.warehouse.GetEventCountsOverTime(ctx, interval, start, end, c.Query("eventType"))
	if err != nil {
		log.Error().Err(err).Msg("Error getting event counts over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *DashboardHandlers) GetAverageEventDuration(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	start, end, ok := h.statsRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	avg, err := h.warehouse.GetAverageEventDuration(ctx, c.Query("eventType"), start, end)
	if err != nil {
		log.Error().Err(err).Msg("Error getting average event duration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average event duration statistics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"averageDurationMs": avg})
}

func (h *DashboardHandlers) GetAverageCustomEventParameter(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	eventType, param := c.Query("eventType"), c.Query("paramName")
	if eventType == "" || param == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "eventType and paramName query parameters are required"})
		return
	}
	start, end, ok := h.statsRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	avg, err := h.warehouse.GetAverageCustomEventParameter(ctx, eventType, param, start, end)
	if err != nil {
		log.Error().Err(err).Str("param", param).Msg("Error getting average custom parameter")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve custom parameter statistics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eventType": eventType, "paramName": param, "average": avg})
}

func (h *DashboardHandlers) GetUniqueUsersOverTime(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	interval := c.DefaultQuery("interval", "Day")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return
	}
	start, end, ok := h.statsRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	results, err := h.warehouse.GetUniqueUsersOverTime(ctx, interval, start, end)
	if err != nil {
		log.Error().Err(err).Msg("Error getting unique users over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique user statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *DashboardHandlers) GetTopNPagePaths(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	limit, err := strconv.ParseUint(c.DefaultQuery("limit", "10"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	start, end, ok := h.statsRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	results, err := h.warehouse.GetTopNPagePaths(ctx, start, end, limit)
	if err != nil {
		log.Error().Err(err).Msg("Error getting top page paths")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page paths"})
		return
	}
	c.JSON(http.StatusOK, results)
}
