package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/replygate/replygate/internal/stats"
)

const defaultStatsDays = 7

// StatsHandler serves the day-bucketed counters and the recent activity log.
type StatsHandler struct {
	sink    *stats.Sink
	regions []string
	logger  *slog.Logger
}

func NewStatsHandler(log *slog.Logger, sink *stats.Sink, regions []string) *StatsHandler {
	return &StatsHandler{
		sink:    sink,
		regions: regions,
		logger:  log.With(slog.String("handler", "stats")),
	}
}

func (h *StatsHandler) Register(e *echo.Echo) {
	e.GET("/admin/stats", h.Stats)
	e.GET("/admin/logs", h.RecentLogs)
}

func (h *StatsHandler) Stats(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	days := defaultStatsDays
	if raw := c.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		days = parsed
	}
	buckets, err := h.sink.Stats(c.Request().Context(), region, days)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"region": region, "days": buckets})
}

func (h *StatsHandler) RecentLogs(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	entries, err := h.sink.RecentLogs(c.Request().Context(), region)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"region": region, "logs": entries})
}
