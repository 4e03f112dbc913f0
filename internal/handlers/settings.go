package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replygate/replygate/internal/approval"
)

// SettingsHandler exposes the per-region approval gate flag.
type SettingsHandler struct {
	approvals *approval.Service
	regions   []string
	logger    *slog.Logger
}

func NewSettingsHandler(log *slog.Logger, approvals *approval.Service, regions []string) *SettingsHandler {
	return &SettingsHandler{
		approvals: approvals,
		regions:   regions,
		logger:    log.With(slog.String("handler", "settings")),
	}
}

func (h *SettingsHandler) Register(e *echo.Echo) {
	e.GET("/admin/settings", h.GetSettings)
	e.PUT("/admin/settings", h.PutSettings)
}

type settingsResponse struct {
	Region                string `json:"region"`
	ManualApprovalEnabled bool   `json:"manual_approval_enabled"`
}

func (h *SettingsHandler) GetSettings(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	settings, err := h.approvals.Settings(c.Request().Context(), region)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, settingsResponse{
		Region:                region,
		ManualApprovalEnabled: settings.ManualApprovalEnabled,
	})
}

type putSettingsRequest struct {
	ManualApprovalEnabled bool `json:"manual_approval_enabled"`
}

func (h *SettingsHandler) PutSettings(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	var req putSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	settings := approval.Settings{ManualApprovalEnabled: req.ManualApprovalEnabled}
	if err := h.approvals.SetSettings(c.Request().Context(), region, settings); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, settingsResponse{
		Region:                region,
		ManualApprovalEnabled: settings.ManualApprovalEnabled,
	})
}
