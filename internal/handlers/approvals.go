package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replygate/replygate/internal/approval"
)

// ApprovalsHandler exposes the pending queue and the approve/reject decisions.
type ApprovalsHandler struct {
	approvals *approval.Service
	regions   []string
	logger    *slog.Logger
}

func NewApprovalsHandler(log *slog.Logger, approvals *approval.Service, regions []string) *ApprovalsHandler {
	return &ApprovalsHandler{
		approvals: approvals,
		regions:   regions,
		logger:    log.With(slog.String("handler", "approvals")),
	}
}

func (h *ApprovalsHandler) Register(e *echo.Echo) {
	e.GET("/admin/pending", h.ListPending)
	e.POST("/admin/pending/:id/approve", h.Approve)
	e.POST("/admin/pending/:id/reject", h.Reject)
	e.GET("/admin/history", h.History)
}

func (h *ApprovalsHandler) ListPending(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	pending, err := h.approvals.Pending(c.Request().Context(), region)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"region": region, "pending": pending})
}

type approveRequest struct {
	EditedText string `json:"edited_text,omitempty"`
}

func (h *ApprovalsHandler) Approve(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	id := c.Param("id")

	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entry, err := h.approvals.Approve(c.Request().Context(), region, id, req.EditedText)
	if errors.Is(err, approval.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no pending approval with that id")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *ApprovalsHandler) Reject(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	id := c.Param("id")

	entry, err := h.approvals.Reject(c.Request().Context(), region, id)
	if errors.Is(err, approval.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no pending approval with that id")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *ApprovalsHandler) History(c echo.Context) error {
	region, err := regionParam(c, h.regions)
	if err != nil {
		return err
	}
	history, err := h.approvals.History(c.Request().Context(), region)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"region": region, "history": history})
}
