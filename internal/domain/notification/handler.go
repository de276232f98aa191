package notification

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careline/portal/internal/platform/auth"
	"github.com/careline/portal/pkg/pagination"
)

// ScanFunc runs one notification scan and returns the rows created.
type ScanFunc func(ctx context.Context) (int, error)

type Handler struct {
	svc    *Service
	scan   ScanFunc
	logger zerolog.Logger
}

func NewHandler(svc *Service, scan ScanFunc, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, scan: scan, logger: logger}
}

type scanResponse struct {
	Success              bool `json:"success"`
	NotificationsCreated int  `json:"notificationsCreated"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterFunctionRoutes mounts the scheduler trigger. mw must
// authenticate the caller.
func (h *Handler) RegisterFunctionRoutes(fn *echo.Group, mw ...echo.MiddlewareFunc) {
	mw = append(mw, auth.RequireRole(auth.RoleService, auth.RoleStaff))
	fn.POST("/check-notifications", h.CheckNotifications, mw...)
	fn.OPTIONS("/check-notifications", preflight)
}

// preflight is answered by the group's CORS middleware; the route only
// has to exist.
func preflight(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) CheckNotifications(c echo.Context) error {
	n, err := h.scan(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("check-notifications failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "notification scan failed"})
	}
	return c.JSON(http.StatusOK, scanResponse{Success: true, NotificationsCreated: n})
}

func (h *Handler) ListNotifications(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	unread := c.QueryParam("unread") == "true"
	items, total, err := h.svc.ListForUser(ctx, auth.UserIDFromContext(ctx), unread, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.svc.MarkRead(ctx, id, auth.UserIDFromContext(ctx)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.svc.MarkAllRead(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}
