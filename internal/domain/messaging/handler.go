package messaging

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/portal/internal/platform/auth"
	"github.com/careline/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.GET("/messages", h.ListMessages)
	staff.POST("/messages", h.SendMessage)
}

// RegisterInboundRoutes mounts the SMS provider callback. mw must
// authenticate the provider.
func (h *Handler) RegisterInboundRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	mw = append(mw, auth.RequireRole(auth.RoleService))
	g.POST("/messages/inbound", h.ReceiveMessage, mw...)
	g.OPTIONS("/messages/inbound", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

func (h *Handler) ListMessages(c echo.Context) error {
	pid, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) SendMessage(c echo.Context) error {
	var req OutboundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.SendOutbound(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ReceiveMessage(c echo.Context) error {
	var req InboundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.RecordInbound(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}
