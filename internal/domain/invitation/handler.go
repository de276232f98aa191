package invitation

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/portal/internal/platform/apperror"
	"github.com/careline/portal/internal/platform/auth"
)

type Handler struct {
	svc *Service
	// createAuth guards action=create. Validate and activate are called by
	// patients who have no account yet.
	createAuth echo.MiddlewareFunc
}

func NewHandler(svc *Service, createAuth echo.MiddlewareFunc) *Handler {
	if createAuth == nil {
		createAuth = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return &Handler{svc: svc, createAuth: createAuth}
}

// RegisterFunctionRoutes mounts the action-dispatched endpoint. It accepts
// any method.
func (h *Handler) RegisterFunctionRoutes(fn *echo.Group, mw ...echo.MiddlewareFunc) {
	fn.Any("/patient-invitation", h.Dispatch, mw...)
}

// RegisterRoutes mounts the staff resend endpoint.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.POST("/patients/:id/invitations", h.Resend)
}

func (h *Handler) Dispatch(c echo.Context) error {
	switch c.QueryParam("action") {
	case "create":
		return h.createAuth(h.Create)(c)
	case "validate":
		return h.Validate(c)
	case "activate":
		return h.Activate(c)
	default:
		return apperror.Validation("Invalid action")
	}
}

// decodeBody reads a JSON body regardless of method or content type.
func decodeBody(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return apperror.Validation("Invalid JSON body")
	}
	return nil
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Validate(c echo.Context) error {
	res, err := h.svc.Validate(c.Request().Context(), c.QueryParam("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Activate(c echo.Context) error {
	var req ActivateRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Activate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Resend(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.svc.Resend(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}
