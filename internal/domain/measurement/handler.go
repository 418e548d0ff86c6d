package measurement

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/TechCorp07/klara-test-sub001/internal/platform/auth"
	"github.com/TechCorp07/klara-test-sub001/internal/provider"
	"github.com/TechCorp07/klara-test-sub001/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("patient", "caregiver", "provider")

	g := api.Group("", role)
	g.GET("/measurements", h.List)
	g.GET("/measurements/latest", h.Latest)
}

func currentUserID(c echo.Context) (uuid.UUID, error) {
	uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	return uid, nil
}

func (h *Handler) List(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}

	page := pagination.FromContext(c)
	f := ListFilter{Limit: page.Limit, Offset: page.Offset}

	if v := c.QueryParam("category"); v != "" {
		cat := provider.Category(v)
		f.Category = &cat
	}
	if v := c.QueryParam("provider"); v != "" {
		p, err := provider.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Provider = &p
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from: expected RFC 3339 timestamp")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to: expected RFC 3339 timestamp")
		}
		f.To = &t
	}

	items, total, err := h.svc.List(c.Request().Context(), uid, f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Measurement{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) Latest(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Latest(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Measurement{}
	}
	return c.JSON(http.StatusOK, items)
}
