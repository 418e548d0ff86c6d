package connection

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/TechCorp07/klara-test-sub001/internal/platform/auth"
	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

type Handler struct {
	svc      *Service
	registry *provider.Registry
}

func NewHandler(svc *Service, registry *provider.Registry) *Handler {
	return &Handler{svc: svc, registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("patient", "caregiver", "provider")

	g := api.Group("", role)
	g.GET("/integrations", h.ListIntegrations)
	g.GET("/integrations/providers", h.ListProviders)
	g.GET("/integrations/:id", h.GetIntegration)
	g.POST("/integrations/:provider/connect", h.Connect)
	g.GET("/integrations/:provider/callback", h.Callback)
	g.PUT("/integrations/:id/consent", h.UpdateConsent)
}

func currentUserID(c echo.Context) (uuid.UUID, error) {
	uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	return uid, nil
}

func isAdmin(c echo.Context) bool {
	for _, r := range auth.RolesFromContext(c.Request().Context()) {
		if r == "admin" {
			return true
		}
	}
	return false
}

func (h *Handler) ListIntegrations(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Connection{}
	}
	return c.JSON(http.StatusOK, items)
}

// ProviderInfo describes one entry of the provider catalog.
type ProviderInfo struct {
	Provider   provider.ID   `json:"provider"`
	Kind       provider.Kind `json:"kind"`
	Configured bool          `json:"configured"`
}

func (h *Handler) ListProviders(c echo.Context) error {
	infos := make([]ProviderInfo, 0, len(provider.All()))
	for _, id := range provider.All() {
		infos = append(infos, ProviderInfo{
			Provider:   id,
			Kind:       id.Kind(),
			Configured: h.registry.Configured(id),
		})
	}
	return c.JSON(http.StatusOK, infos)
}

func (h *Handler) GetIntegration(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	conn, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "integration not found")
	}
	if conn.UserID != uid && !isAdmin(c) {
		return echo.NewHTTPError(http.StatusForbidden, "not your integration")
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *Handler) Connect(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, err := h.svc.AuthorizeURL(c.Request().Context(), uid, p)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return echo.NewHTTPError(http.StatusNotImplemented,
				"provider is not configured on this server")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, target)
}

func (h *Handler) Callback(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conn, err := h.svc.HandleCallback(c.Request().Context(), uid, p,
		c.QueryParam("code"), c.QueryParam("state"), c.QueryParam("error"))
	if err != nil {
		switch {
		case errors.Is(err, ErrStateMismatch):
			return echo.NewHTTPError(http.StatusBadRequest, "state token mismatch")
		case errors.Is(err, ErrProviderDenied):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotConfigured):
			return echo.NewHTTPError(http.StatusNotImplemented,
				"provider is not configured on this server")
		case errors.Is(err, ErrExchangeFailed):
			return echo.NewHTTPError(http.StatusBadGateway, "token exchange failed")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *Handler) UpdateConsent(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	conn, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "integration not found")
	}
	if conn.UserID != uid && !isAdmin(c) {
		return echo.NewHTTPError(http.StatusForbidden, "not your integration")
	}

	var upd ConsentUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	upd.IPAddress = c.RealIP()
	upd.UserAgent = c.Request().UserAgent()

	updated, err := h.svc.UpdateConsent(c.Request().Context(), id, upd)
	if err != nil {
		if errors.Is(err, ErrInvalidFrequency) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}
