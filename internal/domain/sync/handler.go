package sync

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/TechCorp07/klara-test-sub001/internal/domain/connection"
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
	g.POST("/integrations/:id/sync", h.TriggerSync)
	g.GET("/integrations/:id/test", h.TestConnection)
	g.POST("/ingest/:provider", h.IngestPush)
	g.GET("/sync-logs", h.ListLogs)
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

// ownConnection loads the connection and enforces ownership.
func (h *Handler) ownConnection(c echo.Context) (*connection.Connection, error) {
	uid, err := currentUserID(c)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	conn, err := h.svc.Connection(c.Request().Context(), id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "integration not found")
	}
	if conn.UserID != uid && !isAdmin(c) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not your integration")
	}
	return conn, nil
}

type triggerRequest struct {
	Start *string `json:"start,omitempty"`
	End   *string `json:"end,omitempty"`
	Force bool    `json:"force,omitempty"`
}

func (h *Handler) TriggerSync(c echo.Context) error {
	conn, err := h.ownConnection(c)
	if err != nil {
		return err
	}

	var req triggerRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, echo.ErrUnsupportedMediaType) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	opts := Options{Force: req.Force}
	if req.Start != nil {
		t, err := time.Parse(time.RFC3339, *req.Start)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start: expected RFC 3339 timestamp")
		}
		opts.Start = &t
	}
	if req.End != nil {
		t, err := time.Parse(time.RFC3339, *req.End)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end: expected RFC 3339 timestamp")
		}
		opts.End = &t
	}

	l, err := h.svc.TriggerSync(c.Request().Context(), conn.ID, opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) TestConnection(c echo.Context) error {
	conn, err := h.ownConnection(c)
	if err != nil {
		return err
	}
	res, err := h.svc.TestConnection(c.Request().Context(), conn.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) IngestPush(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}

	res, err := h.svc.IngestPush(c.Request().Context(), uid, p, payload)
	if err != nil {
		if errors.Is(err, connection.ErrNotConfigured) {
			return echo.NewHTTPError(http.StatusNotImplemented,
				"provider does not accept pushed data")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	return c.JSON(status, res)
}

func (h *Handler) ListLogs(c echo.Context) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	page := pagination.FromContext(c)
	items, total, err := h.svc.ListLogs(c.Request().Context(), uid, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Log{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}
