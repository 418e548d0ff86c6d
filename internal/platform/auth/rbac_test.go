package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	ctx = context.WithValue(ctx, UserIDKey, "user-1")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequireRole_Allows(t *testing.T) {
	c, _ := requestWithRoles("patient")
	if err := RequireRole("patient", "caregiver")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_AdminAlwaysPasses(t *testing.T) {
	c, _ := requestWithRoles("admin")
	if err := RequireRole("provider")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	c, _ := requestWithRoles("caregiver")
	err := RequireRole("provider")(okHandler)(c)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	c, _ := requestWithRoles()
	if err := RequireRole("patient")(okHandler)(c); err == nil {
		t.Fatal("expected forbidden error for empty roles")
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, "abc")
	if uid := UserIDFromContext(ctx); uid != "abc" {
		t.Errorf("uid = %q", uid)
	}
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty uid, got %q", uid)
	}
}
