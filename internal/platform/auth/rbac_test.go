package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		has      []string
		required []string
		wantCode int
	}{
		{"staff route, staff caller", []string{RoleStaff}, []string{RoleStaff}, http.StatusOK},
		{"staff route, patient caller", []string{RolePatient}, []string{RoleStaff}, http.StatusForbidden},
		{"admin passes any check", []string{RoleAdmin}, []string{RolePatient}, http.StatusOK},
		{"any of several roles", []string{RoleService}, []string{RoleStaff, RoleService}, http.StatusOK},
		{"no identity", nil, []string{RoleStaff}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.has != nil {
				req = req.WithContext(WithIdentity(req.Context(), "u1", "", tt.has))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.required...)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(c)

			if tt.wantCode == http.StatusOK {
				if err != nil {
					t.Fatalf("expected pass, got %v", err)
				}
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
			}
			if httpErr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, httpErr.Code)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u1", "", []string{RoleService})
	if !HasRole(ctx, RoleService, RoleStaff) {
		t.Error("expected service role to match")
	}
	if HasRole(ctx, RoleStaff) {
		t.Error("expected staff check to fail for service role")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-abc", "+61412345678", []string{RolePatient})

	if uid := UserIDFromContext(ctx); uid != "user-abc" {
		t.Errorf("expected user-abc, got %s", uid)
	}
	if phone := PhoneFromContext(ctx); phone != "+61412345678" {
		t.Errorf("expected phone, got %s", phone)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RolePatient {
		t.Errorf("expected [patient], got %v", roles)
	}
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty user id, got %s", uid)
	}
}
