package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careline/portal/internal/platform/apperror"
	"github.com/careline/portal/internal/platform/auth"
	"github.com/careline/portal/internal/platform/middleware"
)

func seededRepo(userID uuid.UUID, other uuid.UUID) *mockRepo {
	repo := &mockRepo{}
	for _, uid := range []uuid.UUID{userID, userID, other} {
		related := uuid.New()
		repo.rows = append(repo.rows, &Notification{
			ID: uuid.New(), UserID: uid, Title: "🚨 Urgent Task", Message: "x", Type: TypeUrgentTask, RelatedID: &related,
		})
	}
	return repo
}

func contextFor(e *echo.Echo, method, target string, userID string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	ctx := auth.WithIdentity(req.Context(), userID, "", []string{auth.RoleStaff})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CheckNotifications(t *testing.T) {
	h := NewHandler(nil, func(context.Context) (int, error) { return 4, nil }, zerolog.Nop())
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	if err := h.CheckNotifications(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["success"] != true || body["notificationsCreated"] != float64(4) {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHandler_CheckNotifications_Failure(t *testing.T) {
	h := NewHandler(nil, func(context.Context) (int, error) { return 0, errors.New("db down at 10.0.0.5") }, zerolog.Nop())
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.CheckNotifications(e.NewContext(req, rec))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if msg, _ := body["error"].(string); msg == "" || msg == "db down at 10.0.0.5" {
		t.Errorf("expected generic error message, got %v", body)
	}
}

func TestHandler_CheckNotifications_RequiresRole(t *testing.T) {
	h := NewHandler(nil, func(context.Context) (int, error) { return 0, nil }, zerolog.Nop())
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(zerolog.Nop())
	setIdentity := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), uuid.NewString(), "", []string{auth.RolePatient})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
	h.RegisterFunctionRoutes(e.Group("/functions/v1"), setIdentity)

	req := httptest.NewRequest(http.MethodPost, "/functions/v1/check-notifications", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient caller, got %d", rec.Code)
	}
}

func TestHandler_CheckNotifications_Preflight(t *testing.T) {
	scanned := false
	h := NewHandler(nil, func(context.Context) (int, error) { scanned = true; return 0, nil }, zerolog.Nop())
	e := echo.New()
	h.RegisterFunctionRoutes(e.Group("/functions/v1", middleware.FunctionCORS()))

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/check-notifications", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS headers on preflight")
	}
	if scanned {
		t.Error("preflight must not run a scan")
	}
}

func TestHandler_ListNotifications_OwnOnly(t *testing.T) {
	me, other := uuid.New(), uuid.New()
	h := NewHandler(NewService(seededRepo(me, other)), nil, zerolog.Nop())
	c, rec := contextFor(echo.New(), http.MethodGet, "/?unread=true", me.String())
	if err := h.ListNotifications(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int             `json:"total"`
		Data  []*Notification `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Fatalf("expected 2 own notifications, got %d", resp.Total)
	}
	for _, n := range resp.Data {
		if n.UserID != me {
			t.Errorf("leaked notification for %s", n.UserID)
		}
	}
}

func TestHandler_MarkRead(t *testing.T) {
	me, other := uuid.New(), uuid.New()
	repo := seededRepo(me, other)
	h := NewHandler(NewService(repo), nil, zerolog.Nop())
	e := echo.New()

	mine := repo.rows[0]
	c, rec := contextFor(e, http.MethodPost, "/", me.String())
	c.SetParamNames("id")
	c.SetParamValues(mine.ID.String())
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent || !mine.Read {
		t.Errorf("expected notification marked read, code %d", rec.Code)
	}

	theirs := repo.rows[2]
	c, _ = contextFor(e, http.MethodPost, "/", me.String())
	c.SetParamNames("id")
	c.SetParamValues(theirs.ID.String())
	err := h.MarkRead(c)
	if !apperror.IsKind(err, apperror.KindNotFound) {
		t.Errorf("expected not found for another user's notification, got %v", err)
	}
	if theirs.Read {
		t.Error("expected other user's notification to stay unread")
	}
}

func TestHandler_MarkAllRead(t *testing.T) {
	me, other := uuid.New(), uuid.New()
	repo := seededRepo(me, other)
	h := NewHandler(NewService(repo), nil, zerolog.Nop())

	c, rec := contextFor(echo.New(), http.MethodPost, "/", me.String())
	if err := h.MarkAllRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]int64
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["updated"] != 2 {
		t.Errorf("expected 2 updated, got %v", body)
	}
	if repo.rows[2].Read {
		t.Error("expected other user's notification untouched")
	}
}

func TestService_RequiresCaller(t *testing.T) {
	svc := NewService(&mockRepo{})
	if _, _, err := svc.ListForUser(context.Background(), "", false, 20, 0); !apperror.IsKind(err, apperror.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestService_NonUUIDCallerOwnsNothing(t *testing.T) {
	repo := seededRepo(uuid.New(), uuid.New())
	svc := NewService(repo)
	ctx := context.Background()

	items, total, err := svc.ListForUser(ctx, "dev-user", false, 20, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Errorf("expected empty inbox, got %d items, total %d, err %v", len(items), total, err)
	}
	if err := svc.MarkRead(ctx, repo.rows[0].ID, "dev-user"); !apperror.IsKind(err, apperror.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	n, err := svc.MarkAllRead(ctx, "dev-user")
	if err != nil || n != 0 {
		t.Errorf("expected nothing updated, got %d (%v)", n, err)
	}
	for _, row := range repo.rows {
		if row.Read {
			t.Fatal("expected rows untouched")
		}
	}
}
