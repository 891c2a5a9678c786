package staff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/validation"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	svc, _, store := newTestService()
	t.Cleanup(store.Close)
	e := echo.New()
	e.Validator = validation.New()
	return NewHandler(svc), e
}

func post(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != code {
		t.Fatalf("expected HTTP %d, got %v", code, err)
	}
}

func TestHandler_Login(t *testing.T) {
	h, e := newTestHandler(t)
	mustCreateUser(t, h.svc, "op", auth.RoleOperator)

	c, rec := post(e, `{"username":"op","password":"s3cret-pass"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var pair auth.TokenPair
	json.Unmarshal(rec.Body.Bytes(), &pair)
	if pair.Access == "" || pair.Refresh == "" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = post(e, `{"username":"op","password":"nope"}`)
	expectCode(t, h.Login(c), http.StatusUnauthorized)

	c, _ = post(e, `{"username":"op"}`)
	expectCode(t, h.Login(c), http.StatusBadRequest)
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	h, e := newTestHandler(t)
	mustCreateUser(t, h.svc, "op", auth.RoleOperator)
	pair, _ := h.svc.Login(context.Background(), "op", "s3cret-pass")

	c, rec := post(e, `{"refresh":"`+pair.Refresh+`"}`)
	if err := h.Refresh(c); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	var next auth.TokenPair
	json.Unmarshal(rec.Body.Bytes(), &next)

	c, rec = post(e, `{"refresh":"`+next.Refresh+`"}`)
	if err := h.Logout(c); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if rec.Code != http.StatusResetContent {
		t.Errorf("expected 205, got %d", rec.Code)
	}

	c, _ = post(e, `{"refresh":"`+next.Refresh+`"}`)
	expectCode(t, h.Logout(c), http.StatusBadRequest)

	c, _ = post(e, `{"refresh":"`+next.Refresh+`"}`)
	expectCode(t, h.Refresh(c), http.StatusUnauthorized)
}

func TestHandler_Me(t *testing.T) {
	h, e := newTestHandler(t)
	u := mustCreateUser(t, h.svc, "doc", auth.RoleDoctor)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: u.ID.String()},
		Roles:            []string{auth.RoleDoctor},
	}))
	rec := httptest.NewRecorder()
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["username"] != "doc" {
		t.Errorf("unexpected body %v", got)
	}
	if _, leaked := got["password_hash"]; leaked {
		t.Error("password hash must not be serialized")
	}
}

func TestHandler_UsersRequireAdmin(t *testing.T) {
	h, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "someone"},
		Roles:            []string{auth.RoleOperator},
	}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_CreateUser(t *testing.T) {
	h, e := newTestHandler(t)

	c, rec := post(e, `{"username":"nurse1","password":"long-password","role":"operator"}`)
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = post(e, `{"username":"nurse1","password":"long-password","role":"operator"}`)
	expectCode(t, h.Create(c), http.StatusConflict)

	c, _ = post(e, `{"username":"x","password":"long-password","role":"nurse"}`)
	expectCode(t, h.Create(c), http.StatusBadRequest)
}
