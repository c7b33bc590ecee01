package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amaldonado/streamlane-backend/api/middleware"
	"github.com/amaldonado/streamlane-backend/internal/auth"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
)

type fakeAuthService struct {
	loginResp   *auth.LoginResponse
	loginErr    error
	refreshResp *auth.RefreshResponse
	refreshErr  error
	loggedOut   []string
}

func (f *fakeAuthService) Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error) {
	return f.loginResp, f.loginErr
}

func (f *fakeAuthService) Refresh(ctx context.Context, req auth.RefreshRequest) (*auth.RefreshResponse, error) {
	return f.refreshResp, f.refreshErr
}

func (f *fakeAuthService) Logout(ctx context.Context, accessID string) error {
	f.loggedOut = append(f.loggedOut, accessID)
	return nil
}

func TestAuthLoginSuccess(t *testing.T) {
	svc := &fakeAuthService{
		loginResp: &auth.LoginResponse{AccessToken: "access", RefreshToken: "refresh"},
	}
	handler := AuthLogin(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"user@example.com","password":"secret123"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"access_token":"access"`) {
		t.Fatalf("expected access token in body: %s", rec.Body.String())
	}
}

func TestAuthLoginInvalidCredentials(t *testing.T) {
	svc := &fakeAuthService{
		loginErr: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials"),
	}
	handler := AuthLogin(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"user@example.com","password":"wrongpass"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthLoginRejectsMalformedBody(t *testing.T) {
	svc := &fakeAuthService{}
	handler := AuthLogin(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"not-an-email"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuthLogoutRevokesSession(t *testing.T) {
	svc := &fakeAuthService{}
	handler := AuthLogout(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req = req.WithContext(middleware.WithAccessID(req.Context(), "jti-123"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.loggedOut) != 1 || svc.loggedOut[0] != "jti-123" {
		t.Fatalf("expected logout with jti-123, got %v", svc.loggedOut)
	}
}

func TestAuthLogoutMissingSession(t *testing.T) {
	svc := &fakeAuthService{}
	handler := AuthLogout(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(svc.loggedOut) != 0 {
		t.Fatalf("expected no revocations, got %v", svc.loggedOut)
	}
}
