package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amaldonado/streamlane-backend/internal/auth"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
)

type fakeRegisterService struct {
	err   error
	calls []auth.RegisterRequest
}

func (f *fakeRegisterService) Register(ctx context.Context, req auth.RegisterRequest) error {
	f.calls = append(f.calls, req)
	return f.err
}

func TestRegisterSuccess(t *testing.T) {
	svc := &fakeRegisterService{}
	handler := Register(svc, nil)

	body := `{"email":"new@example.com","password":"longenough","display_name":"New User"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.calls) != 1 || svc.calls[0].Email != "new@example.com" {
		t.Fatalf("unexpected service calls: %+v", svc.calls)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := &fakeRegisterService{
		err: pkgerrors.New(pkgerrors.CodeConflict, "email already registered"),
	}
	handler := Register(svc, nil)

	body := `{"email":"dup@example.com","password":"longenough","display_name":"Dup"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := &fakeRegisterService{}
	handler := Register(svc, nil)

	body := `{"email":"new@example.com","password":"short","display_name":"New User"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service should not be called on invalid payload")
	}
}
