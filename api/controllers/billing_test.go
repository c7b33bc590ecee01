package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amaldonado/streamlane-backend/api/middleware"
	billingsvc "github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
)

type fakeBillingService struct {
	plans        []models.Plan
	plan         *models.Plan
	subscription *models.Subscription
	changeResult *billingsvc.ChangePlanResult
	changeErr    error
	changeCalls  []billingsvc.ChangePlanInput
}

func (f *fakeBillingService) ListPlans(ctx context.Context) ([]models.Plan, error) {
	return f.plans, nil
}

func (f *fakeBillingService) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	return f.plan, nil
}

func (f *fakeBillingService) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return f.subscription, nil
}

func (f *fakeBillingService) ChangePlan(ctx context.Context, userID uuid.UUID, input billingsvc.ChangePlanInput) (*billingsvc.ChangePlanResult, error) {
	f.changeCalls = append(f.changeCalls, input)
	if f.changeErr != nil {
		return nil, f.changeErr
	}
	return f.changeResult, nil
}

func testPlan(id, name string) models.Plan {
	return models.Plan{
		ID:           id,
		Name:         name,
		Status:       enums.PlanStatusActive,
		Interval:     enums.BillingIntervalMonth,
		PriceAmount:  decimal.NewFromInt(29),
		CurrencyCode: "USD",
	}
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
}

func TestPlansListReturnsCatalog(t *testing.T) {
	svc := &fakeBillingService{plans: []models.Plan{testPlan("pro-monthly", "Pro"), testPlan("basic-monthly", "Basic")}}
	handler := PlansList(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"pro-monthly"`) || !strings.Contains(rec.Body.String(), `"basic-monthly"`) {
		t.Fatalf("expected both plans in body: %s", rec.Body.String())
	}
}

func TestSubscriptionDetailNotFound(t *testing.T) {
	svc := &fakeBillingService{}
	handler := SubscriptionDetail(svc, nil)

	req := authedRequest(http.MethodGet, "/api/v1/subscription", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSubscriptionDetailReturnsRow(t *testing.T) {
	svc := &fakeBillingService{
		subscription: &models.Subscription{
			ID:                   uuid.New(),
			PlanID:               "pro-monthly",
			StripeSubscriptionID: "sub_123",
			Status:               enums.SubscriptionStatusActive,
			IsActive:             true,
			CurrentPeriodEnd:     time.Now().Add(24 * time.Hour),
		},
	}
	handler := SubscriptionDetail(svc, nil)

	req := authedRequest(http.MethodGet, "/api/v1/subscription", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"plan_id":"pro-monthly"`) {
		t.Fatalf("expected plan id in body: %s", rec.Body.String())
	}
}

func TestPlanChangeRequiresAuth(t *testing.T) {
	svc := &fakeBillingService{}
	handler := PlanChange(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscription/change-plan", strings.NewReader(`{"plan_id":"pro-monthly"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(svc.changeCalls) != 0 {
		t.Fatalf("service should not be called without auth")
	}
}

func TestPlanChangeSuccess(t *testing.T) {
	now := time.Now()
	svc := &fakeBillingService{
		changeResult: &billingsvc.ChangePlanResult{
			Subscription: &models.Subscription{
				ID:                   uuid.New(),
				PlanID:               "pro-monthly",
				StripeSubscriptionID: "sub_123",
				Status:               enums.SubscriptionStatusActive,
				CurrentPeriodEnd:     now.Add(24 * time.Hour),
			},
			ChangeType:  enums.PlanChangeUpgrade,
			EffectiveAt: now,
		},
	}
	handler := PlanChange(svc, nil)

	req := authedRequest(http.MethodPost, "/api/v1/subscription/change-plan", `{"plan_id":"pro-monthly"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.changeCalls) != 1 || svc.changeCalls[0].PlanID != "pro-monthly" {
		t.Fatalf("unexpected change calls: %+v", svc.changeCalls)
	}
	if !strings.Contains(rec.Body.String(), `"change_type":"upgrade"`) {
		t.Fatalf("expected change type in body: %s", rec.Body.String())
	}
}

func TestPlanChangeSamePlanConflict(t *testing.T) {
	svc := &fakeBillingService{
		changeErr: pkgerrors.New(pkgerrors.CodeConflict, "already subscribed to this plan"),
	}
	handler := PlanChange(svc, nil)

	req := authedRequest(http.MethodPost, "/api/v1/subscription/change-plan", `{"plan_id":"pro-monthly"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
