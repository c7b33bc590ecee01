package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amaldonado/streamlane-backend/api/responses"
	"github.com/amaldonado/streamlane-backend/api/validators"
	billingsvc "github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/internal/subscriptions"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
)

type planResponse struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	Status                   string `json:"status"`
	Interval                 string `json:"interval"`
	PriceAmount              string `json:"price_amount"`
	PriceAmountCents         int64  `json:"price_amount_cents"`
	CurrencyCode             string `json:"currency_code"`
	MaxActiveStreams         int    `json:"max_active_streams"`
	MaxStreams               int    `json:"max_streams"`
	MaxTotalSecondsProcessed int64  `json:"max_total_seconds_processed"`
	CreatedAt                string `json:"created_at"`
	UpdatedAt                string `json:"updated_at"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

type subscriptionResponse struct {
	ID                    string  `json:"id"`
	PlanID                string  `json:"plan_id"`
	Status                string  `json:"status"`
	IsActive              bool    `json:"is_active"`
	IsFreeTier            bool    `json:"is_free_tier"`
	CurrentPeriodStart    *string `json:"current_period_start,omitempty"`
	CurrentPeriodEnd      string  `json:"current_period_end"`
	CancelAtPeriodEnd     bool    `json:"cancel_at_period_end"`
	PendingPlanID         string  `json:"pending_plan_id,omitempty"`
	TotalSecondsProcessed int64   `json:"total_seconds_processed"`
}

type planChangeResponse struct {
	ChangeType   string               `json:"change_type"`
	EffectiveAt  string               `json:"effective_at"`
	Deferred     bool                 `json:"deferred"`
	Subscription subscriptionResponse `json:"subscription"`
}

// PlansList returns the active plan catalog.
func PlansList(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		plans, err := svc.ListPlans(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, planListResponse{Plans: plansToResponse(plans)})
	}
}

// PlanDetail returns a single visible plan by id.
func PlanDetail(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		planID := strings.TrimSpace(chi.URLParam(r, "planId"))
		if planID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required"))
			return
		}

		plan, err := svc.GetPlan(ctx, planID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if plan == nil || plan.Status != enums.PlanStatusActive {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found"))
			return
		}

		responses.WriteSuccess(w, planToResponse(plan))
	}
}

// SubscriptionDetail returns the caller's active subscription.
func SubscriptionDetail(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.GetActiveSubscription(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if sub == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription"))
			return
		}

		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

// PlanChange applies an upgrade or schedules a downgrade for the caller.
func PlanChange(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body billingsvc.ChangePlanInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.ChangePlan(ctx, userID, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, planChangeToResponse(result))
	}
}

func plansToResponse(plans []models.Plan) []planResponse {
	result := make([]planResponse, 0, len(plans))
	for i := range plans {
		result = append(result, planToResponse(&plans[i]))
	}
	return result
}

func planToResponse(plan *models.Plan) planResponse {
	return planResponse{
		ID:                       plan.ID,
		Name:                     plan.Name,
		Status:                   string(plan.Status),
		Interval:                 string(plan.Interval),
		PriceAmount:              plan.PriceAmount.StringFixed(2),
		PriceAmountCents:         plan.AmountCents(),
		CurrencyCode:             plan.CurrencyCode,
		MaxActiveStreams:         plan.MaxActiveStreams,
		MaxStreams:               plan.MaxStreams,
		MaxTotalSecondsProcessed: plan.MaxTotalSecondsProcessed,
		CreatedAt:                plan.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:                plan.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func subscriptionToResponse(sub *models.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:                    sub.ID.String(),
		PlanID:                sub.PlanID,
		Status:                string(sub.Status),
		IsActive:              sub.IsActive,
		IsFreeTier:            sub.IsFreePlaceholder(),
		CurrentPeriodEnd:      sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		CancelAtPeriodEnd:     sub.CancelAtPeriodEnd,
		PendingPlanID:         subscriptions.PendingPlanID(sub.Metadata),
		TotalSecondsProcessed: sub.TotalSecondsProcessed,
	}
	if sub.CurrentPeriodStart != nil {
		start := sub.CurrentPeriodStart.UTC().Format(time.RFC3339)
		resp.CurrentPeriodStart = &start
	}
	return resp
}

func planChangeToResponse(result *billingsvc.ChangePlanResult) planChangeResponse {
	return planChangeResponse{
		ChangeType:   string(result.ChangeType),
		EffectiveAt:  result.EffectiveAt.UTC().Format(time.RFC3339),
		Deferred:     result.Deferred,
		Subscription: subscriptionToResponse(result.Subscription),
	}
}
