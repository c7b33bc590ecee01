package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/amaldonado/streamlane-backend/internal/subscriptions"
	"github.com/amaldonado/streamlane-backend/pkg/config"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/debuglog"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
)

type billingReader interface {
	FindActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
}

// Service starts provider checkout sessions for users moving onto a paid plan.
type Service interface {
	Start(ctx context.Context, userID uuid.UUID, input StartInput) (*StartResult, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Billing    billingReader
	Stripe     StripeCheckoutClient
	Logger     *logger.Logger
	DebugLog   *debuglog.Buffer
	SuccessURL string
	CancelURL  string
}

// StartInput captures the checkout request.
type StartInput struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// StartResult carries the hosted checkout session handle back to the client.
type StartResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type service struct {
	billing    billingReader
	stripe     StripeCheckoutClient
	logg       *logger.Logger
	debug      *debuglog.Buffer
	successURL string
	cancelURL  string
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Billing == nil {
		return nil, fmt.Errorf("billing reader is required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe checkout client is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if strings.TrimSpace(params.SuccessURL) == "" || strings.TrimSpace(params.CancelURL) == "" {
		return nil, fmt.Errorf("checkout success and cancel urls are required")
	}
	debug := params.DebugLog
	if debug == nil {
		debug = debuglog.Default()
	}
	return &service{
		billing:    params.Billing,
		stripe:     params.Stripe,
		logg:       params.Logger,
		debug:      debug,
		successURL: strings.TrimSpace(params.SuccessURL),
		cancelURL:  strings.TrimSpace(params.CancelURL),
	}, nil
}

// NewServiceFromConfig wires the service from the Stripe config block.
func NewServiceFromConfig(billing billingReader, client StripeCheckoutClient, logg *logger.Logger, debug *debuglog.Buffer, cfg config.StripeConfig) (Service, error) {
	return NewService(ServiceParams{
		Billing:    billing,
		Stripe:     client,
		Logger:     logg,
		DebugLog:   debug,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	})
}

// Start opens a hosted checkout session for the target plan. Users who already
// hold a real provider subscription are blocked; plan moves for them go through
// the plan change endpoint instead.
func (s *service) Start(ctx context.Context, userID uuid.UUID, input StartInput) (*StartResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	planID := strings.TrimSpace(input.PlanID)
	if planID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan_id is required")
	}

	ctx = s.logg.WithUserID(ctx, userID.String())
	ctx = s.logg.WithPlanID(ctx, planID)

	sub, err := s.billing.FindActiveSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if sub != nil && sub.HasProviderSubscription() {
		return nil, pkgerrors.New(pkgerrors.CodeExistingSubscription, "an active subscription already exists; use plan change instead")
	}

	plan, err := s.billing.FindPlanByID(ctx, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is not available")
	}
	if plan.IsFreeTier() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "the free tier does not require checkout")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(userID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				subscriptions.MetadataUserIDKey: userID.String(),
			},
		},
	}

	created, err := s.stripe.CreateSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	s.debug.Record("checkout", "checkout session created", map[string]any{
		"user_id":    userID.String(),
		"plan_id":    plan.ID,
		"session_id": created.ID,
	})
	s.logg.Info(ctx, "checkout session created")

	return &StartResult{
		SessionID: created.ID,
		URL:       created.URL,
	}, nil
}
