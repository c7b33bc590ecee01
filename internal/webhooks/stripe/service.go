package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/internal/subscriptions"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/debuglog"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
	"github.com/amaldonado/streamlane-backend/pkg/metrics"
)

// Free placeholders carry a rolling window so quota resets keep working after
// a cancellation lands.
const freePlaceholderPeriod = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the webhook sync service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      subscriptions.StripeSubscriptionClient
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.BillingMetrics
	DebugLog          *debuglog.Buffer
}

// Service applies provider webhook events to local subscription state. The
// provider is the source of truth; every sync overwrites local rows with what
// Stripe reports.
type Service struct {
	billingRepo billing.Repository
	stripe      subscriptions.StripeSubscriptionClient
	txRunner    txRunner
	logg        *logger.Logger
	metrics     *metrics.BillingMetrics
	debug       *debuglog.Buffer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	debug := params.DebugLog
	if debug == nil {
		debug = debuglog.Default()
	}
	return &Service{
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
		metrics:     params.Metrics,
		debug:       debug,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	err := s.dispatch(ctx, event)
	outcome := "applied"
	if err != nil {
		outcome = "failed"
	}
	s.metrics.IncWebhookEvent(string(event.Type), outcome)
	s.debug.Record("webhook", "stripe event "+outcome, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})
	return err
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		return s.SyncSubscription(ctx, &stripeSub)
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		subscriptionID := event.GetObjectValue("subscription")
		if subscriptionID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
		}
		stripeSub, err := s.stripe.Get(ctx, subscriptionID, &stripe.SubscriptionParams{})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		return s.SyncSubscription(ctx, stripeSub)
	default:
		return nil
	}
}

// SyncSubscription overwrites the local row with the provider snapshot. The
// cron reconcile job drives the same path for subscriptions whose webhooks
// were missed.
func (s *Service) SyncSubscription(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return err
		}

		userID, metadataErr := subscriptions.UserIDFromMetadata(stripeSub.Metadata)
		if metadataErr != nil && stored != nil {
			userID = stored.UserID
			metadataErr = nil
		}
		if metadataErr != nil {
			return metadataErr
		}

		planID, err := s.resolvePlanID(ctx, repo, stripeSub)
		if err != nil {
			return err
		}

		if stored == nil {
			if stripeSub.Status == stripe.SubscriptionStatusCanceled {
				return nil
			}
			return s.createFromStripe(ctx, repo, stripeSub, userID, planID)
		}

		if stripeSub.Status == stripe.SubscriptionStatusCanceled {
			return s.landCancellation(ctx, repo, stored)
		}

		prevStart := stored.CurrentPeriodStart
		pending := subscriptions.PendingPlanID(stored.Metadata)

		if err := subscriptions.UpdateSubscriptionFromStripe(stored, stripeSub, planID); err != nil {
			return err
		}

		// A deferred downgrade has landed once the provider reports the
		// pending plan's price. Until then the marker is local state the
		// provider snapshot knows nothing about, so it survives the sync.
		if pending != "" {
			landed := planID == pending
			target := pending
			if landed {
				target = ""
			}
			meta, err := subscriptions.SetPendingPlanID(stored.Metadata, target)
			if err != nil {
				return err
			}
			stored.Metadata = meta
		}

		if periodAdvanced(prevStart, stored.CurrentPeriodStart) {
			stored.TotalSecondsProcessed = 0
			ctx := s.logg.WithSubscriptionID(ctx, stored.ID.String())
			s.logg.Info(ctx, "billing period advanced, usage counters reset")
		}

		return repo.UpdateSubscription(ctx, stored)
	})
}

func (s *Service) createFromStripe(ctx context.Context, repo billing.Repository, stripeSub *stripe.Subscription, userID uuid.UUID, planID string) error {
	if planID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "subscription price maps to no known plan")
	}
	built, err := subscriptions.BuildSubscriptionFromStripe(stripeSub, userID, planID)
	if err != nil {
		return err
	}
	return repo.CreateSubscription(ctx, built)
}

// landCancellation converts a fully canceled provider subscription back into
// the free placeholder so the account keeps an active row and fresh quotas.
func (s *Service) landCancellation(ctx context.Context, repo billing.Repository, stored *models.Subscription) error {
	landingPlanID := subscriptions.PendingPlanID(stored.Metadata)
	if landingPlanID == "" {
		freePlan, err := repo.FindFreePlan(ctx)
		if err != nil {
			return err
		}
		if freePlan == nil {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "free plan is not configured")
		}
		landingPlanID = freePlan.ID
	}

	now := time.Now().UTC()
	periodEnd := now.Add(freePlaceholderPeriod)

	stored.StripeSubscriptionID = models.NewFreeSubscriptionID()
	stored.PlanID = landingPlanID
	stored.Status = enums.SubscriptionStatusActive
	stored.IsActive = true
	stored.CancelAtPeriodEnd = false
	stored.CanceledAt = nil
	stored.TotalSecondsProcessed = 0
	stored.CurrentPeriodStart = &now
	stored.CurrentPeriodEnd = periodEnd

	cleared, err := subscriptions.SetPendingPlanID(stored.Metadata, "")
	if err != nil {
		return err
	}
	stored.Metadata = cleared

	ctx = s.logg.WithSubscriptionID(ctx, stored.ID.String())
	s.logg.Info(ctx, "provider subscription canceled, moved to free tier")
	return repo.UpdateSubscription(ctx, stored)
}

func (s *Service) resolvePlanID(ctx context.Context, repo billing.Repository, stripeSub *stripe.Subscription) (string, error) {
	priceID := subscriptions.DeterminePriceID(stripeSub)
	if priceID == "" {
		return "", nil
	}
	plan, err := repo.FindPlanByStripePriceID(ctx, priceID)
	if err != nil {
		return "", err
	}
	if plan == nil {
		return "", nil
	}
	return plan.ID, nil
}

func periodAdvanced(prev, current *time.Time) bool {
	if prev == nil || current == nil {
		return false
	}
	return current.After(*prev)
}
