package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/internal/subscriptions"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type subscriptionSyncer interface {
	SyncSubscription(ctx context.Context, stripeSub *stripe.Subscription) error
}

// SubscriptionReconcileJobParams configures the subscription sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger       *logger.Logger
	BillingRepo  billing.Repository
	StripeClient subscriptions.StripeSubscriptionClient
	Syncer       subscriptionSyncer
	Limit        int
	Lookback     time.Duration
}

// NewSubscriptionReconcileJob builds a reconciliation cron job. It sweeps
// provider-backed subscriptions near or past their period boundary and pushes
// each provider snapshot through the same sync path the webhooks use, catching
// deliveries that were missed.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("subscription syncer required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:        params.Logger,
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		syncer:      params.Syncer,
		limit:       limit,
		lookback:    lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg        *logger.Logger
	billingRepo billing.Repository
	stripe      subscriptions.StripeSubscriptionClient
	syncer      subscriptionSyncer
	limit       int
	lookback    time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	snapshot, err := j.billingRepo.ListSubscriptionsForReconciliation(ctx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	synced := 0
	for i := range snapshot {
		if err := j.reconcileSubscription(ctx, &snapshot[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(snapshot),
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileSubscription(ctx context.Context, sub *models.Subscription) error {
	logCtx := j.logg.WithSubscriptionID(ctx, sub.ID.String())
	if !sub.HasProviderSubscription() {
		j.logg.Info(logCtx, "subscription has no provider counterpart; skipping")
		return nil
	}
	stripeSub, err := j.stripe.Get(logCtx, sub.StripeSubscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return fmt.Errorf("fetch stripe subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	if stripeSub == nil {
		j.logg.Info(logCtx, "stripe subscription not found; skipping")
		return nil
	}
	if err := j.syncer.SyncSubscription(logCtx, stripeSub); err != nil {
		return fmt.Errorf("sync subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	j.logg.Info(logCtx, "subscription reconciled")
	return nil
}
