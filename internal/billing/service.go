package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/amaldonado/streamlane-backend/internal/subscriptions"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/debuglog"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
	"github.com/amaldonado/streamlane-backend/pkg/metrics"
)

const planChangeLockScope = "plan_change"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type userLocker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

// Service defines the plan lifecycle surface.
type Service interface {
	ListPlans(ctx context.Context) ([]models.Plan, error)
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ChangePlan(ctx context.Context, userID uuid.UUID, input ChangePlanInput) (*ChangePlanResult, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo              Repository
	StripeClient      subscriptions.StripeSubscriptionClient
	TransactionRunner txRunner
	Locker            userLocker
	Logger            *logger.Logger
	Metrics           *metrics.BillingMetrics
	DebugLog          *debuglog.Buffer
	LockTTL           time.Duration
}

// ChangePlanInput captures the requested transition.
type ChangePlanInput struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// ChangePlanResult reports what happened and when it takes effect.
type ChangePlanResult struct {
	Subscription *models.Subscription `json:"subscription"`
	ChangeType   enums.PlanChangeType `json:"change_type"`
	EffectiveAt  time.Time            `json:"effective_at"`
	Deferred     bool                 `json:"deferred"`
}

type service struct {
	repo     Repository
	stripe   subscriptions.StripeSubscriptionClient
	txRunner txRunner
	locker   userLocker
	logg     *logger.Logger
	metrics  *metrics.BillingMetrics
	debug    *debuglog.Buffer
	lockTTL  time.Duration
}

// NewService builds a billing service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client is required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	debug := params.DebugLog
	if debug == nil {
		debug = debuglog.Default()
	}
	return &service{
		repo:     params.Repo,
		stripe:   params.StripeClient,
		txRunner: params.TransactionRunner,
		locker:   params.Locker,
		logg:     params.Logger,
		metrics:  params.Metrics,
		debug:    debug,
		lockTTL:  lockTTL,
	}, nil
}

func (s *service) ListPlans(ctx context.Context) ([]models.Plan, error) {
	status := enums.PlanStatusActive
	plans, err := s.repo.ListPlans(ctx, ListPlansQuery{Status: &status})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

func (s *service) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	plan, err := s.repo.FindPlanByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (s *service) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.FindActiveSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	return sub, nil
}

// ChangePlan moves the user's active subscription onto the target plan.
// Upgrades apply immediately with prorations; paid downgrades are scheduled
// on a two-phase subscription schedule; downgrades to the free tier cancel at
// period end. The per-user lock keeps concurrent requests from interleaving
// the read-modify-write against the provider.
func (s *service) ChangePlan(ctx context.Context, userID uuid.UUID, input ChangePlanInput) (*ChangePlanResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	targetPlanID := strings.TrimSpace(input.PlanID)
	if targetPlanID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan_id is required")
	}

	ctx = s.logg.WithUserID(ctx, userID.String())
	ctx = s.logg.WithPlanID(ctx, targetPlanID)

	lockKey := s.locker.LockKey(planChangeLockScope, userID.String())
	acquired, err := s.locker.SetNX(ctx, lockKey, uuid.NewString(), s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire plan change lock")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a plan change is already in progress")
	}
	defer func() {
		if delErr := s.locker.Del(context.WithoutCancel(ctx), lockKey); delErr != nil {
			s.logg.Warn(ctx, fmt.Sprintf("release plan change lock failed: %v", delErr))
		}
	}()

	sub, err := s.repo.FindActiveSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	if !sub.HasProviderSubscription() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "free tier subscriptions change plans through checkout")
	}

	currentPlan, err := s.repo.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current plan")
	}
	if currentPlan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "subscription references an unknown plan")
	}

	targetPlan, err := s.repo.FindPlanByID(ctx, targetPlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup target plan")
	}
	if targetPlan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "target plan not found")
	}
	if targetPlan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target plan is not available")
	}

	if targetPlan.ID == currentPlan.ID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "already subscribed to this plan")
	}

	changeType, err := ClassifyChange(currentPlan, targetPlan)
	if err != nil {
		return nil, err
	}

	var result *ChangePlanResult
	switch changeType {
	case enums.PlanChangeUpgrade:
		result, err = s.applyUpgrade(ctx, sub, targetPlan)
	case enums.PlanChangeDowngrade:
		result, err = s.scheduleDowngrade(ctx, sub, currentPlan, targetPlan)
	case enums.PlanChangeDowngradeToFree:
		result, err = s.cancelToFree(ctx, sub, targetPlan)
	default:
		err = pkgerrors.New(pkgerrors.CodeInternal, "unhandled plan change type")
	}

	if err != nil {
		s.metrics.IncPlanChange(changeType.String(), "failed")
		s.debug.Record("plan_change", "plan change failed", map[string]any{
			"user_id":     userID.String(),
			"change_type": changeType.String(),
			"target_plan": targetPlan.ID,
			"error":       err.Error(),
		})
		return nil, err
	}

	outcome := "applied"
	if result.Deferred {
		outcome = "scheduled"
	}
	s.metrics.IncPlanChange(changeType.String(), outcome)
	s.debug.Record("plan_change", fmt.Sprintf("plan change %s", outcome), map[string]any{
		"user_id":      userID.String(),
		"change_type":  changeType.String(),
		"from_plan":    currentPlan.ID,
		"target_plan":  targetPlan.ID,
		"effective_at": result.EffectiveAt,
	})
	s.logg.Info(ctx, fmt.Sprintf("plan change %s (%s)", outcome, changeType))
	return result, nil
}

// applyUpgrade swaps the subscription item to the target price immediately and
// bills the prorated difference. Local state follows the provider response in
// one transaction.
func (s *service) applyUpgrade(ctx context.Context, sub *models.Subscription, targetPlan *models.Plan) (*ChangePlanResult, error) {
	live, err := s.stripe.Get(ctx, sub.StripeSubscriptionID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	itemID := subscriptions.FirstItemID(live)
	if itemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "stripe subscription has no items")
	}

	// A schedule from an earlier deferred downgrade would reject the item swap
	// or reinstate the old plan at the boundary.
	if err := s.releaseSchedule(ctx, live); err != nil {
		return nil, err
	}

	updated, err := s.stripe.Update(ctx, sub.StripeSubscriptionID, &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(itemID),
			Price: stripe.String(targetPlan.StripePriceID),
		}},
		ProrationBehavior: stripe.String("create_prorations"),
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upgrade stripe subscription")
	}

	persistErr := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		stored, err := txRepo.FindActiveSubscriptionForUpdate(ctx, sub.UserID)
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription disappeared during upgrade")
		}
		if err := subscriptions.UpdateSubscriptionFromStripe(stored, updated, targetPlan.ID); err != nil {
			return err
		}
		meta, err := subscriptions.SetPendingPlanID(stored.Metadata, "")
		if err != nil {
			return err
		}
		stored.Metadata = meta
		if err := txRepo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		*sub = *stored
		return nil
	})
	if persistErr != nil {
		// The provider change landed; webhook sync repairs the local row.
		s.logg.Error(ctx, "upgrade applied at provider but local persist failed", persistErr)
		s.debug.Record("plan_change", "local persist failed after provider upgrade", map[string]any{
			"subscription_id": sub.StripeSubscriptionID,
			"target_plan":     targetPlan.ID,
			"error":           persistErr.Error(),
		})
		if err := subscriptions.UpdateSubscriptionFromStripe(sub, updated, targetPlan.ID); err != nil {
			return nil, err
		}
	}

	return &ChangePlanResult{
		Subscription: sub,
		ChangeType:   enums.PlanChangeUpgrade,
		EffectiveAt:  time.Now().UTC(),
		Deferred:     false,
	}, nil
}

// scheduleDowngrade builds a two-phase schedule: the current price runs out the
// paid period, then the target price starts at the boundary. Only metadata is
// touched locally; the webhook flips the plan when phase two begins.
func (s *service) scheduleDowngrade(ctx context.Context, sub *models.Subscription, currentPlan, targetPlan *models.Plan) (*ChangePlanResult, error) {
	live, err := s.stripe.Get(ctx, sub.StripeSubscriptionID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	periodStart, periodEnd := currentPeriodBounds(live)
	if periodEnd == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "stripe subscription has no current period")
	}

	// A previously scheduled change must be released before a new one attaches.
	if err := s.releaseSchedule(ctx, live); err != nil {
		return nil, err
	}

	sched, err := s.stripe.CreateScheduleFromSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription schedule")
	}

	if _, err := s.stripe.UpdateSchedule(ctx, sched.ID, &stripe.SubscriptionScheduleParams{
		EndBehavior: stripe.String("release"),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{{
					Price:    stripe.String(currentPlan.StripePriceID),
					Quantity: stripe.Int64(1),
				}},
				StartDate: stripe.Int64(periodStart),
				EndDate:   stripe.Int64(periodEnd),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{{
					Price:    stripe.String(targetPlan.StripePriceID),
					Quantity: stripe.Int64(1),
				}},
				StartDate: stripe.Int64(periodEnd),
			},
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "configure subscription schedule")
	}

	effectiveAt := time.Unix(periodEnd, 0).UTC()
	persistErr := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		stored, err := txRepo.FindActiveSubscriptionForUpdate(ctx, sub.UserID)
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription disappeared during downgrade")
		}
		meta, err := subscriptions.SetPendingPlanID(stored.Metadata, targetPlan.ID)
		if err != nil {
			return err
		}
		stored.Metadata = meta
		if err := txRepo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		*sub = *stored
		return nil
	})
	if persistErr != nil {
		s.logg.Error(ctx, "downgrade scheduled at provider but local persist failed", persistErr)
		s.debug.Record("plan_change", "local persist failed after scheduling downgrade", map[string]any{
			"subscription_id": sub.StripeSubscriptionID,
			"target_plan":     targetPlan.ID,
			"error":           persistErr.Error(),
		})
	}

	return &ChangePlanResult{
		Subscription: sub,
		ChangeType:   enums.PlanChangeDowngrade,
		EffectiveAt:  effectiveAt,
		Deferred:     true,
	}, nil
}

// cancelToFree marks the provider subscription to lapse at the period boundary.
// The webhook moves the user onto the free tier when the cancellation lands.
func (s *service) cancelToFree(ctx context.Context, sub *models.Subscription, freePlan *models.Plan) (*ChangePlanResult, error) {
	live, err := s.stripe.Get(ctx, sub.StripeSubscriptionID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	// A pending downgrade schedule would keep the subscription alive past the
	// requested cancellation.
	if err := s.releaseSchedule(ctx, live); err != nil {
		return nil, err
	}

	updated, err := s.stripe.Update(ctx, sub.StripeSubscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stripe subscription at period end")
	}

	_, periodEnd := currentPeriodBounds(updated)
	effectiveAt := time.Unix(periodEnd, 0).UTC()
	if periodEnd == 0 {
		effectiveAt = sub.CurrentPeriodEnd
	}

	persistErr := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		stored, err := txRepo.FindActiveSubscriptionForUpdate(ctx, sub.UserID)
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription disappeared during cancellation")
		}
		stored.CancelAtPeriodEnd = true
		meta, err := subscriptions.SetPendingPlanID(stored.Metadata, freePlan.ID)
		if err != nil {
			return err
		}
		stored.Metadata = meta
		if err := txRepo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		*sub = *stored
		return nil
	})
	if persistErr != nil {
		s.logg.Error(ctx, "cancellation set at provider but local persist failed", persistErr)
		s.debug.Record("plan_change", "local persist failed after cancel at period end", map[string]any{
			"subscription_id": sub.StripeSubscriptionID,
			"target_plan":     freePlan.ID,
			"error":           persistErr.Error(),
		})
	}

	return &ChangePlanResult{
		Subscription: sub,
		ChangeType:   enums.PlanChangeDowngradeToFree,
		EffectiveAt:  effectiveAt,
		Deferred:     true,
	}, nil
}

func (s *service) releaseSchedule(ctx context.Context, live *stripe.Subscription) error {
	if live == nil || live.Schedule == nil || live.Schedule.ID == "" {
		return nil
	}
	if _, err := s.stripe.ReleaseSchedule(ctx, live.Schedule.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release existing schedule")
	}
	return nil
}

func currentPeriodBounds(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}
