package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
)

type billingReader interface {
	FindActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
}

type streamCounter interface {
	CountActiveStreams(ctx context.Context, userID uuid.UUID) (int64, error)
	CountStreamsStartedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// Guard enforces per-plan usage limits before work is accepted.
type Guard struct {
	billing billingReader
	streams streamCounter
}

// GuardParams groups dependencies for the usage guard.
type GuardParams struct {
	Billing billingReader
	Streams streamCounter
}

// NewGuard builds a usage guard.
func NewGuard(params GuardParams) (*Guard, error) {
	if params.Billing == nil {
		return nil, fmt.Errorf("billing reader is required")
	}
	if params.Streams == nil {
		return nil, fmt.Errorf("stream counter is required")
	}
	return &Guard{billing: params.Billing, streams: params.Streams}, nil
}

// Exceeds reports whether count breaks the limit. The unlimited sentinel never
// does, and sitting exactly at the limit is still within it.
func Exceeds(count, limit int64) bool {
	if limit == models.UnlimitedQuota {
		return false
	}
	return count > limit
}

// CheckStreamStart decides whether the user may start one more stream. A user
// without an active subscription is denied outright.
func (g *Guard) CheckStreamStart(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	sub, err := g.billing.FindActiveSubscription(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeForbidden, "no active subscription")
	}

	plan, err := g.billing.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "subscription references an unknown plan")
	}

	active, err := g.streams.CountActiveStreams(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active streams")
	}
	if Exceeds(active, int64(plan.MaxActiveStreams)) {
		return pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("concurrent stream limit reached (%d of %d in use)", active, plan.MaxActiveStreams))
	}

	periodStart := periodStartFor(sub)
	started, err := g.streams.CountStreamsStartedSince(ctx, userID, periodStart)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count period streams")
	}
	if Exceeds(started, int64(plan.MaxStreams)) {
		return pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("stream quota for this billing period reached (%d of %d used)", started, plan.MaxStreams))
	}

	return nil
}

// CheckProcessingBudget decides whether additional processing seconds fit
// within the plan's period budget.
func (g *Guard) CheckProcessingBudget(ctx context.Context, userID uuid.UUID, additionalSeconds int64) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if additionalSeconds < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "additional seconds must be non-negative")
	}

	sub, err := g.billing.FindActiveSubscription(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeForbidden, "no active subscription")
	}

	plan, err := g.billing.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "subscription references an unknown plan")
	}

	if Exceeds(sub.TotalSecondsProcessed+additionalSeconds, plan.MaxTotalSecondsProcessed) {
		return pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("processing budget for this billing period reached (%d of %d seconds used)",
				sub.TotalSecondsProcessed, plan.MaxTotalSecondsProcessed))
	}

	return nil
}

func periodStartFor(sub *models.Subscription) time.Time {
	if sub.CurrentPeriodStart != nil {
		return *sub.CurrentPeriodStart
	}
	return sub.CreatedAt
}
