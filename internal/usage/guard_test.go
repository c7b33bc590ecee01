package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
)

type stubBilling struct {
	sub  *models.Subscription
	plan *models.Plan
}

func (s *stubBilling) FindActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.sub, nil
}

func (s *stubBilling) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	return s.plan, nil
}

type stubStreams struct {
	active  int64
	started int64
	since   time.Time
}

func (s *stubStreams) CountActiveStreams(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.active, nil
}

func (s *stubStreams) CountStreamsStartedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	s.since = since
	return s.started, nil
}

func testGuard(t *testing.T, billing *stubBilling, streams *stubStreams) *Guard {
	t.Helper()
	guard, err := NewGuard(GuardParams{Billing: billing, Streams: streams})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return guard
}

func activeSub(planID string) *models.Subscription {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &models.Subscription{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		StripeSubscriptionID: "sub_live",
		PlanID:               planID,
		Status:               enums.SubscriptionStatusActive,
		IsActive:             true,
		CurrentPeriodStart:   &start,
		CurrentPeriodEnd:     start.AddDate(0, 1, 0),
	}
}

func TestExceeds(t *testing.T) {
	cases := []struct {
		count, limit int64
		want         bool
	}{
		{0, 1, false},
		{1, 1, false}, // at the limit is still within it
		{2, 1, true},
		{1000, models.UnlimitedQuota, false},
		{0, 0, false},
		{1, 0, true},
	}
	for _, tc := range cases {
		if got := Exceeds(tc.count, tc.limit); got != tc.want {
			t.Errorf("Exceeds(%d, %d) = %t, want %t", tc.count, tc.limit, got, tc.want)
		}
	}
}

func TestCheckStreamStartNoSubscriptionDenied(t *testing.T) {
	guard := testGuard(t, &stubBilling{}, &stubStreams{})

	err := guard.CheckStreamStart(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCheckStreamStartWithinLimits(t *testing.T) {
	plan := &models.Plan{ID: "pro", MaxActiveStreams: 2, MaxStreams: 10}
	sub := activeSub(plan.ID)
	streams := &stubStreams{active: 1, started: 4}
	guard := testGuard(t, &stubBilling{sub: sub, plan: plan}, streams)

	if err := guard.CheckStreamStart(context.Background(), sub.UserID); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if !streams.since.Equal(*sub.CurrentPeriodStart) {
		t.Fatalf("period count should start at current_period_start, got %v", streams.since)
	}
}

func TestCheckStreamStartConcurrentLimitExceeded(t *testing.T) {
	plan := &models.Plan{ID: "basic", MaxActiveStreams: 1, MaxStreams: models.UnlimitedQuota}
	sub := activeSub(plan.ID)
	guard := testGuard(t, &stubBilling{sub: sub, plan: plan}, &stubStreams{active: 2})

	err := guard.CheckStreamStart(context.Background(), sub.UserID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden over concurrent limit, got %v", err)
	}
}

func TestCheckStreamStartAtConcurrentLimitAllowed(t *testing.T) {
	// count == limit is still within the limit
	plan := &models.Plan{ID: "basic", MaxActiveStreams: 2, MaxStreams: models.UnlimitedQuota}
	sub := activeSub(plan.ID)
	guard := testGuard(t, &stubBilling{sub: sub, plan: plan}, &stubStreams{active: 2})

	if err := guard.CheckStreamStart(context.Background(), sub.UserID); err != nil {
		t.Fatalf("expected allow at concurrent limit, got %v", err)
	}
}

func TestCheckStreamStartPeriodQuotaExceeded(t *testing.T) {
	plan := &models.Plan{ID: "basic", MaxActiveStreams: models.UnlimitedQuota, MaxStreams: 5}
	sub := activeSub(plan.ID)
	guard := testGuard(t, &stubBilling{sub: sub, plan: plan}, &stubStreams{started: 6})

	err := guard.CheckStreamStart(context.Background(), sub.UserID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden over period quota, got %v", err)
	}
}

func TestCheckStreamStartAtPeriodQuotaAllowed(t *testing.T) {
	plan := &models.Plan{ID: "basic", MaxActiveStreams: models.UnlimitedQuota, MaxStreams: 5}
	sub := activeSub(plan.ID)
	guard := testGuard(t, &stubBilling{sub: sub, plan: plan}, &stubStreams{started: 5})

	if err := guard.CheckStreamStart(context.Background(), sub.UserID); err != nil {
		t.Fatalf("expected allow at period quota, got %v", err)
	}
}

func TestCheckStreamStartUnlimitedPlan(t *testing.T) {
	plan := &models.Plan{
		ID:               "studio",
		MaxActiveStreams: models.UnlimitedQuota,
		MaxStreams:       models.UnlimitedQuota,
	}
	sub := activeSub(plan.ID)
	guard := testGuard(t, &stubBilling{sub: sub, plan: plan}, &stubStreams{active: 900, started: 100000})

	if err := guard.CheckStreamStart(context.Background(), sub.UserID); err != nil {
		t.Fatalf("unlimited plan must never deny, got %v", err)
	}
}

func TestCheckProcessingBudget(t *testing.T) {
	plan := &models.Plan{ID: "basic", MaxTotalSecondsProcessed: 3600}
	sub := activeSub(plan.ID)
	sub.TotalSecondsProcessed = 3000
	guard := testGuard(t, &stubBilling{sub: sub, plan: plan}, &stubStreams{})

	if err := guard.CheckProcessingBudget(context.Background(), sub.UserID, 600); err != nil {
		t.Fatalf("expected allow at exactly the budget, got %v", err)
	}

	err := guard.CheckProcessingBudget(context.Background(), sub.UserID, 601)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden over the budget, got %v", err)
	}
}
