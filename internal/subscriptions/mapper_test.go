package subscriptions

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/amaldonado/streamlane-backend/pkg/enums"
)

func TestBuildSubscriptionFromStripe(t *testing.T) {
	userID := uuid.New()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	stripeSub := &stripe.Subscription{
		ID:     "sub_123",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				ID:                 "si_1",
				CurrentPeriodStart: start.Unix(),
				CurrentPeriodEnd:   end.Unix(),
				Price:              &stripe.Price{ID: "price_pro"},
			}},
		},
	}

	sub, err := BuildSubscriptionFromStripe(stripeSub, userID, "pro-monthly")
	if err != nil {
		t.Fatalf("build subscription: %v", err)
	}
	if sub.StripeSubscriptionID != "sub_123" {
		t.Fatalf("unexpected stripe id %q", sub.StripeSubscriptionID)
	}
	if sub.UserID != userID {
		t.Fatalf("unexpected user id %s", sub.UserID)
	}
	if sub.PlanID != "pro-monthly" {
		t.Fatalf("unexpected plan id %q", sub.PlanID)
	}
	if sub.Status != enums.SubscriptionStatusActive || !sub.IsActive {
		t.Fatalf("expected active subscription, got %s active=%t", sub.Status, sub.IsActive)
	}
	if sub.CurrentPeriodStart == nil || !sub.CurrentPeriodStart.Equal(start) {
		t.Fatalf("unexpected period start %v", sub.CurrentPeriodStart)
	}
	if !sub.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("unexpected period end %v", sub.CurrentPeriodEnd)
	}

	gotUserID, err := UserIDFromMetadata(map[string]string{MetadataUserIDKey: userID.String()})
	if err != nil {
		t.Fatalf("user id from metadata: %v", err)
	}
	if gotUserID != userID {
		t.Fatalf("metadata round trip mismatch")
	}
}

func TestUpdateSubscriptionFromStripeDeactivatesOnCancel(t *testing.T) {
	userID := uuid.New()
	stripeSub := &stripe.Subscription{
		ID:     "sub_456",
		Status: stripe.SubscriptionStatusCanceled,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{CurrentPeriodStart: 1, CurrentPeriodEnd: 2}},
		},
	}

	target, err := BuildSubscriptionFromStripe(&stripe.Subscription{
		ID:     "sub_456",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{CurrentPeriodStart: 1, CurrentPeriodEnd: 2}},
		},
	}, userID, "pro-monthly")
	if err != nil {
		t.Fatalf("build subscription: %v", err)
	}

	if err := UpdateSubscriptionFromStripe(target, stripeSub, ""); err != nil {
		t.Fatalf("update subscription: %v", err)
	}
	if target.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled status, got %s", target.Status)
	}
	if target.IsActive {
		t.Fatal("expected subscription flagged inactive")
	}
	if target.PlanID != "pro-monthly" {
		t.Fatalf("plan id should be preserved when no replacement given, got %q", target.PlanID)
	}
}

func TestPendingPlanIDRoundTrip(t *testing.T) {
	meta, err := SetPendingPlanID(nil, "basic-monthly")
	if err != nil {
		t.Fatalf("set pending plan: %v", err)
	}
	if got := PendingPlanID(meta); got != "basic-monthly" {
		t.Fatalf("expected pending plan basic-monthly, got %q", got)
	}

	cleared, err := SetPendingPlanID(meta, "")
	if err != nil {
		t.Fatalf("clear pending plan: %v", err)
	}
	if got := PendingPlanID(cleared); got != "" {
		t.Fatalf("expected cleared pending plan, got %q", got)
	}

	if got := PendingPlanID(json.RawMessage("not json")); got != "" {
		t.Fatalf("expected empty pending plan for malformed metadata, got %q", got)
	}
}
