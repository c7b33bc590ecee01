package subscriptions

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
)

// MetadataUserIDKey is the Stripe metadata key carrying the local user id.
const MetadataUserIDKey = "user_id"

// MetadataPendingPlanIDKey marks a deferred plan change awaiting the period boundary.
const MetadataPendingPlanIDKey = "pending_plan_id"

// BuildSubscriptionFromStripe maps a Stripe subscription into the canonical model.
func BuildSubscriptionFromStripe(stripeSub *stripe.Subscription, userID uuid.UUID, planID string) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	status := mapStripeStatus(stripeSub.Status)

	metadata, err := mergeMetadata(stripeSub.Metadata, map[string]string{
		MetadataUserIDKey: userID.String(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata")
	}

	startTS, endTS := periodFromSubscription(stripeSub)

	return &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: stripeSub.ID,
		PlanID:               planID,
		Status:               status,
		IsActive:             IsActiveStatus(status),
		CurrentPeriodStart:   toTimePtr(startTS),
		CurrentPeriodEnd:     toTime(endTS),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
		Metadata:             metadata,
	}, nil
}

// UpdateSubscriptionFromStripe mutates the provided subscription with new Stripe data.
// When planID is non-empty the local plan pointer moves with it.
func UpdateSubscriptionFromStripe(target *models.Subscription, stripeSub *stripe.Subscription, planID string) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	status := mapStripeStatus(stripeSub.Status)

	metadata, err := mergeMetadata(stripeSub.Metadata, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata")
	}

	target.StripeSubscriptionID = stripeSub.ID
	target.Status = status
	target.IsActive = IsActiveStatus(status)
	if planID != "" {
		target.PlanID = planID
	}
	startTS, endTS := periodFromSubscription(stripeSub)
	target.CurrentPeriodStart = toTimePtr(startTS)
	target.CurrentPeriodEnd = toTime(endTS)
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(stripeSub.CanceledAt)
	target.Metadata = metadata
	return nil
}

// UserIDFromMetadata extracts the user ID that was attached to Stripe metadata.
func UserIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	if metadata == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata is required")
	}
	userID, ok := metadata[MetadataUserIDKey]
	if !ok || strings.TrimSpace(userID) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
	}
	return id, nil
}

// PendingPlanID returns the deferred target plan stored in local metadata, if any.
func PendingPlanID(metadata json.RawMessage) string {
	if len(metadata) == 0 {
		return ""
	}
	var decoded map[string]string
	if err := json.Unmarshal(metadata, &decoded); err != nil {
		return ""
	}
	return strings.TrimSpace(decoded[MetadataPendingPlanIDKey])
}

// SetPendingPlanID records (or clears, with an empty value) the deferred target plan.
func SetPendingPlanID(metadata json.RawMessage, planID string) (json.RawMessage, error) {
	decoded := map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &decoded); err != nil {
			decoded = map[string]string{}
		}
	}
	if strings.TrimSpace(planID) == "" {
		delete(decoded, MetadataPendingPlanIDKey)
	} else {
		decoded[MetadataPendingPlanIDKey] = planID
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// IsActiveStatus reports whether the provided status keeps the subscription active.
func IsActiveStatus(status enums.SubscriptionStatus) bool {
	switch status {
	case enums.SubscriptionStatusCanceled, enums.SubscriptionStatusIncompleteExpired:
		return false
	default:
		return true
	}
}

// DeterminePriceID returns the first item's price ID from a Stripe subscription.
func DeterminePriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

// FirstItemID returns the first subscription item id, used for plan swaps.
func FirstItemID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	return sub.Items.Data[0].ID
}

func mergeMetadata(base map[string]string, extras map[string]string) (json.RawMessage, error) {
	if len(base) == 0 && len(extras) == 0 {
		return json.RawMessage("{}"), nil
	}
	merged := make(map[string]string, len(base)+len(extras))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extras {
		if v == "" {
			continue
		}
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func mapStripeStatus(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	normalized := strings.ToLower(strings.TrimSpace(string(raw)))
	if normalized == "" {
		return enums.SubscriptionStatusActive
	}
	if parsed, err := enums.ParseSubscriptionStatus(normalized); err == nil {
		return parsed
	}
	// Unknown provider states keep the subscription usable until a webhook clarifies.
	return enums.SubscriptionStatusActive
}
