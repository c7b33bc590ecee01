package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amaldonado/streamlane-backend/pkg/enums"
)

// FreeSubscriptionPrefix marks a synthetic subscription id for the non-billed
// tier. Rows carrying it have no Stripe counterpart and must never be sent to
// the provider for mutation.
const FreeSubscriptionPrefix = "free"

// Subscription persists Stripe subscription state per user. At most one row per
// user may be active; the partial unique index in the migrations enforces it.
type Subscription struct {
	ID                    uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	StripeSubscriptionID  string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	PlanID                string                   `gorm:"column:plan_id;not null"`
	Status                enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	IsActive              bool                     `gorm:"column:is_active;not null;default:true"`
	CurrentPeriodStart    *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd      time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd     bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt            *time.Time               `gorm:"column:canceled_at"`
	TotalSecondsProcessed int64                    `gorm:"column:total_seconds_processed;not null;default:0"`
	Metadata              json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt             time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// IsFreePlaceholder reports whether the row represents the synthetic free tier.
func (s *Subscription) IsFreePlaceholder() bool {
	if s == nil {
		return false
	}
	return strings.HasPrefix(s.StripeSubscriptionID, FreeSubscriptionPrefix)
}

// HasProviderSubscription reports whether a real Stripe subscription backs the
// row. An empty or free-prefixed id means there is nothing to mutate remotely.
func (s *Subscription) HasProviderSubscription() bool {
	if s == nil {
		return false
	}
	id := strings.TrimSpace(s.StripeSubscriptionID)
	return id != "" && !strings.HasPrefix(id, FreeSubscriptionPrefix)
}

// NewFreeSubscriptionID mints a synthetic id for a free-tier placeholder row.
func NewFreeSubscriptionID() string {
	return FreeSubscriptionPrefix + "_" + uuid.NewString()
}
