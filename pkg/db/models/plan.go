package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amaldonado/streamlane-backend/pkg/enums"
)

// FreePlanName marks the zero-tier plan in the catalog. Classification of a
// downgrade-to-free keys off the name, not the amount.
const FreePlanName = "Free"

// UnlimitedQuota is the sentinel meaning a limit is unbounded.
const UnlimitedQuota = -1

// Plan captures the local metadata for a subscription plan.
type Plan struct {
	ID            string                `gorm:"column:id;primaryKey"`
	Name          string                `gorm:"column:name;not null"`
	Status        enums.PlanStatus      `gorm:"column:status;type:plan_status;not null"`
	StripePriceID string                `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	Interval      enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	PriceAmount   decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode  string                `gorm:"column:currency_code;not null"`

	MaxActiveStreams         int   `gorm:"column:max_active_streams;not null;default:1"`
	MaxStreams               int   `gorm:"column:max_streams;not null;default:-1"`
	MaxTotalSecondsProcessed int64 `gorm:"column:max_total_seconds_processed;not null;default:-1"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// IsFreeTier reports whether the plan is the non-billed zero tier.
func (p *Plan) IsFreeTier() bool {
	if p == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(p.Name), FreePlanName)
}

// AmountCents converts the catalog price into minor currency units for Stripe.
func (p *Plan) AmountCents() int64 {
	if p == nil {
		return 0
	}
	return p.PriceAmount.Mul(decimal.NewFromInt(100)).IntPart()
}
