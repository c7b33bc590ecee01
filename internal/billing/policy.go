package billing

import (
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
)

// ClassifyChange decides how a plan transition is carried out. Free-tier
// targets are classified by catalog name rather than amount, so a paid plan
// that is temporarily discounted to zero still follows the scheduled path.
func ClassifyChange(current, target *models.Plan) (enums.PlanChangeType, error) {
	if current == nil || target == nil {
		return "", pkgerrors.New(pkgerrors.CodeInvalidState, "plan catalog entry missing")
	}

	if target.IsFreeTier() {
		return enums.PlanChangeDowngradeToFree, nil
	}

	if target.AmountCents() < current.AmountCents() {
		return enums.PlanChangeDowngrade, nil
	}

	// Equal-amount moves (interval switches, repriced tiers) take effect
	// immediately like upgrades.
	return enums.PlanChangeUpgrade, nil
}
