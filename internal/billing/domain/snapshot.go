package domain

import (
	"time"

	"github.com/sbomify/sbomify/internal/config"
)

// SnapshotFromPlan materializes a plan's maxima into a fresh
// entitlement snapshot.
func SnapshotFromPlan(plan config.BillingPlan, status SubscriptionStatus, now time.Time) PlanLimits {
	return PlanLimits{
		MaxProducts:        toInt64(plan.MaxProducts),
		MaxProjects:        toInt64(plan.MaxProjects),
		MaxComponents:      toInt64(plan.MaxComponents),
		MaxUsers:           toInt64(plan.MaxUsers),
		SubscriptionStatus: status,
		LastUpdated:        now,
	}
}

func toInt64(v *int) *int64 {
	if v == nil {
		return nil
	}
	out := int64(*v)
	return &out
}
