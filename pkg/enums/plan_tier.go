package enums

import "fmt"

// PlanTier identifies the subscription plan that drives the monthly quota.
type PlanTier string

const (
	PlanTierFree  PlanTier = "free"
	PlanTierBasic PlanTier = "basic"
	PlanTierPro   PlanTier = "pro"
)

var validPlanTiers = []PlanTier{
	PlanTierFree,
	PlanTierBasic,
	PlanTierPro,
}

// IsValid reports whether the value matches the canonical plan tier enum.
func (p PlanTier) IsValid() bool {
	for _, candidate := range validPlanTiers {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanTier converts raw input into PlanTier.
func ParsePlanTier(value string) (PlanTier, error) {
	for _, candidate := range validPlanTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan tier %q", value)
}
