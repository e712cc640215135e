package usage

import "strings"

// Tier is a subscription level with a fixed monthly call limit.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierEnterprise Tier = "enterprise"
)

// Monthly call limits per tier.
const (
	FreeLimit       = 100
	BasicLimit      = 750
	EnterpriseLimit = 5000
)

// ParseTier maps a stored tier string to a Tier, defaulting unknown values
// to free.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// Limit returns the tier's monthly call limit.
func (t Tier) Limit() int {
	switch t {
	case TierBasic:
		return BasicLimit
	case TierEnterprise:
		return EnterpriseLimit
	default:
		return FreeLimit
	}
}
