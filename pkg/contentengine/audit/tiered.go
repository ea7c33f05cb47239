package audit

// Subscription tiers, mirrored from the service's tier table. Tier
// drives logger configuration, not code path.
const (
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// Retention windows per tier, in days.
const (
	RetentionPro        = 7
	RetentionEnterprise = 365
)

// NewTiered is the single seam encoding the tier→audit policy:
// basic disables logging entirely, pro keeps 7 days, enterprise keeps
// 365 days. Unknown tiers are treated as basic.
func NewTiered(tier string, store Store, opts ...Option) *Logger {
	switch tier {
	case TierPro:
		opts = append([]Option{WithRetention(RetentionPro)}, opts...)
	case TierEnterprise:
		opts = append([]Option{WithRetention(RetentionEnterprise)}, opts...)
	default:
		opts = append([]Option{Disabled()}, opts...)
	}
	return New(store, opts...)
}
