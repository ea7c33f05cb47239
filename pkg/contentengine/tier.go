package contentengine

// Tier is the subscription level gating feature access.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierBasic:      0,
	TierPro:        1,
	TierEnterprise: 2,
}

// Known returns whether the tier is a recognized level.
func (t Tier) Known() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t grants everything min grants or more.
func (t Tier) AtLeast(min Tier) bool {
	return tierRank[t] >= tierRank[min]
}

// Operation is a gated content-management capability.
type Operation string

const (
	OpView    Operation = "view"
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpBulk    Operation = "bulk"
	OpExport  Operation = "export"
	OpImport  Operation = "import"
	OpAudit   Operation = "audit"
	OpAPIKeys Operation = "api_keys"
	OpTeam    Operation = "team"
)

// minTier maps every operation to the lowest tier allowed to perform
// it. This is the single source of truth for tier gating; capability
// sets are nested by construction (a higher tier always includes every
// lower tier's operations).
var minTier = map[Operation]Tier{
	OpView:    TierBasic,
	OpCreate:  TierPro,
	OpUpdate:  TierPro,
	OpDelete:  TierPro,
	OpBulk:    TierPro,
	OpExport:  TierPro,
	OpImport:  TierPro,
	OpAudit:   TierPro,
	OpAPIKeys: TierEnterprise,
	OpTeam:    TierEnterprise,
}

// HasAccess reports whether the tier may perform the operation.
func HasAccess(t Tier, op Operation) bool {
	min, ok := minTier[op]
	if !ok {
		return false
	}
	return t.AtLeast(min)
}

// MinTierFor returns the lowest tier allowed to perform the operation,
// and whether the operation is known at all.
func MinTierFor(op Operation) (Tier, bool) {
	min, ok := minTier[op]
	return min, ok
}

// allOperations fixes the order capability listings are returned in.
var allOperations = []Operation{
	OpView, OpCreate, OpUpdate, OpDelete, OpBulk,
	OpExport, OpImport, OpAudit, OpAPIKeys, OpTeam,
}

// Operations returns the capability set for a tier, in declaration
// order.
func Operations(t Tier) []Operation {
	var ops []Operation
	for _, op := range allOperations {
		if t.AtLeast(minTier[op]) {
			ops = append(ops, op)
		}
	}
	return ops
}
