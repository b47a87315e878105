package service

import (
	"github.com/shopspring/decimal"
)

// RoutingRole names an approver slot independently of who fills it.
type RoutingRole string

const (
	// RoutingRolePrimary is required only for amounts at or above the threshold.
	RoutingRolePrimary RoutingRole = "PRIMARY_APPROVER"
	// RoutingRoleSecondary is required for every expense.
	RoutingRoleSecondary RoutingRole = "SECONDARY_APPROVER"
)

// DefaultThreshold is the amount at which the primary approver joins the chain.
var DefaultThreshold = decimal.NewFromInt(1_000_000)

// RoutingPolicy decides which roles must approve an expense.
type RoutingPolicy interface {
	RequiredRoles(amount decimal.Decimal, currency string) []RoutingRole
}

// TieredPolicy requires both roles at or above Threshold and the secondary
// role alone below it. Amounts are compared as-is in whatever currency they
// carry.
type TieredPolicy struct {
	Threshold decimal.Decimal
}

// NewTieredPolicy returns a TieredPolicy. A non-positive threshold falls back
// to DefaultThreshold.
func NewTieredPolicy(threshold decimal.Decimal) *TieredPolicy {
	if !threshold.IsPositive() {
		threshold = DefaultThreshold
	}
	return &TieredPolicy{Threshold: threshold}
}

// RequiredRoles implements RoutingPolicy.
func (p *TieredPolicy) RequiredRoles(amount decimal.Decimal, _ string) []RoutingRole {
	if amount.GreaterThanOrEqual(p.Threshold) {
		return []RoutingRole{RoutingRolePrimary, RoutingRoleSecondary}
	}
	return []RoutingRole{RoutingRoleSecondary}
}
