package service

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTieredPolicy_RequiredRoles(t *testing.T) {
	tests := []struct {
		name      string
		threshold decimal.Decimal
		amount    string
		want      []RoutingRole
	}{
		{"just below", DefaultThreshold, "999999.99", []RoutingRole{RoutingRoleSecondary}},
		{"at threshold", DefaultThreshold, "1000000", []RoutingRole{RoutingRolePrimary, RoutingRoleSecondary}},
		{"just above", DefaultThreshold, "1000000.01", []RoutingRole{RoutingRolePrimary, RoutingRoleSecondary}},
		{"zero threshold uses default", decimal.Zero, "999999", []RoutingRole{RoutingRoleSecondary}},
		{"negative threshold uses default", decimal.NewFromInt(-1), "1000000", []RoutingRole{RoutingRolePrimary, RoutingRoleSecondary}},
		{"custom threshold", decimal.NewFromInt(500), "500", []RoutingRole{RoutingRolePrimary, RoutingRoleSecondary}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTieredPolicy(tt.threshold)
			got := p.RequiredRoles(decimal.RequireFromString(tt.amount), "KRW")
			if len(got) != len(tt.want) {
				t.Fatalf("RequiredRoles(%s) = %v, want %v", tt.amount, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("RequiredRoles(%s) = %v, want %v", tt.amount, got, tt.want)
				}
			}
		})
	}
}

func TestTieredPolicy_IgnoresCurrency(t *testing.T) {
	p := NewTieredPolicy(DefaultThreshold)
	amount := decimal.NewFromInt(1_000_000)
	krw := p.RequiredRoles(amount, "KRW")
	usd := p.RequiredRoles(amount, "USD")
	if len(krw) != len(usd) {
		t.Fatalf("KRW %v and USD %v route differently", krw, usd)
	}
}
