package factory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louvredev/BetelChain/purchase"
)

// 2×A + 1×B, 4.5 kg at 10000 per kg.
var harvest = purchase.PricingInput{
	TransactionID: "tx-1",
	TotalWeightKg: decimal.RequireFromString("4.5"),
	Breakdown:     purchase.GradeBreakdown{A: 2, B: 1},
	InitialPrice:  decimal.NewFromInt(10000),
}

func TestPricingFactory_ParsePolicy(t *testing.T) {
	f := NewPricingFactory()

	tests := []struct {
		name string
		json string
		want purchase.PricingPolicy
	}{
		{"per kg", `{"kind": "per_kg"}`, purchase.PerKilogram{}},
		{"per quintal", `{"kind": "per_quintal"}`, purchase.PerQuintal{}},
		{"flat", `{"kind": "flat"}`, purchase.Flat{}},
		{"default kind", `{}`, purchase.PerQuintal{}},
		{"kind is case-insensitive", `{"kind": " Per_KG "}`, purchase.PerKilogram{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.ParsePolicy(tt.json)
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}
}

func TestPricingFactory_Graded(t *testing.T) {
	// GIVEN: A graded definition in YAML
	// WHEN: It is parsed and used to price 2×A + 1×B
	// THEN: 45000 × (1.2+1.2+1.0)/3 = 51000
	f := NewPricingFactory()
	policy, err := f.ParseYAML([]byte("kind: graded\nmultipliers:\n  A: 1.2\n  b: 1.0\n  C: 0.8\n"))
	require.NoError(t, err)

	graded, ok := policy.(purchase.Graded)
	require.True(t, ok, "got %T", policy)
	assert.True(t, graded.Multipliers[purchase.GradeB].Equal(decimal.NewFromInt(1)), "labels are normalized")

	total, err := policy.ComputePrice(context.Background(), harvest)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(51000)), "got %s", total)
}

func TestPricingFactory_Errors(t *testing.T) {
	f := NewPricingFactory()

	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"malformed", `{"kind":`, "failed to parse pricing JSON"},
		{"unknown kind", `{"kind": "auction"}`, "unknown pricing kind"},
		{"graded without multipliers", `{"kind": "graded"}`, "requires multipliers"},
		{"unknown grade", `{"kind": "graded", "multipliers": {"Z": 1}}`, "graded pricing"},
		{"negative multiplier", `{"kind": "graded", "multipliers": {"A": -1}}`, "must not be negative"},
		{"multipliers on flat", `{"kind": "flat", "multipliers": {"A": 1}}`, "takes no multipliers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tt.json)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := f.ParseYAML([]byte("kind: [graded"))
	assert.ErrorContains(t, err, "failed to parse pricing YAML")
}

func TestPricingFactory_ToJSONRoundTrip(t *testing.T) {
	f := NewPricingFactory()
	policies := []purchase.PricingPolicy{
		purchase.PerKilogram{},
		purchase.PerQuintal{},
		purchase.Flat{},
		purchase.Graded{Multipliers: map[purchase.Grade]decimal.Decimal{
			purchase.GradeA: decimal.RequireFromString("1.2"),
			purchase.GradeC: decimal.RequireFromString("0.8"),
		}},
	}
	for _, p := range policies {
		pj, err := f.ToJSON(p)
		require.NoError(t, err)
		rebuilt, err := f.FromJSON(pj)
		require.NoError(t, err)
		assert.IsType(t, p, rebuilt)
		again, err := f.ToJSON(rebuilt)
		require.NoError(t, err)
		assert.Equal(t, pj, again)
	}

	_, err := f.ToJSON(purchase.PricingFunc(nil))
	assert.Error(t, err)
}
