/*
Package factory provides JSON/YAML to Go pricing policy conversion.

PURPOSE:
  Converts pricing policy definitions into purchase.PricingPolicy values.
  Warehouses change how they price harvests more often than the code
  changes, so the policy lives in configuration and the factory builds the
  Go struct.

JSON SCHEMA:
  {
    "kind": "graded",
    "multipliers": {"A": 1.2, "B": 1.0, "C": 0.8}
  }

  YAML (config file, pricing.policy section):
    kind: graded
    multipliers:
      A: 1.2
      B: 1.0
      C: 0.8

KINDS:
  per_kg       total = weight × initial_price
  per_quintal  total = weight × initial_price / 100   (default)
  graded       per_kg scaled by the count-weighted grade multiplier
  flat         total = initial_price

USAGE:
  f := NewPricingFactory()
  policy, err := f.ParsePolicy(`{"kind":"per_kg"}`)
  engine := purchase.NewEngine(store, policy)

SEE ALSO:
  - purchase/pricing.go: Policy implementations
  - config/config.go:    Carries a PricingJSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/louvredev/BetelChain/purchase"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

const (
	KindPerKilogram = "per_kg"
	KindPerQuintal  = "per_quintal"
	KindGraded      = "graded"
	KindFlat        = "flat"
)

// DefaultKind is the pricing used when a definition names none.
const DefaultKind = KindPerQuintal

// PricingJSON is the serialized form of a pricing policy.
type PricingJSON struct {
	Kind        string             `json:"kind" yaml:"kind"`
	Multipliers map[string]float64 `json:"multipliers,omitempty" yaml:"multipliers,omitempty"` // graded only
}

// =============================================================================
// PRICING FACTORY
// =============================================================================

// PricingFactory converts pricing definitions to policies.
type PricingFactory struct{}

// NewPricingFactory creates a new pricing factory.
func NewPricingFactory() *PricingFactory {
	return &PricingFactory{}
}

// ParsePolicy parses a JSON definition.
func (f *PricingFactory) ParsePolicy(jsonStr string) (purchase.PricingPolicy, error) {
	var pj PricingJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse pricing JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParseYAML parses a YAML definition.
func (f *PricingFactory) ParseYAML(data []byte) (purchase.PricingPolicy, error) {
	var pj PricingJSON
	if err := yaml.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("failed to parse pricing YAML: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON builds the policy a definition describes.
func (f *PricingFactory) FromJSON(pj PricingJSON) (purchase.PricingPolicy, error) {
	if err := Validate(pj); err != nil {
		return nil, err
	}

	switch normalizeKind(pj.Kind) {
	case KindPerKilogram:
		return purchase.PerKilogram{}, nil
	case KindGraded:
		g := purchase.Graded{Multipliers: make(map[purchase.Grade]decimal.Decimal, len(pj.Multipliers))}
		for label, m := range pj.Multipliers {
			grade, _ := purchase.ParseGrade(label)
			g.Multipliers[grade] = decimal.NewFromFloat(m)
		}
		return g, nil
	case KindFlat:
		return purchase.Flat{}, nil
	default:
		return purchase.PerQuintal{}, nil
	}
}

// ToJSON converts a built-in policy back into its definition.
func (f *PricingFactory) ToJSON(policy purchase.PricingPolicy) (PricingJSON, error) {
	switch p := policy.(type) {
	case purchase.PerKilogram:
		return PricingJSON{Kind: KindPerKilogram}, nil
	case purchase.PerQuintal:
		return PricingJSON{Kind: KindPerQuintal}, nil
	case purchase.Flat:
		return PricingJSON{Kind: KindFlat}, nil
	case purchase.Graded:
		pj := PricingJSON{Kind: KindGraded, Multipliers: make(map[string]float64, len(p.Multipliers))}
		for grade, m := range p.Multipliers {
			pj.Multipliers[string(grade)], _ = m.Float64()
		}
		return pj, nil
	}
	return PricingJSON{}, fmt.Errorf("pricing policy %T has no definition form", policy)
}

// Validate checks a definition without building it.
func Validate(pj PricingJSON) error {
	kind := normalizeKind(pj.Kind)
	switch kind {
	case KindPerKilogram, KindPerQuintal, KindFlat:
		if len(pj.Multipliers) > 0 {
			return fmt.Errorf("pricing kind %q takes no multipliers", kind)
		}
	case KindGraded:
		if len(pj.Multipliers) == 0 {
			return fmt.Errorf("graded pricing requires multipliers")
		}
		labels := make([]string, 0, len(pj.Multipliers))
		for label := range pj.Multipliers {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			if _, err := purchase.ParseGrade(label); err != nil {
				return fmt.Errorf("graded pricing: %w", err)
			}
			if pj.Multipliers[label] < 0 {
				return fmt.Errorf("graded pricing: multiplier for %s must not be negative", label)
			}
		}
	default:
		return fmt.Errorf("unknown pricing kind %q (want %s, %s, %s or %s)",
			pj.Kind, KindPerKilogram, KindPerQuintal, KindGraded, KindFlat)
	}
	return nil
}

func normalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return DefaultKind
	}
	return kind
}
