/*
pricing.go - Pricing policy collaborator

PURPOSE:
  Turns a completed harvest (total weight + grade mix) and the transaction's
  agreed initial price into a total price. The formula is warehouse business
  policy, so the engine only depends on the PricingPolicy interface.

BUILT-IN POLICIES:
  PerKilogram:  total = weight × initial_price
  PerQuintal:   total = weight × initial_price / 100   (price quoted per 100 kg)
  Graded:       total = weight × initial_price × weighted grade multiplier
                multiplier = Σ(count_g × m_g) / Σ count_g
  Flat:         total = initial_price                  (lump-sum deal)

BOUNDED CALLS:
  The engine always calls pricing through WithTimeout. A deadline, an error
  or a negative total becomes an UpstreamFailure and the transaction stays in
  recording: no totals are frozen.

EXAMPLE:
  Graded{Multipliers: map[Grade]decimal.Decimal{A: 1.2, B: 1.0, C: 0.8}}
  3 sacks (2×A, 1×B), 4.5 kg, initial 10000/kg:
    multiplier = (2×1.2 + 1×1.0) / 3 = 1.1333...
    total      = 4.5 × 10000 × 1.1333 = 51000.00

SEE ALSO:
  - factory/pricing.go: Builds policies from JSON/YAML definitions
  - engine.go:          CompleteRecording
*/
package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PricingInput is everything a policy may look at.
type PricingInput struct {
	TransactionID TransactionID
	TotalWeightKg decimal.Decimal
	Breakdown     GradeBreakdown
	InitialPrice  decimal.Decimal
}

// PricingPolicy computes a transaction's total price. Implementations must
// be deterministic for a given input.
type PricingPolicy interface {
	ComputePrice(ctx context.Context, in PricingInput) (decimal.Decimal, error)
}

// PricingFunc adapts a function to PricingPolicy.
type PricingFunc func(ctx context.Context, in PricingInput) (decimal.Decimal, error)

func (f PricingFunc) ComputePrice(ctx context.Context, in PricingInput) (decimal.Decimal, error) {
	return f(ctx, in)
}

// PricePrecision is the number of decimal places totals are rounded to.
const PricePrecision = 2

var hundred = decimal.NewFromInt(100)

// =============================================================================
// BUILT-IN POLICIES
// =============================================================================

type PerKilogram struct{}

func (PerKilogram) ComputePrice(_ context.Context, in PricingInput) (decimal.Decimal, error) {
	return in.TotalWeightKg.Mul(in.InitialPrice), nil
}

type PerQuintal struct{}

func (PerQuintal) ComputePrice(_ context.Context, in PricingInput) (decimal.Decimal, error) {
	return in.TotalWeightKg.Mul(in.InitialPrice).Div(hundred), nil
}

// Graded scales the per-kg initial price by the count-weighted grade
// multiplier. Grades missing from Multipliers count as 1.
type Graded struct {
	Multipliers map[Grade]decimal.Decimal
}

func (g Graded) ComputePrice(_ context.Context, in PricingInput) (decimal.Decimal, error) {
	total := in.Breakdown.Total()
	if total == 0 {
		return decimal.Zero, nil
	}
	weighted := decimal.Zero
	for _, grade := range Grades {
		m, ok := g.Multipliers[grade]
		if !ok {
			m = decimal.NewFromInt(1)
		}
		weighted = weighted.Add(m.Mul(decimal.NewFromInt(int64(in.Breakdown.Count(grade)))))
	}
	// multiply before dividing so the only rounding is the final one
	return in.TotalWeightKg.Mul(in.InitialPrice).Mul(weighted).Div(decimal.NewFromInt(int64(total))), nil
}

type Flat struct{}

func (Flat) ComputePrice(_ context.Context, in PricingInput) (decimal.Decimal, error) {
	return in.InitialPrice, nil
}

// =============================================================================
// BOUNDED POLICY
// =============================================================================

// DefaultPricingTimeout bounds pricing when no timeout is configured.
const DefaultPricingTimeout = 5 * time.Second

type boundedPolicy struct {
	inner   PricingPolicy
	timeout time.Duration
}

// WithTimeout bounds every ComputePrice call of p. Failures, deadlines and
// negative totals are reported as UpstreamFailure. Totals are rounded to
// PricePrecision.
func WithTimeout(p PricingPolicy, d time.Duration) PricingPolicy {
	if d <= 0 {
		d = DefaultPricingTimeout
	}
	return &boundedPolicy{inner: p, timeout: d}
}

type priceResult struct {
	price decimal.Decimal
	err   error
}

func (b *boundedPolicy) ComputePrice(ctx context.Context, in PricingInput) (decimal.Decimal, error) {
	const op = "compute price"

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// buffered so a policy finishing after the deadline never blocks
	done := make(chan priceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- priceResult{err: fmt.Errorf("pricing policy panicked: %v", r)}
			}
		}()
		price, err := b.inner.ComputePrice(ctx, in)
		done <- priceResult{price: price, err: err}
	}()

	select {
	case <-ctx.Done():
		return decimal.Zero, wrapError(KindUpstreamFailure, op, ctx.Err(), "pricing policy did not answer within %s", b.timeout)
	case res := <-done:
		if res.err != nil {
			return decimal.Zero, wrapError(KindUpstreamFailure, op, res.err, "pricing policy failed")
		}
		if res.price.IsNegative() {
			return decimal.Zero, newError(KindUpstreamFailure, op, "pricing policy returned negative total %s", res.price)
		}
		return res.price.Round(PricePrecision), nil
	}
}
