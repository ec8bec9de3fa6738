/*
harvest.go - Harvest ledger aggregation

PURPOSE:
  The harvest ledger is the append-only list of graded observations of a
  transaction. This file turns that list into the numbers the rest of the
  system talks about: how many sacks, how heavy, which grades, how sure the
  detector was.

AGGREGATES:
  total_records       number of records
  total_weight_kg     Σ weight_kg over records with a confirmed weight
  grade_breakdown     {A, B, C} record counts
  average_confidence  mean over records that report a confidence,
                      nil if none do

ORDER INDEPENDENCE:
  Every aggregate is a sum or a count, so the result does not depend on the
  order records were appended in. Decimal addition keeps that exact for
  weights.

WRITES:
  Records are only ever appended by Engine.RecordObservation(s) while the
  transaction is recording. Summaries are computed on read.

SEE ALSO:
  - engine.go:  Recording commands
  - summary.go: Exposes HarvestSummary to callers
*/
package purchase

import (
	"math"

	"github.com/shopspring/decimal"
)

// HarvestSummary is the derived view of a transaction's harvest ledger.
type HarvestSummary struct {
	TransactionID     TransactionID
	TotalRecords      int
	TotalWeightKg     decimal.Decimal
	WeighedRecords    int
	GradeBreakdown    GradeBreakdown
	AverageConfidence *float64
	DominantGrade     *Grade
}

// SummarizeHarvest aggregates records. Pure.
func SummarizeHarvest(transactionID TransactionID, records []HarvestRecord) HarvestSummary {
	s := HarvestSummary{
		TransactionID: transactionID,
		TotalRecords:  len(records),
		TotalWeightKg: decimal.Zero,
	}

	var confSum float64
	var confN int
	for _, r := range records {
		s.GradeBreakdown.Add(r.Grade)
		if r.WeightKg != nil {
			s.TotalWeightKg = s.TotalWeightKg.Add(*r.WeightKg)
			s.WeighedRecords++
		}
		if r.DetectionConfidence != nil {
			confSum += *r.DetectionConfidence
			confN++
		}
	}

	if confN > 0 {
		avg := confSum / float64(confN)
		s.AverageConfidence = &avg
	}
	if g, ok := s.GradeBreakdown.Dominant(); ok {
		s.DominantGrade = &g
	}
	return s
}

// validateObservation checks one detector output before it is appended.
func validateObservation(o Observation) (Observation, error) {
	const op = "record observation"

	g, err := ParseGrade(string(o.Grade))
	if err != nil {
		return o, err
	}
	o.Grade = g

	if o.SackColor == "" {
		o.SackColor = DefaultSackColor(g)
	} else {
		o.SackColor = NormalizeSackColor(string(o.SackColor))
	}

	if o.WeightKg != nil && o.WeightKg.IsNegative() {
		return o, newError(KindInvalidInput, op, "weight_kg must not be negative, got %s", o.WeightKg)
	}
	if c := o.Confidence; c != nil && (math.IsNaN(*c) || *c < 0 || *c > 1) {
		return o, newError(KindInvalidInput, op, "detection_confidence must be within [0, 1], got %v", *c)
	}
	if o.DetectedBy == "" {
		o.DetectedBy = "camera_ml"
	}
	return o, nil
}
