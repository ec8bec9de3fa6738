/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a warehouse with realistic
	purchase data for demos and frontend work. Every scenario drives the
	engine through its public commands, so loaded data obeys the same
	lifecycle rules as real traffic and publishes the same events.

AVAILABLE SCENARIOS:

	awaiting-payment:  One delivery recorded and priced, nothing paid
	partial-payment:   Initial payment approved, remaining payment pending
	settled:           Two approved payments covering the full price
	market-day:        Several farmers in every lifecycle stage, including
	                   a rejected payment and a delivery still on the scale

HOW SCENARIOS WORK:
 1. Register farmers in the request's warehouse
 2. Register transactions and record harvest observations
 3. Complete recording (the configured pricing policy sets the price)
 4. Submit and decide payments as fractions of the computed price

USAGE VIA API:

	POST /api/scenarios/load
	X-Warehouse-ID: wh-demo
	{"scenario_id": "market-day"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description and steps
 2. Build the steps from deliveries

NOTE:

	Scenarios add data and never delete it. Load them into a dedicated
	warehouse id.

SEE ALSO:
  - handlers.go: Warehouse header and error mapping
  - cmd/server/commands.go: "seed" command
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/louvredev/BetelChain/purchase"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// delivery is one farmer's visit to the scale.
type delivery struct {
	farmer       purchase.FarmerInput
	initialPrice int64
	sacks        []sack
	complete     bool
	// payments as fractions of the computed price, in submission order
	payments []scriptedPayment
}

type sack struct {
	grade      purchase.Grade
	color      purchase.SackColor
	weightKg   string
	confidence float64
}

type scriptedPayment struct {
	fraction string
	method   string
	decision *purchase.Decision // nil: left pending
}

type scenario struct {
	ScenarioDTO
	deliveries []delivery
}

var (
	approve = &purchase.Approve
	reject  = &purchase.Reject
)

var sutrisno = purchase.FarmerInput{
	FullName: "Sutrisno", Phone: "081234567801", Village: "Dempo Utara",
	District: "Pagar Alam Utara", City: "Pagar Alam", Province: "Sumatera Selatan",
	BankName: "BRI", AccountNumber: "0123456789", AccountHolderName: "Sutrisno",
}

var standardSacks = []sack{
	{purchase.GradeA, purchase.SackRed, "1.5", 0.95},
	{purchase.GradeA, purchase.SackRed, "2.0", 0.90},
	{purchase.GradeB, purchase.SackYellow, "1.0", 0.80},
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "awaiting-payment",
			Name:        "Awaiting Payment",
			Description: "One priced delivery with no payments yet",
		},
		deliveries: []delivery{
			{farmer: sutrisno, initialPrice: 100000, sacks: standardSacks, complete: true},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "partial-payment",
			Name:        "Partial Payment",
			Description: "Initial payment approved, remaining payment waiting for review",
		},
		deliveries: []delivery{
			{farmer: sutrisno, initialPrice: 100000, sacks: standardSacks, complete: true,
				payments: []scriptedPayment{
					{fraction: "0.4", method: "cash", decision: approve},
					{fraction: "0.6", method: "transfer"},
				}},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "settled",
			Name:        "Settled",
			Description: "Two approved payments covering the full price",
		},
		deliveries: []delivery{
			{farmer: sutrisno, initialPrice: 100000, sacks: standardSacks, complete: true,
				payments: []scriptedPayment{
					{fraction: "0.5", method: "cash", decision: approve},
					{fraction: "0.5", method: "transfer", decision: approve},
				}},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "market-day",
			Name:        "Market Day",
			Description: "Four farmers across every stage, with a rejected transfer",
		},
		deliveries: []delivery{
			{farmer: sutrisno, initialPrice: 100000, sacks: standardSacks, complete: true,
				payments: []scriptedPayment{
					{fraction: "1", method: "transfer", decision: approve},
				}},
			{farmer: purchase.FarmerInput{FullName: "Rohani", Village: "Agung Lawangan", City: "Pagar Alam"},
				initialPrice: 95000, complete: true,
				sacks: []sack{
					{purchase.GradeB, purchase.SackYellow, "2.5", 0.88},
					{purchase.GradeC, purchase.SackGreen, "1.75", 0.71},
				},
				payments: []scriptedPayment{
					{fraction: "0.5", method: "transfer", decision: reject},
					{fraction: "0.5", method: "cash", decision: approve},
				}},
			{farmer: purchase.FarmerInput{FullName: "Jumadi", Village: "Tebat Benawa", City: "Pagar Alam"},
				initialPrice: 110000,
				sacks: []sack{
					{purchase.GradeA, purchase.SackRed, "3.0", 0.97},
				}},
			{farmer: purchase.FarmerInput{FullName: "Sitti Aminah", Village: "Candi Jaya", City: "Pagar Alam"},
				initialPrice: 100000},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario populates the request's warehouse with a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := LoadScenario(r.Context(), h.Engine, warehouseFrom(r), req.ScenarioID)
	if err != nil {
		writeEngineError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// =============================================================================
// LOADER
// =============================================================================

// LoadScenario runs scenario id against warehouseID.
func LoadScenario(ctx context.Context, engine *purchase.Engine, warehouseID purchase.WarehouseID, id string) (*ScenarioResultDTO, error) {
	s, ok := findScenario(id)
	if !ok {
		return nil, &purchase.Error{Kind: purchase.KindNotFound, Op: "load scenario", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	res := &ScenarioResultDTO{ScenarioID: s.ID, WarehouseID: string(warehouseID)}
	for i, d := range s.deliveries {
		txn, err := loadDelivery(ctx, engine, warehouseID, d)
		if err != nil {
			return nil, fmt.Errorf("scenario %s, delivery %d: %w", s.ID, i+1, err)
		}
		res.Farmers++
		res.Transactions = append(res.Transactions, txn.Code)
	}
	return res, nil
}

func loadDelivery(ctx context.Context, engine *purchase.Engine, wh purchase.WarehouseID, d delivery) (*purchase.Transaction, error) {
	farmer, err := engine.RegisterFarmer(ctx, wh, d.farmer)
	if err != nil {
		return nil, err
	}
	txn, err := engine.Register(ctx, wh, farmer.ID, decimal.NewFromInt(d.initialPrice))
	if err != nil {
		return nil, err
	}
	if len(d.sacks) == 0 {
		return txn, nil
	}

	if txn, err = engine.StartRecording(ctx, wh, txn.ID); err != nil {
		return nil, err
	}
	obs := make([]purchase.Observation, len(d.sacks))
	for i, s := range d.sacks {
		weight := decimal.RequireFromString(s.weightKg)
		confidence := s.confidence
		obs[i] = purchase.Observation{
			Grade:      s.grade,
			SackColor:  s.color,
			WeightKg:   &weight,
			Confidence: &confidence,
			DetectedBy: "scenario",
		}
	}
	if _, err := engine.RecordObservations(ctx, wh, txn.ID, obs); err != nil {
		return nil, err
	}
	if !d.complete {
		return txn, nil
	}

	rec, err := engine.CompleteRecording(ctx, wh, txn.ID)
	if err != nil {
		return nil, err
	}
	txn = &rec.Transaction
	for _, sp := range d.payments {
		amount := txn.TotalPrice.Mul(decimal.RequireFromString(sp.fraction)).Round(purchase.PricePrecision)
		p, err := engine.SubmitPayment(ctx, wh, txn.ID, purchase.PaymentInput{Amount: amount, Method: sp.method})
		if err != nil {
			return nil, err
		}
		if sp.decision == nil {
			continue
		}
		dr, err := engine.DecidePayment(ctx, wh, p.ID, *sp.decision)
		if err != nil {
			return nil, err
		}
		txn = &dr.Transaction
	}
	return txn, nil
}
