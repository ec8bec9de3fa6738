/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal purchase model from the external API contract. Field names
  mirror what the warehouse frontend binds to.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Farmers:       FarmerDTO, CreateFarmerRequest
  Transactions:  TransactionDTO, CreateTransactionRequest
  Harvest:       HarvestRecordDTO, HarvestSummaryDTO, HarvestViewDTO,
                 ObservationRequest, BatchObservationRequest
  Payments:      PaymentDTO, PaymentSummaryDTO, SubmitPaymentRequest,
                 DecisionDTO
  Summaries:     TransactionSummaryDTO, WarehouseSummaryDTO
  Reconcile:     ReconcileReportDTO
  Scenarios:     ScenarioDTO, LoadScenarioRequest, ScenarioResultDTO

NUMBERS:
  Requests accept money and weights as JSON numbers or strings and decode
  them exactly into decimals. Responses render them as numbers.

VALIDATION:
  Shape is checked with validator struct tags before the engine runs.
  Business rules (positive amounts, lifecycle) stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/louvredev/BetelChain/purchase"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateFarmerRequest struct {
	FullName          string `json:"full_name" validate:"required,max=200"`
	Phone             string `json:"phone" validate:"omitempty,max=30"`
	BankName          string `json:"bank_name" validate:"omitempty,max=100"`
	AccountNumber     string `json:"account_number" validate:"omitempty,max=50"`
	AccountHolderName string `json:"account_holder_name" validate:"omitempty,max=200"`
	Address           string `json:"address"`
	Village           string `json:"village"`
	District          string `json:"district"`
	City              string `json:"city"`
	Province          string `json:"province"`
}

type CreateTransactionRequest struct {
	FarmerID     string          `json:"farmer_id" validate:"required"`
	InitialPrice decimal.Decimal `json:"initial_price"`
}

// ObservationRequest is one detector output. sack_color accepts the
// detector's own labels (merah, kuning, hijau).
type ObservationRequest struct {
	Grade               string           `json:"grade" validate:"required"`
	SackColor           string           `json:"sack_color"`
	WeightKg            *decimal.Decimal `json:"weight_kg"`
	DetectionConfidence *float64         `json:"detection_confidence" validate:"omitempty,gte=0,lte=1"`
	DetectedBy          string           `json:"detected_by" validate:"omitempty,max=50"`
}

type BatchObservationRequest struct {
	Observations []ObservationRequest `json:"observations" validate:"required,min=1,max=500,dive"`
}

type SubmitPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=50"`
	Note          string          `json:"note" validate:"omitempty,max=500"`
	PaymentType   string          `json:"payment_type" validate:"omitempty,oneof=initial remaining"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type FarmerDTO struct {
	ID                string  `json:"id"`
	FarmerCode        string  `json:"farmer_code"`
	WarehouseID       string  `json:"warehouse_id"`
	FullName          string  `json:"full_name"`
	Phone             string  `json:"phone,omitempty"`
	BankName          string  `json:"bank_name,omitempty"`
	AccountNumber     string  `json:"account_number,omitempty"`
	AccountHolderName string  `json:"account_holder_name,omitempty"`
	Address           string  `json:"address,omitempty"`
	Village           string  `json:"village,omitempty"`
	District          string  `json:"district,omitempty"`
	City              string  `json:"city,omitempty"`
	Province          string  `json:"province,omitempty"`
	IsActive          bool    `json:"is_active"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         *string `json:"updated_at,omitempty"`
}

type TransactionDTO struct {
	ID                   string   `json:"id"`
	TransactionCode      string   `json:"transaction_code"`
	WarehouseID          string   `json:"warehouse_id"`
	FarmerID             string   `json:"farmer_id"`
	InitialPrice         float64  `json:"initial_price"`
	TotalWeightKg        *float64 `json:"total_weight_kg"`
	TotalPrice           *float64 `json:"total_price"`
	Status               string   `json:"status"`
	PaymentStatus        string   `json:"payment_status"`
	CreatedAt            string   `json:"created_at"`
	RecordingStartedAt   *string  `json:"recording_started_at"`
	RecordingCompletedAt *string  `json:"recording_completed_at"`
	PaymentCompletedAt   *string  `json:"payment_completed_at"`
}

type HarvestRecordDTO struct {
	ID                  string   `json:"id"`
	TransactionID       string   `json:"transaction_id"`
	Grade               string   `json:"grade"`
	SackColor           string   `json:"sack_color"`
	WeightKg            *float64 `json:"weight_kg"`
	DetectionConfidence *float64 `json:"detection_confidence"`
	DetectedBy          string   `json:"detected_by"`
	CreatedAt           string   `json:"created_at"`
}

type HarvestSummaryDTO struct {
	TransactionID     string                  `json:"transaction_id"`
	TotalRecords      int                     `json:"total_records"`
	TotalSacks        int                     `json:"total_sacks"`
	TotalWeightKg     float64                 `json:"total_weight_kg"`
	GradeBreakdown    purchase.GradeBreakdown `json:"grade_breakdown"`
	AverageConfidence *float64                `json:"average_confidence"`
	DominantGrade     *string                 `json:"dominant_grade"`
}

type HarvestViewDTO struct {
	Records []HarvestRecordDTO `json:"records"`
	Summary HarvestSummaryDTO  `json:"summary"`
}

type PaymentDTO struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transaction_id"`
	PaymentType   string  `json:"payment_type"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	Note          string  `json:"note,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	DecidedAt     *string `json:"decided_at"`
}

type PaymentSummaryDTO struct {
	TransactionID     string                 `json:"transaction_id"`
	TotalPrice        *float64               `json:"total_price"`
	TotalApproved     float64                `json:"total_approved"`
	TotalPaid         float64                `json:"total_paid"`
	TotalPending      float64                `json:"total_pending"`
	InitialPaid       float64                `json:"initial_paid"`
	RemainingPaid     float64                `json:"remaining_paid"`
	RemainingNeeded   float64                `json:"remaining_needed"`
	PaymentPercentage float64                `json:"payment_percentage"`
	PaymentStatus     string                 `json:"payment_status"`
	PaymentByStatus   purchase.PaymentCounts `json:"payment_by_status"`
	TotalPayments     int                    `json:"total_payments"`
	Payments          []PaymentDTO           `json:"payments"`
}

// DecisionDTO is the answer to approve/reject: the decided payment and
// where the transaction stands now.
type DecisionDTO struct {
	Payment       PaymentDTO     `json:"payment"`
	Transaction   TransactionDTO `json:"transaction"`
	TotalApproved float64        `json:"total_approved"`
}

type RecordingResultDTO struct {
	Transaction TransactionDTO    `json:"transaction"`
	Harvest     HarvestSummaryDTO `json:"harvest_summary"`
}

type TransactionSummaryDTO struct {
	Transaction    TransactionDTO    `json:"transaction"`
	FarmerCode     string            `json:"farmer_code,omitempty"`
	FarmerName     string            `json:"farmer_name,omitempty"`
	HarvestSummary HarvestSummaryDTO `json:"harvest_summary"`
	PaymentSummary PaymentSummaryDTO `json:"payment_summary"`
}

type WarehouseSummaryDTO struct {
	WarehouseID        string                  `json:"warehouse_id"`
	FarmersCount       int                     `json:"farmers_count"`
	TransactionsCount  int                     `json:"transactions_count"`
	CompletedCount     int                     `json:"completed_count"`
	GradesBreakdown    purchase.GradeBreakdown `json:"grades_breakdown"`
	DominantGrade      *string                 `json:"dominant_grade"`
	DominantGradeRatio float64                 `json:"dominant_grade_ratio"`
	TotalSacks         int                     `json:"total_sacks"`
	TotalWeightKg      float64                 `json:"total_weight_kg"`
	TotalSpent         float64                 `json:"total_spent"`
	Outstanding        float64                 `json:"outstanding"`
}

type ReconcileReportDTO struct {
	Checked  int               `json:"checked"`
	Repaired []string          `json:"repaired"`
	Failed   map[string]string `json:"failed,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ScenarioResultDTO struct {
	ScenarioID   string   `json:"scenario_id"`
	WarehouseID  string   `json:"warehouse_id"`
	Farmers      int      `json:"farmers"`
	Transactions []string `json:"transactions"` // codes, in load order
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toFarmerDTO(f purchase.Farmer) FarmerDTO {
	return FarmerDTO{
		ID:                string(f.ID),
		FarmerCode:        f.Code,
		WarehouseID:       string(f.WarehouseID),
		FullName:          f.FullName,
		Phone:             f.Phone,
		BankName:          f.BankName,
		AccountNumber:     f.AccountNumber,
		AccountHolderName: f.AccountHolderName,
		Address:           f.Address,
		Village:           f.Village,
		District:          f.District,
		City:              f.City,
		Province:          f.Province,
		IsActive:          f.IsActive,
		CreatedAt:         formatTime(f.CreatedAt),
		UpdatedAt:         formatTimePtr(f.UpdatedAt),
	}
}

func toTransactionDTO(t purchase.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                   string(t.ID),
		TransactionCode:      t.Code,
		WarehouseID:          string(t.WarehouseID),
		FarmerID:             string(t.FarmerID),
		InitialPrice:         toFloat(t.InitialPrice),
		TotalWeightKg:        toFloatPtr(t.TotalWeightKg),
		TotalPrice:           toFloatPtr(t.TotalPrice),
		Status:               string(t.Status),
		PaymentStatus:        string(t.PaymentStatus),
		CreatedAt:            formatTime(t.CreatedAt),
		RecordingStartedAt:   formatTimePtr(t.RecordingStartedAt),
		RecordingCompletedAt: formatTimePtr(t.RecordingCompletedAt),
		PaymentCompletedAt:   formatTimePtr(t.PaymentCompletedAt),
	}
}

func toHarvestRecordDTO(r purchase.HarvestRecord) HarvestRecordDTO {
	return HarvestRecordDTO{
		ID:                  string(r.ID),
		TransactionID:       string(r.TransactionID),
		Grade:               string(r.Grade),
		SackColor:           string(r.SackColor),
		WeightKg:            toFloatPtr(r.WeightKg),
		DetectionConfidence: r.DetectionConfidence,
		DetectedBy:          r.DetectedBy,
		CreatedAt:           formatTime(r.CreatedAt),
	}
}

func toHarvestSummaryDTO(s purchase.HarvestSummary) HarvestSummaryDTO {
	dto := HarvestSummaryDTO{
		TransactionID:     string(s.TransactionID),
		TotalRecords:      s.TotalRecords,
		TotalSacks:        s.TotalRecords,
		TotalWeightKg:     toFloat(s.TotalWeightKg),
		GradeBreakdown:    s.GradeBreakdown,
		AverageConfidence: s.AverageConfidence,
	}
	if s.DominantGrade != nil {
		g := string(*s.DominantGrade)
		dto.DominantGrade = &g
	}
	return dto
}

func toPaymentDTO(p purchase.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		TransactionID: string(p.TransactionID),
		PaymentType:   string(p.Type),
		Amount:        toFloat(p.Amount),
		PaymentMethod: p.Method,
		Note:          p.Note,
		Status:        string(p.Status),
		CreatedAt:     formatTime(p.CreatedAt),
		DecidedAt:     formatTimePtr(p.DecidedAt),
	}
}

func toPaymentDTOs(payments []purchase.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

func toPaymentSummaryDTO(s purchase.PaymentSummary) PaymentSummaryDTO {
	return PaymentSummaryDTO{
		TransactionID:     string(s.TransactionID),
		TotalPrice:        toFloatPtr(s.TotalPrice),
		TotalApproved:     toFloat(s.TotalApproved),
		TotalPaid:         toFloat(s.TotalPaid()),
		TotalPending:      toFloat(s.TotalPending),
		InitialPaid:       toFloat(s.InitialPaid),
		RemainingPaid:     toFloat(s.RemainingPaid),
		RemainingNeeded:   toFloat(s.RemainingNeeded),
		PaymentPercentage: s.PaymentPercentage,
		PaymentStatus:     string(s.PaymentStatus),
		PaymentByStatus:   s.ByStatus,
		TotalPayments:     s.TotalPayments,
		Payments:          toPaymentDTOs(s.Payments),
	}
}

func toWarehouseSummaryDTO(s purchase.WarehouseSummary) WarehouseSummaryDTO {
	dto := WarehouseSummaryDTO{
		WarehouseID:        string(s.WarehouseID),
		FarmersCount:       s.FarmersCount,
		TransactionsCount:  s.TransactionsCount,
		CompletedCount:     s.CompletedCount,
		GradesBreakdown:    s.GradesBreakdown,
		DominantGradeRatio: s.DominantGradeRatio,
		TotalSacks:         s.TotalSacks,
		TotalWeightKg:      toFloat(s.TotalWeightKg),
		TotalSpent:         toFloat(s.TotalSpent),
		Outstanding:        toFloat(s.Outstanding),
	}
	if s.DominantGrade != nil {
		g := string(*s.DominantGrade)
		dto.DominantGrade = &g
	}
	return dto
}

func toReconcileReportDTO(r purchase.ReconcileReport) ReconcileReportDTO {
	dto := ReconcileReportDTO{Checked: r.Checked, Repaired: make([]string, len(r.Repaired))}
	for i, id := range r.Repaired {
		dto.Repaired[i] = string(id)
	}
	if len(r.Failed) > 0 {
		dto.Failed = make(map[string]string, len(r.Failed))
		for id, msg := range r.Failed {
			dto.Failed[string(id)] = msg
		}
	}
	return dto
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toFloatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := toFloat(*d)
	return &f
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
