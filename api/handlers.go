/*
handlers.go - HTTP API handlers for the purchase engine

PURPOSE:
  Exposes the purchase engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine and summary service.

ENDPOINTS:
  Farmers:
    POST   /api/farmers                              Register farmer
    GET    /api/farmers                              List farmers
    GET    /api/farmers/{id}                         Get farmer
    POST   /api/farmers/{id}/deactivate              Soft delete

  Transactions:
    POST   /api/transactions                         Register transaction
    GET    /api/transactions                         List (newest first)
    GET    /api/transactions/{id}                    Get transaction
    POST   /api/transactions/{id}/start-recording
    POST   /api/transactions/{id}/complete-recording
    GET    /api/transactions/{id}/summary            Consolidated summary

  Harvest:
    POST   /api/transactions/{id}/harvest            Submit observation
    POST   /api/transactions/{id}/harvest/batch      Submit observations
    GET    /api/transactions/{id}/harvest            Records + summary

  Payments:
    POST   /api/transactions/{id}/payments           Submit payment
    GET    /api/transactions/{id}/payments           Payment summary
    GET    /api/payments/{id}                        Get payment
    POST   /api/payments/{id}/approve
    POST   /api/payments/{id}/reject

  Dashboard:
    GET    /api/dashboard/warehouse-summary

  Admin:
    POST   /api/reconciliation/run                   Reconciliation sweep
    GET    /api/scenarios                            List demo scenarios
    POST   /api/scenarios/load                       Load one into the warehouse

WAREHOUSE SCOPE:
  Every /api route except reconciliation requires the X-Warehouse-ID header.
  It is passed to the engine explicitly; nothing is kept between requests.

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}. code is the engine's
  error kind:
  - 400: InvalidInput, InvalidAmount, malformed body, validation failures
  - 404: NotFound
  - 409: InvalidTransition, InvalidState, EmptyHarvest
  - 502: UpstreamFailure (pricing policy)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. The warehouse header is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/louvredev/BetelChain/purchase"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *purchase.Engine
	Summaries *purchase.SummaryService
	Scheduler *ReconciliationScheduler // optional; runs go through it when set

	validate *validator.Validate
}

// NewHandler creates a new handler over engine.
func NewHandler(engine *purchase.Engine) *Handler {
	return &Handler{
		Engine:    engine,
		Summaries: engine.Summaries(),
		validate:  validator.New(),
	}
}

// WarehouseHeader names the request header carrying the acting warehouse.
const WarehouseHeader = "X-Warehouse-ID"

type warehouseKey struct{}

// RequireWarehouse rejects requests without a warehouse header and passes
// the id on through the request context.
func RequireWarehouse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(WarehouseHeader))
		if id == "" {
			writeError(w, http.StatusBadRequest, "Missing "+WarehouseHeader+" header", string(purchase.KindInvalidInput), nil)
			return
		}
		ctx := context.WithValue(r.Context(), warehouseKey{}, purchase.WarehouseID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func warehouseFrom(r *http.Request) purchase.WarehouseID {
	id, _ := r.Context().Value(warehouseKey{}).(purchase.WarehouseID)
	return id
}

// =============================================================================
// FARMER HANDLERS
// =============================================================================

// CreateFarmer registers a farmer for the warehouse.
func (h *Handler) CreateFarmer(w http.ResponseWriter, r *http.Request) {
	var req CreateFarmerRequest
	if !h.decode(w, r, &req) {
		return
	}

	f, err := h.Engine.RegisterFarmer(r.Context(), warehouseFrom(r), purchase.FarmerInput{
		FullName:          req.FullName,
		Phone:             req.Phone,
		BankName:          req.BankName,
		AccountNumber:     req.AccountNumber,
		AccountHolderName: req.AccountHolderName,
		Address:           req.Address,
		Village:           req.Village,
		District:          req.District,
		City:              req.City,
		Province:          req.Province,
	})
	if err != nil {
		writeEngineError(w, "Failed to register farmer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFarmerDTO(*f))
}

// ListFarmers returns the warehouse's farmers.
func (h *Handler) ListFarmers(w http.ResponseWriter, r *http.Request) {
	farmers, err := h.Engine.ListFarmers(r.Context(), warehouseFrom(r))
	if err != nil {
		writeEngineError(w, "Failed to list farmers", err)
		return
	}
	dtos := make([]FarmerDTO, len(farmers))
	for i, f := range farmers {
		dtos[i] = toFarmerDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFarmer returns a single farmer.
func (h *Handler) GetFarmer(w http.ResponseWriter, r *http.Request) {
	f, err := h.Engine.GetFarmer(r.Context(), warehouseFrom(r), purchase.FarmerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get farmer", err)
		return
	}
	writeJSON(w, http.StatusOK, toFarmerDTO(*f))
}

// DeactivateFarmer soft-deletes a farmer.
func (h *Handler) DeactivateFarmer(w http.ResponseWriter, r *http.Request) {
	f, err := h.Engine.DeactivateFarmer(r.Context(), warehouseFrom(r), purchase.FarmerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to deactivate farmer", err)
		return
	}
	writeJSON(w, http.StatusOK, toFarmerDTO(*f))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction registers a transaction in `created`.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.Engine.Register(r.Context(), warehouseFrom(r), purchase.FarmerID(req.FarmerID), req.InitialPrice)
	if err != nil {
		writeEngineError(w, "Failed to register transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*t))
}

// ListTransactions returns the warehouse's transactions, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.Engine.ListTransactions(r.Context(), warehouseFrom(r))
	if err != nil {
		writeEngineError(w, "Failed to list transactions", err)
		return
	}

	status := purchase.TransactionStatus(r.URL.Query().Get("status"))
	dtos := make([]TransactionDTO, 0, len(txns))
	for _, t := range txns {
		if status != "" && t.Status != status {
			continue
		}
		dtos = append(dtos, toTransactionDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.GetTransaction(r.Context(), warehouseFrom(r), transactionID(r))
	if err != nil {
		writeEngineError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*t))
}

// StartRecording moves created → recording.
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.StartRecording(r.Context(), warehouseFrom(r), transactionID(r))
	if err != nil {
		writeEngineError(w, "Failed to start recording", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*t))
}

// CompleteRecording freezes totals and prices the harvest.
func (h *Handler) CompleteRecording(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.CompleteRecording(r.Context(), warehouseFrom(r), transactionID(r))
	if err != nil {
		writeEngineError(w, "Failed to complete recording", err)
		return
	}
	writeJSON(w, http.StatusOK, RecordingResultDTO{
		Transaction: toTransactionDTO(res.Transaction),
		Harvest:     toHarvestSummaryDTO(res.Harvest),
	})
}

// GetTransactionSummary returns the consolidated view.
func (h *Handler) GetTransactionSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Summaries.TransactionSummary(r.Context(), warehouseFrom(r), transactionID(r))
	if err != nil {
		writeEngineError(w, "Failed to get transaction summary", err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionSummaryDTO{
		Transaction:    toTransactionDTO(s.Transaction),
		FarmerCode:     s.FarmerCode,
		FarmerName:     s.FarmerName,
		HarvestSummary: toHarvestSummaryDTO(s.Harvest),
		PaymentSummary: toPaymentSummaryDTO(s.Payments),
	})
}

// =============================================================================
// HARVEST HANDLERS
// =============================================================================

// RecordObservation appends one graded observation.
func (h *Handler) RecordObservation(w http.ResponseWriter, r *http.Request) {
	var req ObservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.RecordObservation(r.Context(), warehouseFrom(r), transactionID(r), toObservation(req))
	if err != nil {
		writeEngineError(w, "Failed to record observation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHarvestRecordDTO(*rec))
}

// RecordObservations appends a batch all-or-nothing.
func (h *Handler) RecordObservations(w http.ResponseWriter, r *http.Request) {
	var req BatchObservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	obs := make([]purchase.Observation, len(req.Observations))
	for i, o := range req.Observations {
		obs[i] = toObservation(o)
	}

	records, err := h.Engine.RecordObservations(r.Context(), warehouseFrom(r), transactionID(r), obs)
	if err != nil {
		writeEngineError(w, "Failed to record observations", err)
		return
	}
	dtos := make([]HarvestRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toHarvestRecordDTO(rec)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// GetHarvest returns the harvest ledger and its summary.
func (h *Handler) GetHarvest(w http.ResponseWriter, r *http.Request) {
	v, err := h.Summaries.Harvest(r.Context(), warehouseFrom(r), transactionID(r))
	if err != nil {
		writeEngineError(w, "Failed to get harvest", err)
		return
	}
	dto := HarvestViewDTO{
		Records: make([]HarvestRecordDTO, len(v.Records)),
		Summary: toHarvestSummaryDTO(v.Summary),
	}
	for i, rec := range v.Records {
		dto.Records[i] = toHarvestRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dto)
}

func toObservation(o ObservationRequest) purchase.Observation {
	return purchase.Observation{
		Grade:      purchase.Grade(strings.ToUpper(strings.TrimSpace(o.Grade))),
		SackColor:  purchase.SackColor(o.SackColor),
		WeightKg:   o.WeightKg,
		Confidence: o.DetectionConfidence,
		DetectedBy: o.DetectedBy,
	}
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// SubmitPayment records a pending payment.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Engine.SubmitPayment(r.Context(), warehouseFrom(r), transactionID(r), purchase.PaymentInput{
		Amount: req.Amount,
		Method: req.PaymentMethod,
		Note:   req.Note,
		Type:   purchase.PaymentType(req.PaymentType),
	})
	if err != nil {
		writeEngineError(w, "Failed to submit payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// GetPaymentSummary reconciles a transaction's payments.
func (h *Handler) GetPaymentSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Summaries.PaymentSummary(r.Context(), warehouseFrom(r), transactionID(r))
	if err != nil {
		writeEngineError(w, "Failed to get payment summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentSummaryDTO(*s))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.GetPayment(r.Context(), warehouseFrom(r), purchase.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// ApprovePayment approves a pending payment.
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	h.decidePayment(w, r, purchase.Approve)
}

// RejectPayment rejects a pending payment.
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	h.decidePayment(w, r, purchase.Reject)
}

func (h *Handler) decidePayment(w http.ResponseWriter, r *http.Request, d purchase.Decision) {
	res, err := h.Engine.DecidePayment(r.Context(), warehouseFrom(r), purchase.PaymentID(chi.URLParam(r, "id")), d)
	if err != nil {
		verb := "approve"
		if d == purchase.Reject {
			verb = "reject"
		}
		writeEngineError(w, "Failed to "+verb+" payment", err)
		return
	}
	writeJSON(w, http.StatusOK, DecisionDTO{
		Payment:       toPaymentDTO(res.Payment),
		Transaction:   toTransactionDTO(res.Transaction),
		TotalApproved: toFloat(res.TotalApproved),
	})
}

// =============================================================================
// DASHBOARD / ADMIN HANDLERS
// =============================================================================

// GetWarehouseSummary returns the dashboard totals of the warehouse.
func (h *Handler) GetWarehouseSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Summaries.WarehouseSummary(r.Context(), warehouseFrom(r))
	if err != nil {
		writeEngineError(w, "Failed to get warehouse summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toWarehouseSummaryDTO(*s))
}

// RunReconciliation runs a reconciliation sweep now.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var (
		report *purchase.ReconcileReport
		err    error
	)
	if h.Scheduler != nil {
		report, err = h.Scheduler.RunNow(r.Context())
	} else {
		report, err = h.Engine.Reconcile(r.Context())
	}
	if err != nil {
		writeEngineError(w, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileReportDTO(*report))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func transactionID(r *http.Request) purchase.TransactionID {
	return purchase.TransactionID(chi.URLParam(r, "id"))
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", string(purchase.KindInvalidInput), err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, "Invalid request body", string(purchase.KindInvalidInput), err.Error())
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Namespace()] = fe.Tag()
		}
		writeError(w, http.StatusBadRequest, "Validation failed", string(purchase.KindInvalidInput), fields)
		return false
	}
	return true
}

// statusFor maps an engine error kind onto an HTTP status.
func statusFor(kind purchase.ErrorKind) int {
	switch kind {
	case purchase.KindNotFound:
		return http.StatusNotFound
	case purchase.KindInvalidInput, purchase.KindInvalidAmount:
		return http.StatusBadRequest
	case purchase.KindInvalidTransition, purchase.KindInvalidState, purchase.KindEmptyHarvest:
		return http.StatusConflict
	case purchase.KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, message string, err error) {
	kind := purchase.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s: %v", message, err)
		writeError(w, status, message, string(kind), nil)
		return
	}
	writeError(w, status, message, string(kind), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
