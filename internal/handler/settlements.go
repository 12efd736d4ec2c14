package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dawaa-market/api/internal/cache"
	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/middleware"
	"github.com/dawaa-market/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SettlementStore defines the database read methods needed by settlement
// handlers. Writes go through the service.
type SettlementStore interface {
	GetSettlement(ctx context.Context, id uuid.UUID) (database.Settlement, error)
	ListSettlementsByCompany(ctx context.Context, companyID uuid.UUID) ([]database.Settlement, error)
	GetSettlementSummary(ctx context.Context, companyID uuid.UUID) (database.GetSettlementSummaryRow, error)
	ListDeliveredOrders(ctx context.Context, arg database.ListDeliveredOrdersParams) ([]database.Order, error)
}

// SettlementRunner owns settlement computation, the state machine and cash
// reconciliation. Satisfied by *service.SettlementService.
type SettlementRunner interface {
	Compute(ctx context.Context, req service.ComputeSettlementRequest) (*database.Settlement, error)
	Verify(ctx context.Context, id, verifiedBy uuid.UUID) (*database.Settlement, error)
	Settle(ctx context.Context, id uuid.UUID) (*database.Settlement, error)
	Dispute(ctx context.Context, id uuid.UUID, reason string) (*database.Settlement, error)
	ReconcileCash(ctx context.Context, companyID uuid.UUID, start, end time.Time) ([]service.CashReconciliation, error)
}

// SettlementHandler handles company-scoped settlement endpoints.
type SettlementHandler struct {
	store   SettlementStore
	runner  SettlementRunner
	summary *cache.Cache
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(store SettlementStore, runner SettlementRunner, summary *cache.Cache) *SettlementHandler {
	return &SettlementHandler{store: store, runner: runner, summary: summary}
}

// RegisterRoutes registers settlement endpoints. Expected to be mounted at
// /companies/{cid}/settlements behind RequireCompany.
func (h *SettlementHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Compute)
	r.Get("/", h.List)
	r.Get("/summary", h.Summary)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/orders", h.Orders)
	r.Post("/{id}/verify", h.Verify)
	r.Post("/{id}/settle", h.Settle)
	r.Post("/{id}/dispute", h.Dispute)
	r.Post("/cash/reconcile", h.ReconcileCash)
}

// --- Request / Response types ---

type periodRequest struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

type settlementResponse struct {
	ID              uuid.UUID  `json:"id"`
	CompanyID       uuid.UUID  `json:"company_id"`
	PeriodStart     time.Time  `json:"period_start"`
	PeriodEnd       time.Time  `json:"period_end"`
	Status          string     `json:"status"`
	OrderCount      int32      `json:"order_count"`
	TotalRevenue    string     `json:"total_revenue"`
	TotalCommission string     `json:"total_commission"`
	TotalPayout     string     `json:"total_payout"`
	CashCollected   string     `json:"cash_collected"`
	CashToRemit     string     `json:"cash_to_remit"`
	VerifiedBy      *uuid.UUID `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	DisputeReason   *string    `json:"dispute_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type settlementSummaryResponse struct {
	CompanyID       uuid.UUID `json:"company_id"`
	SettlementCount int64     `json:"settlement_count"`
	TotalRevenue    string    `json:"total_revenue"`
	TotalCommission string    `json:"total_commission"`
	TotalPayout     string    `json:"total_payout"`
	CashToRemit     string    `json:"cash_to_remit"`
}

type reconciliationResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	Expected    string    `json:"expected"`
	Collected   string    `json:"collected"`
	Discrepancy string    `json:"discrepancy"`
	Verified    bool      `json:"verified"`
	Error       string    `json:"error,omitempty"`
}

// --- Handlers ---

// Compute handles POST /companies/{cid}/settlements. Rerunning the same
// period recomputes the PENDING settlement in place.
func (h *SettlementHandler) Compute(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}

	start, end, ok := decodePeriod(w, r)
	if !ok {
		return
	}

	settlement, err := h.runner.Compute(r.Context(), service.ComputeSettlementRequest{
		CompanyID:   companyID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		h.respondSettlementError(w, err, "compute settlement")
		return
	}

	h.invalidateSummary(r.Context(), companyID)
	writeJSON(w, http.StatusCreated, dbSettlementToResponse(*settlement))
}

// List handles GET /companies/{cid}/settlements.
func (h *SettlementHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}

	settlements, err := h.store.ListSettlementsByCompany(r.Context(), companyID)
	if err != nil {
		log.Printf("ERROR: list settlements: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]settlementResponse, len(settlements))
	for i, s := range settlements {
		resp[i] = dbSettlementToResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /companies/{cid}/settlements/{id}.
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid settlement ID"})
		return
	}

	settlement, err := h.store.GetSettlement(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "settlement not found"})
			return
		}
		log.Printf("ERROR: get settlement: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if settlement.CompanyID != companyID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "settlement not found"})
		return
	}

	writeJSON(w, http.StatusOK, dbSettlementToResponse(settlement))
}

// Orders handles GET /companies/{cid}/settlements/{id}/orders, listing the
// delivered orders behind a settlement's totals.
func (h *SettlementHandler) Orders(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid settlement ID"})
		return
	}

	settlement, err := h.store.GetSettlement(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "settlement not found"})
			return
		}
		log.Printf("ERROR: get settlement: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if settlement.CompanyID != companyID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "settlement not found"})
		return
	}

	orders, err := h.store.ListDeliveredOrders(r.Context(), database.ListDeliveredOrdersParams{
		CompanyID:   companyID,
		PeriodStart: settlement.PeriodStart,
		PeriodEnd:   settlement.PeriodEnd,
	})
	if err != nil {
		log.Printf("ERROR: list settlement orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Summary handles GET /companies/{cid}/settlements/summary. Responses are
// cached for a few minutes; every settlement write invalidates the key.
func (h *SettlementHandler) Summary(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}

	key := fmt.Sprintf(cache.KeySettlementSummary, companyID)
	if cached, ok := h.summary.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(cached)) //nolint:errcheck
		return
	}

	row, err := h.store.GetSettlementSummary(r.Context(), companyID)
	if err != nil {
		log.Printf("ERROR: settlement summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := settlementSummaryResponse{
		CompanyID:       companyID,
		SettlementCount: row.SettlementCount,
		TotalRevenue:    numericToString(row.TotalRevenue),
		TotalCommission: numericToString(row.TotalCommission),
		TotalPayout:     numericToString(row.TotalPayout),
		CashToRemit:     numericToString(row.CashToRemit),
	}

	if data, err := json.Marshal(resp); err == nil {
		h.summary.Set(r.Context(), key, string(data), cache.TTLSettlementSummary)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Verify handles POST /companies/{cid}/settlements/{id}/verify.
func (h *SettlementHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "verify settlement", func(ctx context.Context, id uuid.UUID) (*database.Settlement, error) {
		claims := middleware.ClaimsFromContext(ctx)
		return h.runner.Verify(ctx, id, claims.UserID)
	})
}

// Settle handles POST /companies/{cid}/settlements/{id}/settle.
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "settle settlement", func(ctx context.Context, id uuid.UUID) (*database.Settlement, error) {
		return h.runner.Settle(ctx, id)
	})
}

// Dispute handles POST /companies/{cid}/settlements/{id}/dispute.
func (h *SettlementHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}

	h.transition(w, r, "dispute settlement", func(ctx context.Context, id uuid.UUID) (*database.Settlement, error) {
		return h.runner.Dispute(ctx, id, req.Reason)
	})
}

// ReconcileCash handles POST /companies/{cid}/settlements/cash/reconcile.
// It reports expected vs collected for every delivered cash order in the
// period; nothing is persisted.
func (h *SettlementHandler) ReconcileCash(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}

	start, end, ok := decodePeriod(w, r)
	if !ok {
		return
	}

	rows, err := h.runner.ReconcileCash(r.Context(), companyID, start, end)
	if err != nil {
		h.respondSettlementError(w, err, "reconcile cash")
		return
	}

	resp := make([]reconciliationResponse, len(rows))
	for i, row := range rows {
		resp[i] = reconciliationResponse{
			OrderID:     row.OrderID,
			Expected:    row.Expected.StringFixed(2),
			Collected:   row.Collected.StringFixed(2),
			Discrepancy: row.Discrepancy.StringFixed(2),
			Verified:    row.Verified,
		}
		if row.Err != nil {
			resp[i].Error = row.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (h *SettlementHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	apply func(ctx context.Context, id uuid.UUID) (*database.Settlement, error),
) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid settlement ID"})
		return
	}

	existing, err := h.store.GetSettlement(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "settlement not found"})
			return
		}
		log.Printf("ERROR: get settlement: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if existing.CompanyID != companyID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "settlement not found"})
		return
	}

	settlement, err := apply(r.Context(), id)
	if err != nil {
		h.respondSettlementError(w, err, op)
		return
	}

	h.invalidateSummary(r.Context(), companyID)
	writeJSON(w, http.StatusOK, dbSettlementToResponse(*settlement))
}

func (h *SettlementHandler) respondSettlementError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidPeriod):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "period_start must not be after period_end"})
	case errors.Is(err, service.ErrCompanyNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "company not found"})
	case errors.Is(err, service.ErrSettlementNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "settlement not found"})
	case errors.Is(err, service.ErrDuplicatePeriod):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a settlement already exists for this period"})
	case errors.Is(err, service.ErrSettlementFinalized):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "settlement is no longer pending"})
	case errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "invalid settlement transition"})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (h *SettlementHandler) invalidateSummary(ctx context.Context, companyID uuid.UUID) {
	h.summary.Delete(ctx, fmt.Sprintf(cache.KeySettlementSummary, companyID))
}

func companyIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return uuid.Nil, false
	}
	return companyID, true
}

func decodePeriod(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	var req periodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, req.PeriodStart)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid period_start"})
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, req.PeriodEnd)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid period_end"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func dbSettlementToResponse(s database.Settlement) settlementResponse {
	resp := settlementResponse{
		ID:              s.ID,
		CompanyID:       s.CompanyID,
		PeriodStart:     s.PeriodStart,
		PeriodEnd:       s.PeriodEnd,
		Status:          s.Status,
		OrderCount:      s.OrderCount,
		TotalRevenue:    numericToString(s.TotalRevenue),
		TotalCommission: numericToString(s.TotalCommission),
		TotalPayout:     numericToString(s.TotalPayout),
		CashCollected:   numericToString(s.CashCollected),
		CashToRemit:     numericToString(s.CashToRemit),
		CreatedAt:       s.CreatedAt,
	}
	if s.VerifiedBy.Valid {
		id := uuid.UUID(s.VerifiedBy.Bytes)
		resp.VerifiedBy = &id
	}
	if s.VerifiedAt.Valid {
		t := s.VerifiedAt.Time
		resp.VerifiedAt = &t
	}
	if s.SettledAt.Valid {
		t := s.SettledAt.Time
		resp.SettledAt = &t
	}
	if s.DisputeReason.Valid {
		reason := s.DisputeReason.String
		resp.DisputeReason = &reason
	}
	return resp
}
