package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/dawaa-market/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PromotionStore defines the database methods needed by promotion handlers.
type PromotionStore interface {
	CreatePromotion(ctx context.Context, arg database.CreatePromotionParams) (database.Promotion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (database.Promotion, error)
	ListPromotions(ctx context.Context) ([]database.Promotion, error)
	UpdatePromotion(ctx context.Context, arg database.UpdatePromotionParams) (database.Promotion, error)
	DeletePromotion(ctx context.Context, id uuid.UUID) error
	ClearPromotionProducts(ctx context.Context, promotionID uuid.UUID) error
	AddPromotionProduct(ctx context.Context, arg database.AddPromotionProductParams) error
	ClearPromotionCategories(ctx context.Context, promotionID uuid.UUID) error
	AddPromotionCategory(ctx context.Context, arg database.AddPromotionCategoryParams) error
	ListPromotionProducts(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error)
	ListPromotionCategories(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error)
}

// CartPricer previews promotion discounts for a cart.
// Satisfied by *service.PromotionEngine.
type CartPricer interface {
	ApplyToCart(ctx context.Context, zone string, lines []service.CartLine) (*service.CartDiscount, error)
}

// PromotionHandler handles promotion admin and cart preview endpoints.
type PromotionHandler struct {
	store  PromotionStore
	engine CartPricer
}

// NewPromotionHandler creates a new PromotionHandler.
func NewPromotionHandler(store PromotionStore, engine CartPricer) *PromotionHandler {
	return &PromotionHandler{store: store, engine: engine}
}

// RegisterRoutes registers the read and preview endpoints.
func (h *PromotionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/apply-to-cart", h.ApplyToCart)
}

// RegisterAdminRoutes registers the write endpoints.
func (h *PromotionHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Put("/{id}/products", h.SetProducts)
	r.Put("/{id}/categories", h.SetCategories)
}

// --- Request / Response types ---

type promotionRequest struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Value       string   `json:"value"`
	MinPurchase *string  `json:"min_purchase"`
	MaxDiscount *string  `json:"max_discount"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Zones       []string `json:"zones"`
	IsActive    *bool    `json:"is_active"`
}

type promotionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Value       string    `json:"value"`
	MinPurchase *string   `json:"min_purchase"`
	MaxDiscount *string   `json:"max_discount"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Zones       []string  `json:"zones"`
	IsActive    bool      `json:"is_active"`

	ProductIDs  []uuid.UUID `json:"product_ids,omitempty"`
	CategoryIDs []uuid.UUID `json:"category_ids,omitempty"`
}

type setIDsRequest struct {
	IDs []string `json:"ids"`
}

type applyToCartRequest struct {
	Zone  string            `json:"zone"`
	Items []cartItemRequest `json:"items"`
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price"`
}

type applyToCartResponse struct {
	TotalDiscount string                     `json:"total_discount"`
	Applied       []appliedPromotionResponse `json:"applied"`
}

// --- Handlers ---

// Create handles POST /promotions.
func (h *PromotionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params, errMsg := validatePromotionRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	promotion, err := h.store.CreatePromotion(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: create promotion: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, dbPromotionToResponse(promotion))
}

// List handles GET /promotions.
func (h *PromotionHandler) List(w http.ResponseWriter, r *http.Request) {
	promotions, err := h.store.ListPromotions(r.Context())
	if err != nil {
		log.Printf("ERROR: list promotions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]promotionResponse, len(promotions))
	for i, p := range promotions {
		resp[i] = dbPromotionToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /promotions/{id}, including the restriction sets.
func (h *PromotionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid promotion ID"})
		return
	}

	promotion, err := h.store.GetPromotion(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "promotion not found"})
			return
		}
		log.Printf("ERROR: get promotion: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbPromotionToResponse(promotion)
	if resp.ProductIDs, err = h.store.ListPromotionProducts(r.Context(), id); err != nil {
		log.Printf("ERROR: list promotion products: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if resp.CategoryIDs, err = h.store.ListPromotionCategories(r.Context(), id); err != nil {
		log.Printf("ERROR: list promotion categories: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Update handles PUT /promotions/{id}.
func (h *PromotionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid promotion ID"})
		return
	}

	var req promotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params, errMsg := validatePromotionRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	promotion, err := h.store.UpdatePromotion(r.Context(), database.UpdatePromotionParams{
		ID:          id,
		Name:        params.Name,
		Type:        params.Type,
		Value:       params.Value,
		MinPurchase: params.MinPurchase,
		MaxDiscount: params.MaxDiscount,
		StartDate:   params.StartDate,
		EndDate:     params.EndDate,
		Zones:       params.Zones,
		IsActive:    params.IsActive,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "promotion not found"})
			return
		}
		log.Printf("ERROR: update promotion: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbPromotionToResponse(promotion))
}

// Delete handles DELETE /promotions/{id}.
func (h *PromotionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid promotion ID"})
		return
	}

	if err := h.store.DeletePromotion(r.Context(), id); err != nil {
		log.Printf("ERROR: delete promotion: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetProducts handles PUT /promotions/{id}/products, replacing the product
// restriction set.
func (h *PromotionHandler) SetProducts(w http.ResponseWriter, r *http.Request) {
	h.setRestrictions(w, r, h.store.ClearPromotionProducts, func(ctx context.Context, promotionID, id uuid.UUID) error {
		return h.store.AddPromotionProduct(ctx, database.AddPromotionProductParams{PromotionID: promotionID, ProductID: id})
	})
}

// SetCategories handles PUT /promotions/{id}/categories, replacing the
// category restriction set.
func (h *PromotionHandler) SetCategories(w http.ResponseWriter, r *http.Request) {
	h.setRestrictions(w, r, h.store.ClearPromotionCategories, func(ctx context.Context, promotionID, id uuid.UUID) error {
		return h.store.AddPromotionCategory(ctx, database.AddPromotionCategoryParams{PromotionID: promotionID, CategoryID: id})
	})
}

// ApplyToCart handles POST /promotions/apply-to-cart. It is a preview:
// nothing is persisted.
func (h *PromotionHandler) ApplyToCart(w http.ResponseWriter, r *http.Request) {
	var req applyToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	// An empty cart is fine; it prices to a zero discount.
	lines := make([]service.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
			return
		}
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
			return
		}
		lines = append(lines, service.CartLine{ProductID: productID, Quantity: item.Quantity, Price: price})
	}

	cart, err := h.engine.ApplyToCart(r.Context(), req.Zone, lines)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidZone),
			errors.Is(err, service.ErrInvalidQuantity),
			errors.Is(err, service.ErrInvalidPrice):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, service.ErrProductNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: apply promotions to cart: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := applyToCartResponse{
		TotalDiscount: cart.TotalDiscount.StringFixed(2),
		Applied:       make([]appliedPromotionResponse, 0, len(cart.Applied)),
	}
	for _, applied := range cart.Applied {
		resp.Applied = append(resp.Applied, appliedPromotionResponse{
			PromotionID: applied.PromotionID,
			Name:        applied.Name,
			Discount:    applied.Discount.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (h *PromotionHandler) setRestrictions(
	w http.ResponseWriter,
	r *http.Request,
	clear func(ctx context.Context, promotionID uuid.UUID) error,
	add func(ctx context.Context, promotionID, id uuid.UUID) error,
) {
	promotionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid promotion ID"})
		return
	}

	if _, err := h.store.GetPromotion(r.Context(), promotionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "promotion not found"})
			return
		}
		log.Printf("ERROR: get promotion: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	var req setIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ID: " + raw})
			return
		}
		ids = append(ids, id)
	}

	if err := clear(r.Context(), promotionID); err != nil {
		log.Printf("ERROR: clear promotion restrictions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	for _, id := range ids {
		if err := add(r.Context(), promotionID, id); err != nil {
			log.Printf("ERROR: add promotion restriction: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ids": ids})
}

func validatePromotionRequest(req promotionRequest) (database.CreatePromotionParams, string) {
	var params database.CreatePromotionParams
	if req.Name == "" {
		return params, "name is required"
	}
	if req.Type != enum.PromotionTypePercentage && req.Type != enum.PromotionTypeFixed {
		return params, "type must be PERCENTAGE or FIXED"
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil || !value.IsPositive() {
		return params, "value must be a positive number"
	}
	if req.Type == enum.PromotionTypePercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return params, "percentage value must not exceed 100"
	}

	startDate, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		return params, "invalid start_date"
	}
	endDate, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		return params, "invalid end_date"
	}
	if !startDate.Before(endDate) {
		return params, "start_date must be before end_date"
	}

	if len(req.Zones) == 0 {
		return params, "zones are required"
	}
	for _, zone := range req.Zones {
		if !enum.IsValidZone(zone) {
			return params, "invalid zone: " + zone
		}
	}

	params.Name = req.Name
	params.Type = req.Type
	params.Value = decimalToNumeric(value)
	params.StartDate = startDate
	params.EndDate = endDate
	params.Zones = req.Zones
	params.IsActive = true
	if req.IsActive != nil {
		params.IsActive = *req.IsActive
	}

	if req.MinPurchase != nil {
		min, err := decimal.NewFromString(*req.MinPurchase)
		if err != nil || min.IsNegative() {
			return params, "invalid min_purchase"
		}
		params.MinPurchase = decimalToNumeric(min)
	}
	if req.MaxDiscount != nil {
		max, err := decimal.NewFromString(*req.MaxDiscount)
		if err != nil || !max.IsPositive() {
			return params, "invalid max_discount"
		}
		params.MaxDiscount = decimalToNumeric(max)
	}
	return params, ""
}

func dbPromotionToResponse(p database.Promotion) promotionResponse {
	resp := promotionResponse{
		ID:        p.ID,
		Name:      p.Name,
		Type:      p.Type,
		Value:     numericToString(p.Value),
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		Zones:     p.Zones,
		IsActive:  p.IsActive,
	}
	if p.MinPurchase.Valid {
		s := numericToString(p.MinPurchase)
		resp.MinPurchase = &s
	}
	if p.MaxDiscount.Valid {
		s := numericToString(p.MaxDiscount)
		resp.MaxDiscount = &s
	}
	return resp
}
