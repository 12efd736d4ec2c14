package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/dawaa-market/api/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// ProductStore defines the database methods needed by product handlers.
type ProductStore interface {
	CreateProduct(ctx context.Context, arg database.CreateProductParams) (database.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	ListProductsByCompany(ctx context.Context, companyID uuid.UUID) ([]database.Product, error)
	UpdateProduct(ctx context.Context, arg database.UpdateProductParams) (database.Product, error)
	SetProductStock(ctx context.Context, arg database.SetProductStockParams) (database.Product, error)
}

// ProductHandler handles company-scoped product catalog endpoints.
type ProductHandler struct {
	store ProductStore
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(store ProductStore) *ProductHandler {
	return &ProductHandler{store: store}
}

// RegisterRoutes registers product endpoints. Expected to be mounted at
// /companies/{cid}/products behind RequireCompany.
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Put("/stock", h.BulkUpdateStock)
}

// --- Request / Response types ---

type productRequest struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Price      string `json:"price"`
	Stock      int32  `json:"stock"`
	Active     *bool  `json:"active"`
}

type productResponse struct {
	ID         uuid.UUID `json:"id"`
	CompanyID  uuid.UUID `json:"company_id"`
	CategoryID *string   `json:"category_id"`
	Name       string    `json:"name"`
	Price      string    `json:"price"`
	Stock      int32     `json:"stock"`
	Active     bool      `json:"active"`
}

type stockUpdateItem struct {
	ProductID string `json:"product_id"`
	Stock     int32  `json:"stock"`
}

type bulkStockRequest struct {
	Items []stockUpdateItem `json:"items"`
}

type stockUpdateResult struct {
	ProductID string `json:"product_id"`
	Stock     int32  `json:"stock,omitempty"`
	Error     string `json:"error,omitempty"`
}

// --- Handlers ---

// Create handles POST /companies/{cid}/products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	price, categoryID, errMsg := validateProductRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	product, err := h.store.CreateProduct(r.Context(), database.CreateProductParams{
		CompanyID:  companyID,
		CategoryID: categoryID,
		Name:       req.Name,
		Price:      decimalToNumeric(price),
		Stock:      req.Stock,
	})
	if err != nil {
		log.Printf("ERROR: create product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, dbProductToResponse(product))
}

// List handles GET /companies/{cid}/products.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return
	}

	products, err := h.store.ListProductsByCompany(r.Context(), companyID)
	if err != nil {
		log.Printf("ERROR: list products: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = dbProductToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /companies/{cid}/products/{id}.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}

	product, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if product.CompanyID != companyID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}

	writeJSON(w, http.StatusOK, dbProductToResponse(product))
}

// Update handles PUT /companies/{cid}/products/{id}.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	price, categoryID, errMsg := validateProductRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	product, err := h.store.UpdateProduct(r.Context(), database.UpdateProductParams{
		ID:         id,
		CompanyID:  companyID,
		CategoryID: categoryID,
		Name:       req.Name,
		Price:      decimalToNumeric(price),
		Stock:      req.Stock,
		Active:     active,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: update product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbProductToResponse(product))
}

// BulkUpdateStock handles PUT /companies/{cid}/products/stock. It applies
// each stock update independently and reports per-item outcomes, so a bad
// row does not fail the whole batch.
func (h *ProductHandler) BulkUpdateStock(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return
	}

	var req bulkStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items are required"})
		return
	}

	results := make([]stockUpdateResult, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			results = append(results, stockUpdateResult{ProductID: item.ProductID, Error: "invalid product ID"})
			continue
		}
		if item.Stock < 0 {
			results = append(results, stockUpdateResult{ProductID: item.ProductID, Error: "stock must not be negative"})
			continue
		}

		product, err := h.store.SetProductStock(r.Context(), database.SetProductStockParams{
			ID:        productID,
			CompanyID: companyID,
			Stock:     item.Stock,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				results = append(results, stockUpdateResult{ProductID: item.ProductID, Error: "product not found"})
				continue
			}
			log.Printf("ERROR: set product stock: %v", err)
			results = append(results, stockUpdateResult{ProductID: item.ProductID, Error: "internal server error"})
			continue
		}
		results = append(results, stockUpdateResult{ProductID: item.ProductID, Stock: product.Stock})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// --- Helpers ---

func validateProductRequest(req productRequest) (decimal.Decimal, pgtype.UUID, string) {
	var categoryID pgtype.UUID
	if req.Name == "" {
		return decimal.Zero, categoryID, "name is required"
	}
	if req.Stock < 0 {
		return decimal.Zero, categoryID, "stock must not be negative"
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		return decimal.Zero, categoryID, "invalid price"
	}
	if req.CategoryID != "" {
		id, err := uuid.Parse(req.CategoryID)
		if err != nil {
			return decimal.Zero, categoryID, "invalid category ID"
		}
		categoryID = pgtype.UUID{Bytes: id, Valid: true}
	}
	return price, categoryID, ""
}

func dbProductToResponse(p database.Product) productResponse {
	resp := productResponse{
		ID:        p.ID,
		CompanyID: p.CompanyID,
		Name:      p.Name,
		Price:     numericToString(p.Price),
		Stock:     p.Stock,
		Active:    p.Active,
	}
	if p.CategoryID.Valid {
		s := uuid.UUID(p.CategoryID.Bytes).String()
		resp.CategoryID = &s
	}
	return resp
}
