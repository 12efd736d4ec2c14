package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CompanyStore defines the database methods needed by company handlers.
type CompanyStore interface {
	CreateCompany(ctx context.Context, arg database.CreateCompanyParams) (database.Company, error)
	GetCompany(ctx context.Context, id uuid.UUID) (database.Company, error)
	ListCompanies(ctx context.Context) ([]database.Company, error)
	UpdateCompany(ctx context.Context, arg database.UpdateCompanyParams) (database.Company, error)
}

// CompanyHandler handles vendor company endpoints.
type CompanyHandler struct {
	store CompanyStore
}

// NewCompanyHandler creates a new CompanyHandler.
func NewCompanyHandler(store CompanyStore) *CompanyHandler {
	return &CompanyHandler{store: store}
}

// RegisterAdminRoutes registers the collection endpoints, ADMIN only.
// The per-company Get/Update are wired inside the /companies/{cid} tree.
func (h *CompanyHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
}

// --- Request / Response types ---

type companyRequest struct {
	Name           string `json:"name"`
	Zone           string `json:"zone"`
	CommissionRate string `json:"commission_rate"`
	Active         *bool  `json:"active"`
}

type companyResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Zone           string    `json:"zone"`
	CommissionRate string    `json:"commission_rate"`
	Active         bool      `json:"active"`
}

// --- Handlers ---

// Create handles POST /companies.
func (h *CompanyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req companyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rate, errMsg := validateCompanyRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	company, err := h.store.CreateCompany(r.Context(), database.CreateCompanyParams{
		Name:           req.Name,
		Zone:           req.Zone,
		CommissionRate: decimalToNumeric(rate),
	})
	if err != nil {
		log.Printf("ERROR: create company: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, dbCompanyToResponse(company))
}

// List handles GET /companies.
func (h *CompanyHandler) List(w http.ResponseWriter, r *http.Request) {
	companies, err := h.store.ListCompanies(r.Context())
	if err != nil {
		log.Printf("ERROR: list companies: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]companyResponse, len(companies))
	for i, c := range companies {
		resp[i] = dbCompanyToResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /companies/{cid}.
func (h *CompanyHandler) Get(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return
	}

	company, err := h.store.GetCompany(r.Context(), companyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "company not found"})
			return
		}
		log.Printf("ERROR: get company: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbCompanyToResponse(company))
}

// Update handles PUT /companies/{cid}.
func (h *CompanyHandler) Update(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company ID"})
		return
	}

	var req companyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rate, errMsg := validateCompanyRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	company, err := h.store.UpdateCompany(r.Context(), database.UpdateCompanyParams{
		ID:             companyID,
		Name:           req.Name,
		Zone:           req.Zone,
		CommissionRate: decimalToNumeric(rate),
		Active:         active,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "company not found"})
			return
		}
		log.Printf("ERROR: update company: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbCompanyToResponse(company))
}

// --- Helpers ---

// validateCompanyRequest returns the parsed commission rate or an error
// message. The rate is a fraction: 0.1 means 10%. Rates at or above 1
// would make payouts negative and are rejected here.
func validateCompanyRequest(req companyRequest) (decimal.Decimal, string) {
	if req.Name == "" {
		return decimal.Zero, "name is required"
	}
	if !enum.IsValidZone(req.Zone) {
		return decimal.Zero, "invalid zone"
	}
	if req.CommissionRate == "" {
		return decimal.Zero, "commission_rate is required"
	}
	rate, err := decimal.NewFromString(req.CommissionRate)
	if err != nil {
		return decimal.Zero, "invalid commission_rate"
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, "commission_rate must be in [0, 1)"
	}
	return rate, ""
}

func dbCompanyToResponse(c database.Company) companyResponse {
	return companyResponse{
		ID:             c.ID,
		Name:           c.Name,
		Zone:           c.Zone,
		CommissionRate: numericToString(c.CommissionRate),
		Active:         c.Active,
	}
}
