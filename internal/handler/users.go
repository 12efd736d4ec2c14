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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/crypto/bcrypt"
)

// UserStore defines the database methods needed by user admin handlers.
type UserStore interface {
	CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error)
	ListUsers(ctx context.Context) ([]database.User, error)
}

// UserHandler handles user administration endpoints, ADMIN only.
type UserHandler struct {
	store UserStore
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store UserStore) *UserHandler {
	return &UserHandler{store: store}
}

// RegisterRoutes registers user admin endpoints.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
}

type createUserRequest struct {
	CompanyID string   `json:"company_id"`
	FullName  string   `json:"full_name"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	Role      string   `json:"role"`
	Zones     []string `json:"zones"`
}

// Create handles POST /users. ADMIN users carry no company; everyone else
// must belong to one.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.FullName == "" || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "full_name and email are required"})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
		return
	}
	if req.Role != enum.UserRoleAdmin && req.Role != enum.UserRoleCompanyManager && req.Role != enum.UserRolePharmacist {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
		return
	}
	for _, zone := range req.Zones {
		if !enum.IsValidZone(zone) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid zone: " + zone})
			return
		}
	}

	var companyID pgtype.UUID
	if req.Role != enum.UserRoleAdmin {
		id, err := uuid.Parse(req.CompanyID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "company_id is required for non-admin users"})
			return
		}
		companyID = pgtype.UUID{Bytes: id, Valid: true}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("ERROR: hash password: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	user, err := h.store.CreateUser(r.Context(), database.CreateUserParams{
		CompanyID:      companyID,
		FullName:       req.FullName,
		Email:          req.Email,
		HashedPassword: string(hashed),
		Role:           req.Role,
		Zones:          req.Zones,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email is already registered"})
			return
		}
		log.Printf("ERROR: create user: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, dbUserToResponse(user))
}

// List handles GET /users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		log.Printf("ERROR: list users: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = dbUserToResponse(u)
	}
	writeJSON(w, http.StatusOK, resp)
}
