package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dawaa-market/api/internal/auth"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/dawaa-market/api/internal/middleware"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

func TestAuthMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	token, _ := auth.GenerateToken(testSecret, userID, companyID, enum.UserRoleCompanyManager, []string{enum.ZoneKarkh})

	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("expected claims in context")
		}
		if claims.UserID != userID {
			t.Errorf("user ID: got %v, want %v", claims.UserID, userID)
		}
		if claims.CompanyID != companyID {
			t.Errorf("company ID: got %v, want %v", claims.CompanyID, companyID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireCompany_MatchingCompany(t *testing.T) {
	companyID := uuid.New()
	token, _ := auth.GenerateToken(testSecret, uuid.New(), companyID, enum.UserRoleCompanyManager, []string{enum.ZoneKarkh})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := middleware.Authenticate(testSecret)(middleware.RequireCompany(inner))

	req := httptest.NewRequest("GET", "/companies/"+companyID.String()+"/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.SetPathValue("cid", companyID.String())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRequireCompany_MismatchedCompany(t *testing.T) {
	companyID := uuid.New()
	otherCompanyID := uuid.New()
	token, _ := auth.GenerateToken(testSecret, uuid.New(), companyID, enum.UserRoleCompanyManager, []string{enum.ZoneKarkh})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	handler := middleware.Authenticate(testSecret)(middleware.RequireCompany(inner))

	req := httptest.NewRequest("GET", "/companies/"+otherCompanyID.String()+"/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.SetPathValue("cid", otherCompanyID.String())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestRequireCompany_AdminBypassesCheck(t *testing.T) {
	otherCompanyID := uuid.New()
	token, _ := auth.GenerateToken(testSecret, uuid.New(), uuid.Nil, enum.UserRoleAdmin, nil)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := middleware.Authenticate(testSecret)(middleware.RequireCompany(inner))

	req := httptest.NewRequest("GET", "/companies/"+otherCompanyID.String()+"/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.SetPathValue("cid", otherCompanyID.String())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d (ADMIN should bypass company check)", rr.Code, http.StatusOK)
	}
}

func TestRequireRole(t *testing.T) {
	token, _ := auth.GenerateToken(testSecret, uuid.New(), uuid.New(), enum.UserRolePharmacist, []string{enum.ZoneKarkh})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// PHARMACIST trying to reach an admin-only endpoint
	handler := middleware.Authenticate(testSecret)(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleCompanyManager)(inner))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestRequireRole_AllowsListedRole(t *testing.T) {
	token, _ := auth.GenerateToken(testSecret, uuid.New(), uuid.New(), enum.UserRoleCompanyManager, []string{enum.ZoneKarkh})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := middleware.Authenticate(testSecret)(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleCompanyManager)(inner))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}
