package auth_test

import (
	"testing"

	"github.com/dawaa-market/api/internal/auth"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/google/uuid"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()
	companyID := uuid.New()
	role := enum.UserRoleCompanyManager
	zones := []string{enum.ZoneKarkh, enum.ZoneMansour}

	token, err := auth.GenerateToken(secret, userID, companyID, role, zones)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := auth.ValidateToken(secret, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("user ID: got %v, want %v", claims.UserID, userID)
	}
	if claims.CompanyID != companyID {
		t.Errorf("company ID: got %v, want %v", claims.CompanyID, companyID)
	}
	if claims.Role != role {
		t.Errorf("role: got %v, want %v", claims.Role, role)
	}
	if len(claims.Zones) != 2 || claims.Zones[0] != enum.ZoneKarkh {
		t.Errorf("zones: got %v, want %v", claims.Zones, zones)
	}
}

func TestValidateTokenWithWrongSecret(t *testing.T) {
	token, err := auth.GenerateToken("secret-a", uuid.New(), uuid.New(), enum.UserRolePharmacist, nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	_, err = auth.ValidateToken("secret-b", token)
	if err == nil {
		t.Fatal("expected error validating with wrong secret")
	}
}

func TestValidateTokenWithInvalidString(t *testing.T) {
	_, err := auth.ValidateToken("secret", "not-a-jwt")
	if err == nil {
		t.Fatal("expected error validating invalid token string")
	}
}

func TestGenerateAndValidateRefreshToken(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()

	token, err := auth.GenerateRefreshToken(secret, userID)
	if err != nil {
		t.Fatalf("generate refresh token: %v", err)
	}

	got, err := auth.ValidateRefreshToken(secret, token)
	if err != nil {
		t.Fatalf("validate refresh token: %v", err)
	}
	if got != userID {
		t.Errorf("user ID: got %v, want %v", got, userID)
	}
}

func TestValidateRefreshTokenRejectsAccessToken(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, uuid.New(), uuid.New(), enum.UserRoleAdmin, nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := auth.ValidateRefreshToken(secret, token); err == nil {
		t.Fatal("expected error validating access token as refresh token")
	}
}

func TestInZone(t *testing.T) {
	claims := &auth.Claims{
		Role:  enum.UserRolePharmacist,
		Zones: []string{enum.ZoneKarkh, enum.ZoneDora},
	}

	if !claims.InZone(enum.ZoneKarkh) {
		t.Error("expected KARKH to be in scope")
	}
	if claims.InZone(enum.ZoneRusafa) {
		t.Error("expected RUSAFA to be out of scope")
	}
}

func TestInZone_AdminSeesEveryZone(t *testing.T) {
	claims := &auth.Claims{Role: enum.UserRoleAdmin}

	for _, zone := range enum.Zones {
		if !claims.InZone(zone) {
			t.Errorf("expected ADMIN to be in zone %s", zone)
		}
	}
}
