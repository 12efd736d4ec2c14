//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dawaa-market/api/internal/cache"
	"github.com/dawaa-market/api/internal/config"
	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/router"
	"github.com/dawaa-market/api/internal/ws"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

// TestIntegrationFlow exercises the full order-to-settlement lifecycle
// against a real PostgreSQL database with every handler wired through the
// router.
func TestIntegrationFlow(t *testing.T) {
	ctx := context.Background()

	pgContainer, connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	cfg := &config.Config{
		Port:        "8083",
		DatabaseURL: connStr,
		JWTSecret:   "integration-test-secret",
	}
	queries := database.New(pool)
	hub := ws.NewHub()
	// NOTE: hub.Run() goroutine leaks on test exit; Hub has no shutdown
	// mechanism. Acceptable for tests.
	go hub.Run()

	r := router.New(cfg, queries, pool, hub, cache.New(""))
	server := httptest.NewServer(r)
	defer server.Close()

	// --- 1. Bootstrap admin user (manual DB insert) ---
	adminID := createAdminUser(t, ctx, pool)

	// --- 2. Login as admin ---
	token := login(t, server, "admin@dawaa.market", "password123")

	// --- 3. Create company through the API ---
	companyResp := apiRequest(t, server, http.MethodPost, "/companies", token, map[string]interface{}{
		"name":            "Al-Rasheed Medical Supplies",
		"zone":            "KARKH",
		"commission_rate": "0.10",
	}, http.StatusCreated)
	companyID := uuid.MustParse(companyResp["id"].(string))

	// --- 4. Create a company manager ---
	managerResp := apiRequest(t, server, http.MethodPost, "/users", token, map[string]interface{}{
		"full_name":  "Zainab Al-Khafaji",
		"email":      "zainab@alrasheed.iq",
		"password":   "s3cret-pass",
		"role":       "COMPANY_MANAGER",
		"company_id": companyID.String(),
		"zones":      []string{"KARKH"},
	}, http.StatusCreated)
	managerID := uuid.MustParse(managerResp["id"].(string))

	// --- 5. Create category and product ---
	categoryResp := apiRequest(t, server, http.MethodPost, "/categories", token, map[string]interface{}{
		"name": "Analgesics",
	}, http.StatusCreated)
	categoryID := uuid.MustParse(categoryResp["id"].(string))

	productResp := apiRequest(t, server, http.MethodPost,
		"/companies/"+companyID.String()+"/products", token, map[string]interface{}{
			"name":        "Paracetamol 500mg",
			"price":       "2500.00",
			"stock":       100,
			"category_id": categoryID.String(),
		}, http.StatusCreated)
	productID := uuid.MustParse(productResp["id"].(string))

	// --- 6. Create shop (manual DB insert - no shop handler) ---
	shopID := createShop(t, ctx, pool)

	// --- 7. Create an active 10% promotion for KARKH ---
	now := time.Now().UTC()
	apiRequest(t, server, http.MethodPost, "/promotions", token, map[string]interface{}{
		"name":       "Ramadan Launch 10%",
		"type":       "PERCENTAGE",
		"value":      "10",
		"start_date": now.Add(-time.Hour).Format(time.RFC3339),
		"end_date":   now.Add(24 * time.Hour).Format(time.RFC3339),
		"zones":      []string{"KARKH"},
	}, http.StatusCreated)

	// --- 8. Preview the cart ---
	previewResp := apiRequest(t, server, http.MethodPost, "/promotions/apply-to-cart", token, map[string]interface{}{
		"zone": "KARKH",
		"items": []map[string]interface{}{
			{"product_id": productID.String(), "quantity": 4, "price": "2500.00"},
		},
	}, http.StatusOK)
	if previewResp["total_discount"].(string) != "1000.00" {
		t.Fatalf("cart preview discount: got %v, want 1000.00", previewResp["total_discount"])
	}

	// An empty cart previews to a zero discount.
	emptyPreview := apiRequest(t, server, http.MethodPost, "/promotions/apply-to-cart", token, map[string]interface{}{
		"zone":  "KARKH",
		"items": []map[string]interface{}{},
	}, http.StatusOK)
	if emptyPreview["total_discount"].(string) != "0.00" {
		t.Fatalf("empty cart discount: got %v, want 0.00", emptyPreview["total_discount"])
	}

	// --- 9. Create a cash order ---
	// Subtotal 4 x 2500 = 10000, promotion -1000, delivery fee 5000.
	orderResp := apiRequest(t, server, http.MethodPost, "/orders", token, map[string]interface{}{
		"shop_id":        shopID.String(),
		"payment_method": "CASH",
		"items": []map[string]interface{}{
			{"product_id": productID.String(), "quantity": 4},
		},
	}, http.StatusCreated)
	orderID := uuid.MustParse(orderResp["id"].(string))
	if orderResp["total_amount"].(string) != "14000.00" {
		t.Fatalf("order total_amount: got %v, want 14000.00", orderResp["total_amount"])
	}

	// Stock was decremented at checkout.
	productAfter := apiRequest(t, server, http.MethodGet,
		"/companies/"+companyID.String()+"/products/"+productID.String(), token, nil, http.StatusOK)
	if productAfter["stock"].(float64) != 96 {
		t.Fatalf("stock after order: got %v, want 96", productAfter["stock"])
	}

	// --- 10. Walk the order to DELIVERED ---
	for _, status := range []string{"CONFIRMED", "PROCESSING", "SHIPPED", "DELIVERED"} {
		apiRequest(t, server, http.MethodPut, "/orders/"+orderID.String()+"/status", token,
			map[string]string{"status": status}, http.StatusOK)
	}

	// --- 11. Record cash in two partial collections ---
	apiRequest(t, server, http.MethodPost, "/orders/"+orderID.String()+"/cash-collected", token,
		map[string]string{"amount": "4000"}, http.StatusCreated)
	collected := apiRequest(t, server, http.MethodPost, "/orders/"+orderID.String()+"/cash-collected", token,
		map[string]string{"amount": "10000"}, http.StatusCreated)
	if collected["collected"].(string) != "14000.00" {
		t.Fatalf("collected: got %v, want 14000.00", collected["collected"])
	}

	// A third collection must be rejected as fully reconciled.
	apiRequest(t, server, http.MethodPost, "/orders/"+orderID.String()+"/cash-collected", token,
		map[string]string{"amount": "1"}, http.StatusConflict)

	// Both collection events are listed against the order, oldest first.
	collectionRows := apiRequestList(t, server, http.MethodGet,
		"/orders/"+orderID.String()+"/cash-collections", token, nil, http.StatusOK)
	if len(collectionRows) != 2 ||
		collectionRows[0]["amount"].(string) != "4000.00" ||
		collectionRows[1]["amount"].(string) != "10000.00" {
		t.Fatalf("collection rows: %v, want 4000.00 then 10000.00", collectionRows)
	}

	// --- 12. Reconcile cash for the period ---
	period := map[string]string{
		"period_start": now.Add(-time.Hour).Format(time.RFC3339),
		"period_end":   now.Add(time.Hour).Format(time.RFC3339),
	}
	reconcileRows := apiRequestList(t, server, http.MethodPost,
		"/companies/"+companyID.String()+"/settlements/cash/reconcile", token, period, http.StatusOK)
	if len(reconcileRows) != 1 {
		t.Fatalf("reconciliation rows: %v, want one row", reconcileRows)
	}
	// Fully collected, so no discrepancy; verification stays a manual step.
	if reconcileRows[0]["discrepancy"].(string) != "0.00" || reconcileRows[0]["verified"].(bool) != false {
		t.Fatalf("reconciliation row: %v, want discrepancy 0.00 and verified false", reconcileRows[0])
	}

	// --- 13. Compute the settlement ---
	settlementResp := apiRequest(t, server, http.MethodPost,
		"/companies/"+companyID.String()+"/settlements", token, period, http.StatusCreated)
	settlementID := uuid.MustParse(settlementResp["id"].(string))
	if settlementResp["total_revenue"].(string) != "14000.00" {
		t.Fatalf("total_revenue: got %v, want 14000.00", settlementResp["total_revenue"])
	}
	if settlementResp["total_commission"].(string) != "1400.00" {
		t.Fatalf("total_commission: got %v, want 1400.00", settlementResp["total_commission"])
	}
	if settlementResp["total_payout"].(string) != "12600.00" {
		t.Fatalf("total_payout: got %v, want 12600.00", settlementResp["total_payout"])
	}
	if settlementResp["cash_to_remit"].(string) != "1400.00" {
		t.Fatalf("cash_to_remit: got %v, want 1400.00", settlementResp["cash_to_remit"])
	}

	// The settlement's order listing carries the delivered order.
	settlementOrders := apiRequestList(t, server, http.MethodGet,
		"/companies/"+companyID.String()+"/settlements/"+settlementID.String()+"/orders", token,
		nil, http.StatusOK)
	if len(settlementOrders) != 1 || settlementOrders[0]["id"].(string) != orderID.String() {
		t.Fatalf("settlement orders: %v, want the delivered order %s", settlementOrders, orderID)
	}

	// The summary counts settled periods only; nothing is settled yet.
	pendingSummary := apiRequest(t, server, http.MethodGet,
		"/companies/"+companyID.String()+"/settlements/summary", token, nil, http.StatusOK)
	if pendingSummary["settlement_count"].(float64) != 0 {
		t.Fatalf("summary before settling: count %v, want 0", pendingSummary["settlement_count"])
	}

	// --- 14. Verify then settle ---
	verified := apiRequest(t, server, http.MethodPost,
		"/companies/"+companyID.String()+"/settlements/"+settlementID.String()+"/verify", token,
		nil, http.StatusOK)
	if verified["status"].(string) != "VERIFIED" {
		t.Fatalf("status after verify: got %v, want VERIFIED", verified["status"])
	}
	settled := apiRequest(t, server, http.MethodPost,
		"/companies/"+companyID.String()+"/settlements/"+settlementID.String()+"/settle", token,
		nil, http.StatusOK)
	if settled["status"].(string) != "SETTLED" {
		t.Fatalf("status after settle: got %v, want SETTLED", settled["status"])
	}

	// Recomputing a settled period must be rejected.
	apiRequest(t, server, http.MethodPost,
		"/companies/"+companyID.String()+"/settlements", token, period, http.StatusConflict)

	// --- 15. Summary reflects the settled period ---
	summary := apiRequest(t, server, http.MethodGet,
		"/companies/"+companyID.String()+"/settlements/summary", token, nil, http.StatusOK)
	if summary["settlement_count"].(float64) != 1 {
		t.Fatalf("summary count: got %v, want 1", summary["settlement_count"])
	}
	if summary["total_revenue"].(string) != "14000.00" {
		t.Fatalf("summary revenue: got %v, want 14000.00", summary["total_revenue"])
	}

	// --- 16. Manager can log in and is pinned to their company ---
	managerToken := login(t, server, "zainab@alrasheed.iq", "s3cret-pass")
	apiRequest(t, server, http.MethodGet, "/orders/"+orderID.String(), managerToken, nil, http.StatusOK)

	t.Logf("Integration test passed: container=%s, admin=%s, company=%s, manager=%s, order=%s, settlement=%s",
		pgContainer.GetContainerID(), adminID, companyID, managerID, orderID, settlementID)
}

// --- Setup helpers ---

func setupPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("dawaa_test"),
		tcpostgres.WithUsername("dawaa"),
		tcpostgres.WithPassword("dawaa"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}

	return pgContainer, connStr, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	// Path relative to this package directory; go test sets cwd there.
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func createAdminUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	var id uuid.UUID
	err = pool.QueryRow(ctx,
		`INSERT INTO users (full_name, email, hashed_password, role)
		 VALUES ($1, $2, $3, 'ADMIN')
		 RETURNING id`,
		"Platform Admin", "admin@dawaa.market", string(hashedPassword),
	).Scan(&id)
	if err != nil {
		t.Fatalf("create admin user: %v", err)
	}
	return id
}

func createShop(t *testing.T, ctx context.Context, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := pool.QueryRow(ctx,
		`INSERT INTO shops (name, zone, address)
		 VALUES ($1, 'KARKH', $2)
		 RETURNING id`,
		"Saydaliyat Al-Mansour", "14 Ramadan St, Baghdad",
	).Scan(&id)
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}
	return id
}

// --- HTTP helpers ---

func login(t *testing.T, server *httptest.Server, email, password string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(server.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("login status: got %d, body: %s", resp.StatusCode, raw)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	token, _ := result["access_token"].(string)
	if token == "" {
		t.Fatal("login response missing access_token")
	}
	return token
}

func apiRequest(t *testing.T, server *httptest.Server, method, path, token string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()

	raw := doAPIRequest(t, server, method, path, token, body, wantStatus)
	if len(raw) == 0 {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("%s %s: decode response: %v (body: %s)", method, path, err, raw)
	}
	return result
}

func apiRequestList(t *testing.T, server *httptest.Server, method, path, token string, body interface{}, wantStatus int) []map[string]interface{} {
	t.Helper()

	raw := doAPIRequest(t, server, method, path, token, body, wantStatus)
	var result []map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("%s %s: decode response: %v (body: %s)", method, path, err, raw)
	}
	return result
}

func doAPIRequest(t *testing.T, server *httptest.Server, method, path, token string, body interface{}, wantStatus int) []byte {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status got %d, want %d (body: %s)", method, path, resp.StatusCode, wantStatus, raw)
	}
	return raw
}
