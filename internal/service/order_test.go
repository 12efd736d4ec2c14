package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr   error
	rollbackErr error
	committed   bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockOrderStore implements OrderStore with configurable behavior.
type mockOrderStore struct {
	getShopFn          func(ctx context.Context, id uuid.UUID) (database.Shop, error)
	getProductFn       func(ctx context.Context, id uuid.UUID) (database.Product, error)
	decrementStockFn   func(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error)
	createOrderFn      func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	createOrderItemFn  func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
}

func (m *mockOrderStore) GetShop(ctx context.Context, id uuid.UUID) (database.Shop, error) {
	return m.getShopFn(ctx, id)
}
func (m *mockOrderStore) GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error) {
	return m.getProductFn(ctx, id)
}
func (m *mockOrderStore) DecrementProductStock(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error) {
	return m.decrementStockFn(ctx, arg)
}
func (m *mockOrderStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	return m.createOrderFn(ctx, arg)
}
func (m *mockOrderStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	return m.createOrderItemFn(ctx, arg)
}

// mockPromotionApplier implements PromotionApplier.
type mockPromotionApplier struct {
	applyFn func(ctx context.Context, zone string, lines []PricedLine) (*CartDiscount, error)
}

func (m *mockPromotionApplier) ApplyToPricedLines(ctx context.Context, zone string, lines []PricedLine) (*CartDiscount, error) {
	if m.applyFn != nil {
		return m.applyFn(ctx, zone, lines)
	}
	return &CartDiscount{TotalDiscount: decimal.Zero}, nil
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

// newTestOrderService creates an OrderService with mocked dependencies.
func newTestOrderService(store *mockOrderStore, promos PromotionApplier) (*OrderService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) OrderStore { return store }
	if promos == nil {
		promos = &mockPromotionApplier{}
	}
	return NewOrderService(pool, newStore, promos), tx
}

// defaultOrderStore returns a mockOrderStore for a shop in KARKH and one
// active product priced 2500.00. Tests override the functions they care about.
func defaultOrderStore(shopID, companyID, productID uuid.UUID) *mockOrderStore {
	return &mockOrderStore{
		getShopFn: func(ctx context.Context, id uuid.UUID) (database.Shop, error) {
			if id == shopID {
				return database.Shop{ID: shopID, Name: "Saydaliyat Al-Mansour", Zone: enum.ZoneKarkh}, nil
			}
			return database.Shop{}, pgx.ErrNoRows
		},
		getProductFn: func(ctx context.Context, id uuid.UUID) (database.Product, error) {
			if id == productID {
				return database.Product{
					ID:        productID,
					CompanyID: companyID,
					Name:      "Paracetamol 500mg",
					Price:     makeNumeric("2500.00"),
					Stock:     100,
					Active:    true,
				}, nil
			}
			return database.Product{}, pgx.ErrNoRows
		},
		decrementStockFn: func(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error) {
			return database.Product{ID: arg.ID, Stock: 100 - arg.Quantity}, nil
		},
		createOrderFn: func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
			return database.Order{
				ID:             uuid.New(),
				ShopID:         arg.ShopID,
				CompanyID:      arg.CompanyID,
				Zone:           arg.Zone,
				Status:         enum.OrderStatusPending,
				PaymentMethod:  arg.PaymentMethod,
				Subtotal:       arg.Subtotal,
				DiscountAmount: arg.DiscountAmount,
				DeliveryFee:    arg.DeliveryFee,
				TotalAmount:    arg.TotalAmount,
				CreatedBy:      arg.CreatedBy,
			}, nil
		},
		createOrderItemFn: func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
			return database.OrderItem{
				ID:        uuid.New(),
				OrderID:   arg.OrderID,
				ProductID: arg.ProductID,
				Quantity:  arg.Quantity,
				UnitPrice: arg.UnitPrice,
				Subtotal:  arg.Subtotal,
			}, nil
		},
	}
}

func basicOrderReq(shopID uuid.UUID, productID string) CreateOrderRequest {
	return CreateOrderRequest{
		ShopID:        shopID,
		CreatedBy:     uuid.New(),
		PaymentMethod: enum.PaymentMethodCash,
		Items: []CreateOrderItemRequest{
			{ProductID: productID, Quantity: 2},
		},
	}
}

// =====================
// Validation tests
// =====================

func TestCreateOrder_EmptyItems(t *testing.T) {
	store := defaultOrderStore(uuid.New(), uuid.New(), uuid.New())
	svc, _ := newTestOrderService(store, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		ShopID:        uuid.New(),
		CreatedBy:     uuid.New(),
		PaymentMethod: enum.PaymentMethodCash,
		Items:         nil,
	})
	if !errors.Is(err, ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got: %v", err)
	}
}

func TestCreateOrder_InvalidPaymentMethod(t *testing.T) {
	store := defaultOrderStore(uuid.New(), uuid.New(), uuid.New())
	svc, _ := newTestOrderService(store, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		ShopID:        uuid.New(),
		CreatedBy:     uuid.New(),
		PaymentMethod: "CHEQUE",
		Items: []CreateOrderItemRequest{
			{ProductID: uuid.New().String(), Quantity: 1},
		},
	})
	if !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got: %v", err)
	}
}

func TestCreateOrder_ZeroQuantity(t *testing.T) {
	shopID := uuid.New()
	productID := uuid.New()
	store := defaultOrderStore(shopID, uuid.New(), productID)
	svc, _ := newTestOrderService(store, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		ShopID:        shopID,
		CreatedBy:     uuid.New(),
		PaymentMethod: enum.PaymentMethodCash,
		Items: []CreateOrderItemRequest{
			{ProductID: productID.String(), Quantity: 0},
		},
	})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got: %v", err)
	}
}

func TestCreateOrder_MalformedProductID(t *testing.T) {
	shopID := uuid.New()
	store := defaultOrderStore(shopID, uuid.New(), uuid.New())
	svc, _ := newTestOrderService(store, nil)

	req := basicOrderReq(shopID, "not-a-uuid")
	_, err := svc.CreateOrder(context.Background(), req)
	if !errors.Is(err, ErrInvalidProductID) {
		t.Fatalf("expected ErrInvalidProductID, got: %v", err)
	}
}

func TestCreateOrder_ShopNotFound(t *testing.T) {
	store := defaultOrderStore(uuid.New(), uuid.New(), uuid.New())
	svc, _ := newTestOrderService(store, nil)

	req := basicOrderReq(uuid.New(), uuid.New().String()) // unknown shop
	_, err := svc.CreateOrder(context.Background(), req)
	if !errors.Is(err, ErrShopNotFound) {
		t.Fatalf("expected ErrShopNotFound, got: %v", err)
	}
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	shopID := uuid.New()
	store := defaultOrderStore(shopID, uuid.New(), uuid.New())
	svc, _ := newTestOrderService(store, nil)

	req := basicOrderReq(shopID, uuid.New().String()) // store knows a different product
	_, err := svc.CreateOrder(context.Background(), req)
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got: %v", err)
	}
}

func TestCreateOrder_InactiveProduct(t *testing.T) {
	shopID := uuid.New()
	productID := uuid.New()
	store := defaultOrderStore(shopID, uuid.New(), productID)
	store.getProductFn = func(ctx context.Context, id uuid.UUID) (database.Product, error) {
		return database.Product{ID: productID, CompanyID: uuid.New(), Price: makeNumeric("1000.00"), Active: false}, nil
	}
	svc, _ := newTestOrderService(store, nil)

	_, err := svc.CreateOrder(context.Background(), basicOrderReq(shopID, productID.String()))
	if !errors.Is(err, ErrProductInactive) {
		t.Fatalf("expected ErrProductInactive, got: %v", err)
	}
}

func TestCreateOrder_MixedCompanies(t *testing.T) {
	shopID := uuid.New()
	productA := uuid.New()
	productB := uuid.New()
	store := defaultOrderStore(shopID, uuid.New(), productA)
	store.getProductFn = func(ctx context.Context, id uuid.UUID) (database.Product, error) {
		// Each product belongs to its own company.
		return database.Product{ID: id, CompanyID: uuid.New(), Price: makeNumeric("1000.00"), Active: true}, nil
	}
	svc, _ := newTestOrderService(store, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		ShopID:        shopID,
		CreatedBy:     uuid.New(),
		PaymentMethod: enum.PaymentMethodCash,
		Items: []CreateOrderItemRequest{
			{ProductID: productA.String(), Quantity: 1},
			{ProductID: productB.String(), Quantity: 1},
		},
	})
	if !errors.Is(err, ErrMixedCompanies) {
		t.Fatalf("expected ErrMixedCompanies, got: %v", err)
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	shopID := uuid.New()
	productID := uuid.New()
	store := defaultOrderStore(shopID, uuid.New(), productID)
	store.decrementStockFn = func(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error) {
		return database.Product{}, pgx.ErrNoRows
	}
	svc, _ := newTestOrderService(store, nil)

	_, err := svc.CreateOrder(context.Background(), basicOrderReq(shopID, productID.String()))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}
}

// =====================
// Pricing tests
// =====================

func TestCreateOrder_Totals(t *testing.T) {
	shopID := uuid.New()
	companyID := uuid.New()
	productID := uuid.New()
	store := defaultOrderStore(shopID, companyID, productID)

	var captured database.CreateOrderParams
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		captured = arg
		return database.Order{ID: uuid.New(), CompanyID: arg.CompanyID, TotalAmount: arg.TotalAmount}, nil
	}

	svc, tx := newTestOrderService(store, nil)
	result, err := svc.CreateOrder(context.Background(), basicOrderReq(shopID, productID.String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected tx commit")
	}

	// 2 x 2500.00 = 5000.00 subtotal, no discount, 5000 delivery fee.
	if !numericEquals(captured.Subtotal, "5000.00") {
		t.Errorf("subtotal = %v, want 5000.00", numericToDecimal(captured.Subtotal))
	}
	if !numericEquals(captured.DiscountAmount, "0.00") {
		t.Errorf("discount = %v, want 0.00", numericToDecimal(captured.DiscountAmount))
	}
	if !numericEquals(captured.TotalAmount, "10000.00") {
		t.Errorf("total = %v, want 10000.00", numericToDecimal(captured.TotalAmount))
	}
	if captured.CompanyID != companyID {
		t.Errorf("company = %v, want %v", captured.CompanyID, companyID)
	}
	if captured.Zone != enum.ZoneKarkh {
		t.Errorf("zone = %q, want %q", captured.Zone, enum.ZoneKarkh)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}
	if !numericEquals(result.Items[0].UnitPrice, "2500.00") {
		t.Errorf("unit price = %v, want 2500.00", numericToDecimal(result.Items[0].UnitPrice))
	}
}

func TestCreateOrder_AppliesPromotionDiscount(t *testing.T) {
	shopID := uuid.New()
	companyID := uuid.New()
	productID := uuid.New()
	promoID := uuid.New()
	store := defaultOrderStore(shopID, companyID, productID)

	var captured database.CreateOrderParams
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		captured = arg
		return database.Order{ID: uuid.New()}, nil
	}

	var gotZone string
	var gotLines []PricedLine
	promos := &mockPromotionApplier{
		applyFn: func(ctx context.Context, zone string, lines []PricedLine) (*CartDiscount, error) {
			gotZone = zone
			gotLines = lines
			return &CartDiscount{
				TotalDiscount: decimal.NewFromInt(500),
				Applied: []AppliedPromotion{
					{PromotionID: promoID, Name: "Ramadan Launch 10%", Discount: decimal.NewFromInt(500)},
				},
			}, nil
		},
	}

	svc, _ := newTestOrderService(store, promos)
	result, err := svc.CreateOrder(context.Background(), basicOrderReq(shopID, productID.String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotZone != enum.ZoneKarkh {
		t.Errorf("engine zone = %q, want %q", gotZone, enum.ZoneKarkh)
	}
	if len(gotLines) != 1 || !gotLines[0].Subtotal.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("engine lines = %+v, want one line with subtotal 5000", gotLines)
	}
	if !numericEquals(captured.DiscountAmount, "500.00") {
		t.Errorf("discount = %v, want 500.00", numericToDecimal(captured.DiscountAmount))
	}
	// 5000 - 500 + 5000 delivery.
	if !numericEquals(captured.TotalAmount, "9500.00") {
		t.Errorf("total = %v, want 9500.00", numericToDecimal(captured.TotalAmount))
	}
	if len(result.Applied) != 1 || result.Applied[0].PromotionID != promoID {
		t.Errorf("applied promotions = %+v, want %v", result.Applied, promoID)
	}
}

func TestCreateOrder_BeginError(t *testing.T) {
	store := defaultOrderStore(uuid.New(), uuid.New(), uuid.New())
	pool := &mockTxBeginner{err: errors.New("pool exhausted")}
	svc := NewOrderService(pool, func(db database.DBTX) OrderStore { return store }, &mockPromotionApplier{})

	_, err := svc.CreateOrder(context.Background(), basicOrderReq(uuid.New(), uuid.New().String()))
	if err == nil {
		t.Fatal("expected error from Begin")
	}
}

func TestCreateOrder_CommitError(t *testing.T) {
	shopID := uuid.New()
	productID := uuid.New()
	store := defaultOrderStore(shopID, uuid.New(), productID)
	svc, tx := newTestOrderService(store, nil)
	tx.commitErr = errors.New("connection reset")

	_, err := svc.CreateOrder(context.Background(), basicOrderReq(shopID, productID.String()))
	if err == nil {
		t.Fatal("expected error from Commit")
	}
}
