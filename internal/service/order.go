package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Errors returned by the order service.
var (
	ErrEmptyItems           = errors.New("items are required")
	ErrInvalidPaymentMethod = errors.New("invalid payment_method")
	ErrInvalidProductID     = errors.New("invalid product_id")
	ErrShopNotFound         = errors.New("shop not found")
	ErrProductInactive      = errors.New("product is not active")
	ErrMixedCompanies       = errors.New("all items must belong to one company")
	ErrInsufficientStock    = errors.New("insufficient stock")
)

// Flat city-wide courier fee in IQD. Per-zone pricing is a product decision
// that has not landed yet.
var defaultDeliveryFee = decimal.NewFromInt(5000)

// OrderStore defines the DB methods needed to create orders.
// Satisfied by *database.Queries (and its tx variant).
type OrderStore interface {
	GetShop(ctx context.Context, id uuid.UUID) (database.Shop, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	DecrementProductStock(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// PromotionApplier computes cart discounts for already-priced lines.
// Satisfied by *PromotionEngine.
type PromotionApplier interface {
	ApplyToPricedLines(ctx context.Context, zone string, lines []PricedLine) (*CartDiscount, error)
}

// CreateOrderRequest is the validated input for checkout.
type CreateOrderRequest struct {
	ShopID        uuid.UUID
	PaymentMethod string
	CreatedBy     uuid.UUID
	Items         []CreateOrderItemRequest
}

// CreateOrderItemRequest is a single line in the order.
type CreateOrderItemRequest struct {
	ProductID string
	Quantity  int32
}

// CreateOrderResult is the created order with its lines and any promotions
// that contributed to the discount.
type CreateOrderResult struct {
	Order   database.Order
	Items   []database.OrderItem
	Applied []AppliedPromotion
}

// OrderService handles checkout.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	promos   PromotionApplier
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, promos PromotionApplier) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, promos: promos}
}

type pricedItem struct {
	productID uuid.UUID
	quantity  int32
	unitPrice decimal.Decimal
	subtotal  decimal.Decimal
}

// CreateOrder prices the cart from the catalog, applies promotions, reserves
// stock and inserts the order atomically. Prices are snapshotted at checkout;
// financials are frozen once the order is DELIVERED.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if req.PaymentMethod != enum.PaymentMethodCash && req.PaymentMethod != enum.PaymentMethodOnline {
		return nil, ErrInvalidPaymentMethod
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	shop, err := store.GetShop(ctx, req.ShopID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("get shop: %w", err)
	}

	companyID := uuid.Nil
	subtotal := decimal.Zero
	items := make([]pricedItem, 0, len(req.Items))
	lines := make([]PricedLine, 0, len(req.Items))

	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidProductID)
		}

		product, err := store.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("items[%d]: %w", i, ErrProductNotFound)
			}
			return nil, fmt.Errorf("items[%d]: get product: %w", i, err)
		}
		if !product.Active {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrProductInactive)
		}
		if companyID == uuid.Nil {
			companyID = product.CompanyID
		} else if companyID != product.CompanyID {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrMixedCompanies)
		}

		if _, err := store.DecrementProductStock(ctx, database.DecrementProductStockParams{
			ID:       productID,
			Quantity: item.Quantity,
		}); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("items[%d]: %w", i, ErrInsufficientStock)
			}
			return nil, fmt.Errorf("items[%d]: reserve stock: %w", i, err)
		}

		unitPrice := numericToDecimal(product.Price)
		lineSubtotal := unitPrice.Mul(decimal.NewFromInt32(item.Quantity))
		subtotal = subtotal.Add(lineSubtotal)

		items = append(items, pricedItem{
			productID: productID,
			quantity:  item.Quantity,
			unitPrice: unitPrice,
			subtotal:  lineSubtotal,
		})

		categoryID := uuid.Nil
		if product.CategoryID.Valid {
			categoryID = uuid.UUID(product.CategoryID.Bytes)
		}
		lines = append(lines, PricedLine{
			ProductID:  productID,
			CategoryID: categoryID,
			Subtotal:   lineSubtotal,
		})
	}

	cart, err := s.promos.ApplyToPricedLines(ctx, shop.Zone, lines)
	if err != nil {
		return nil, fmt.Errorf("apply promotions: %w", err)
	}

	total := subtotal.Sub(cart.TotalDiscount).Add(defaultDeliveryFee)
	if total.IsNegative() {
		total = decimal.Zero
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		ShopID:         req.ShopID,
		CompanyID:      companyID,
		Zone:           shop.Zone,
		PaymentMethod:  req.PaymentMethod,
		Subtotal:       decimalToNumeric(subtotal),
		DiscountAmount: decimalToNumeric(cart.TotalDiscount),
		DeliveryFee:    decimalToNumeric(defaultDeliveryFee),
		TotalAmount:    decimalToNumeric(total),
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	result := &CreateOrderResult{Order: order, Applied: cart.Applied}
	for _, item := range items {
		created, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:   order.ID,
			ProductID: item.productID,
			Quantity:  item.quantity,
			UnitPrice: decimalToNumeric(item.unitPrice),
			Subtotal:  decimalToNumeric(item.subtotal),
		})
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		result.Items = append(result.Items, created)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}
