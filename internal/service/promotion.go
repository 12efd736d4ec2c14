package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Errors returned by the promotion engine.
var (
	ErrInvalidZone     = errors.New("invalid zone")
	ErrInvalidQuantity = errors.New("quantity must be > 0")
	ErrInvalidPrice    = errors.New("price must be >= 0")
	ErrProductNotFound = errors.New("product not found")
)

// PromotionStore defines the DB methods needed by the discount engine.
// Satisfied by *database.Queries.
type PromotionStore interface {
	ListActivePromotionsForZone(ctx context.Context, arg database.ListActivePromotionsForZoneParams) ([]database.ListActivePromotionsForZoneRow, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
}

// CartLine is one line of a cart as submitted by the client.
type CartLine struct {
	ProductID uuid.UUID
	Quantity  int32
	Price     decimal.Decimal
}

// PricedLine is a cart line already resolved against the catalog.
type PricedLine struct {
	ProductID  uuid.UUID
	CategoryID uuid.UUID
	Subtotal   decimal.Decimal
}

// AppliedPromotion reports one promotion's aggregate contribution to a cart.
type AppliedPromotion struct {
	PromotionID uuid.UUID
	Name        string
	Discount    decimal.Decimal
}

// CartDiscount is the engine output for one cart.
type CartDiscount struct {
	TotalDiscount decimal.Decimal
	Applied       []AppliedPromotion
}

// PromotionEngine selects the best active promotion per cart line and
// computes the resulting discounts. Promotions never stack on a line.
type PromotionEngine struct {
	store PromotionStore
	now   func() time.Time
}

// NewPromotionEngine creates a new PromotionEngine.
func NewPromotionEngine(store PromotionStore) *PromotionEngine {
	return &PromotionEngine{store: store, now: time.Now}
}

// ApplyToCart resolves each line's category against the catalog, then
// evaluates active promotions for the zone.
func (e *PromotionEngine) ApplyToCart(ctx context.Context, zone string, lines []CartLine) (*CartDiscount, error) {
	if !enum.IsValidZone(zone) {
		return nil, ErrInvalidZone
	}

	priced := make([]PricedLine, 0, len(lines))
	products := make(map[uuid.UUID]database.Product)
	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		if line.Price.IsNegative() {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidPrice)
		}

		product, ok := products[line.ProductID]
		if !ok {
			var err error
			product, err = e.store.GetProduct(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, fmt.Errorf("items[%d]: %w", i, ErrProductNotFound)
				}
				return nil, fmt.Errorf("items[%d]: get product: %w", i, err)
			}
			products[line.ProductID] = product
		}

		categoryID := uuid.Nil
		if product.CategoryID.Valid {
			categoryID = uuid.UUID(product.CategoryID.Bytes)
		}
		priced = append(priced, PricedLine{
			ProductID:  line.ProductID,
			CategoryID: categoryID,
			Subtotal:   line.Price.Mul(decimal.NewFromInt32(line.Quantity)),
		})
	}

	return e.ApplyToPricedLines(ctx, zone, priced)
}

// ApplyToPricedLines evaluates active promotions against lines whose
// subtotals and categories are already known. Used by order creation,
// which prices lines from the catalog inside its own transaction.
func (e *PromotionEngine) ApplyToPricedLines(ctx context.Context, zone string, lines []PricedLine) (*CartDiscount, error) {
	promos, err := e.store.ListActivePromotionsForZone(ctx, database.ListActivePromotionsForZoneParams{
		Zone: zone,
		At:   e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("list active promotions: %w", err)
	}
	return Evaluate(promos, lines), nil
}

// Evaluate picks, per line, the single matching promotion with the largest
// discount and aggregates contributions per promotion. Greedy per line, not
// global-optimal; promotions do not stack on one item.
func Evaluate(promos []database.ListActivePromotionsForZoneRow, lines []PricedLine) *CartDiscount {
	// Stable selection regardless of query row order.
	sorted := make([]database.ListActivePromotionsForZoneRow, len(promos))
	copy(sorted, promos)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Promotion.ID.String() < sorted[j].Promotion.ID.String()
	})

	result := &CartDiscount{TotalDiscount: decimal.Zero}
	contributions := make(map[uuid.UUID]decimal.Decimal)
	names := make(map[uuid.UUID]string)
	var order []uuid.UUID

	for _, line := range lines {
		bestDiscount := decimal.Zero
		var bestID uuid.UUID
		var bestName string

		for _, row := range sorted {
			if !promotionMatchesLine(row, line) {
				continue
			}
			d := PromotionDiscount(row.Promotion, line.Subtotal)
			if d.GreaterThan(bestDiscount) {
				bestDiscount = d
				bestID = row.Promotion.ID
				bestName = row.Promotion.Name
			}
		}

		if bestDiscount.IsZero() {
			continue
		}
		result.TotalDiscount = result.TotalDiscount.Add(bestDiscount)
		if _, seen := contributions[bestID]; !seen {
			order = append(order, bestID)
			names[bestID] = bestName
		}
		contributions[bestID] = contributions[bestID].Add(bestDiscount)
	}

	for _, id := range order {
		result.Applied = append(result.Applied, AppliedPromotion{
			PromotionID: id,
			Name:        names[id],
			Discount:    contributions[id],
		})
	}
	return result
}

// promotionMatchesLine reports whether the promotion applies to the line's
// product. A promotion with no restriction set applies to every product.
func promotionMatchesLine(row database.ListActivePromotionsForZoneRow, line PricedLine) bool {
	if len(row.ProductIDs) == 0 && len(row.CategoryIDs) == 0 {
		return true
	}
	for _, id := range row.ProductIDs {
		if id == line.ProductID {
			return true
		}
	}
	if line.CategoryID != uuid.Nil {
		for _, id := range row.CategoryIDs {
			if id == line.CategoryID {
				return true
			}
		}
	}
	return false
}

// PromotionDiscount computes the effective discount of one promotion on a
// line subtotal. Zero below min_purchase; capped at max_discount when set;
// never exceeds the subtotal.
func PromotionDiscount(p database.Promotion, subtotal decimal.Decimal) decimal.Decimal {
	if p.MinPurchase.Valid {
		if subtotal.LessThan(numericToDecimal(p.MinPurchase)) {
			return decimal.Zero
		}
	}

	value := numericToDecimal(p.Value)
	var discount decimal.Decimal
	switch p.Type {
	case enum.PromotionTypePercentage:
		discount = subtotal.Mul(value).Div(decimal.NewFromInt(100))
	case enum.PromotionTypeFixed:
		discount = value
	default:
		return decimal.Zero
	}

	if p.MaxDiscount.Valid {
		if max := numericToDecimal(p.MaxDiscount); discount.GreaterThan(max) {
			discount = max
		}
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}
