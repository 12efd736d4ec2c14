package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const promotionColumns = `id, name, type, value, min_purchase, max_discount,
	start_date, end_date, zones, is_active, created_at, updated_at`

func scanPromotion(row interface{ Scan(...interface{}) error }) (Promotion, error) {
	var p Promotion
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Value, &p.MinPurchase, &p.MaxDiscount,
		&p.StartDate, &p.EndDate, &p.Zones, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

type CreatePromotionParams struct {
	Name        string
	Type        string
	Value       pgtype.Numeric
	MinPurchase pgtype.Numeric
	MaxDiscount pgtype.Numeric
	StartDate   time.Time
	EndDate     time.Time
	Zones       []string
	IsActive    bool
}

func (q *Queries) CreatePromotion(ctx context.Context, arg CreatePromotionParams) (Promotion, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO promotions (name, type, value, min_purchase, max_discount,
			start_date, end_date, zones, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+promotionColumns,
		arg.Name, arg.Type, arg.Value, arg.MinPurchase, arg.MaxDiscount,
		arg.StartDate, arg.EndDate, arg.Zones, arg.IsActive)
	return scanPromotion(row)
}

func (q *Queries) GetPromotion(ctx context.Context, id uuid.UUID) (Promotion, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id)
	return scanPromotion(row)
}

func (q *Queries) ListPromotions(ctx context.Context) ([]Promotion, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+promotionColumns+` FROM promotions ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promotions []Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		promotions = append(promotions, p)
	}
	return promotions, rows.Err()
}

type UpdatePromotionParams struct {
	ID          uuid.UUID
	Name        string
	Type        string
	Value       pgtype.Numeric
	MinPurchase pgtype.Numeric
	MaxDiscount pgtype.Numeric
	StartDate   time.Time
	EndDate     time.Time
	Zones       []string
	IsActive    bool
}

func (q *Queries) UpdatePromotion(ctx context.Context, arg UpdatePromotionParams) (Promotion, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE promotions
		SET name = $2, type = $3, value = $4, min_purchase = $5, max_discount = $6,
			start_date = $7, end_date = $8, zones = $9, is_active = $10, updated_at = now()
		WHERE id = $1
		RETURNING `+promotionColumns,
		arg.ID, arg.Name, arg.Type, arg.Value, arg.MinPurchase, arg.MaxDiscount,
		arg.StartDate, arg.EndDate, arg.Zones, arg.IsActive)
	return scanPromotion(row)
}

func (q *Queries) DeletePromotion(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM promotions WHERE id = $1`, id)
	return err
}

func (q *Queries) ClearPromotionProducts(ctx context.Context, promotionID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM promotion_products WHERE promotion_id = $1`, promotionID)
	return err
}

type AddPromotionProductParams struct {
	PromotionID uuid.UUID
	ProductID   uuid.UUID
}

func (q *Queries) AddPromotionProduct(ctx context.Context, arg AddPromotionProductParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO promotion_products (promotion_id, product_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		arg.PromotionID, arg.ProductID)
	return err
}

func (q *Queries) ClearPromotionCategories(ctx context.Context, promotionID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM promotion_categories WHERE promotion_id = $1`, promotionID)
	return err
}

type AddPromotionCategoryParams struct {
	PromotionID uuid.UUID
	CategoryID  uuid.UUID
}

func (q *Queries) AddPromotionCategory(ctx context.Context, arg AddPromotionCategoryParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO promotion_categories (promotion_id, category_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		arg.PromotionID, arg.CategoryID)
	return err
}

func (q *Queries) ListPromotionProducts(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT product_id FROM promotion_products WHERE promotion_id = $1`, promotionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) ListPromotionCategories(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT category_id FROM promotion_categories WHERE promotion_id = $1`, promotionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type ListActivePromotionsForZoneParams struct {
	Zone string
	At   time.Time
}

type ListActivePromotionsForZoneRow struct {
	Promotion   Promotion
	ProductIDs  []uuid.UUID
	CategoryIDs []uuid.UUID
}

// ListActivePromotionsForZone returns promotions live at the given instant
// for the given zone, each with its product/category restriction sets.
// Empty sets mean the promotion applies to any product.
func (q *Queries) ListActivePromotionsForZone(ctx context.Context, arg ListActivePromotionsForZoneParams) ([]ListActivePromotionsForZoneRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT p.id, p.name, p.type, p.value, p.min_purchase, p.max_discount,
			p.start_date, p.end_date, p.zones, p.is_active, p.created_at, p.updated_at,
			COALESCE(array_agg(DISTINCT pp.product_id) FILTER (WHERE pp.product_id IS NOT NULL), '{}'),
			COALESCE(array_agg(DISTINCT pc.category_id) FILTER (WHERE pc.category_id IS NOT NULL), '{}')
		FROM promotions p
		LEFT JOIN promotion_products pp ON pp.promotion_id = p.id
		LEFT JOIN promotion_categories pc ON pc.promotion_id = p.id
		WHERE p.is_active
		  AND $2 >= p.start_date AND $2 < p.end_date
		  AND $1 = ANY(p.zones)
		GROUP BY p.id`,
		arg.Zone, arg.At)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ListActivePromotionsForZoneRow
	for rows.Next() {
		var r ListActivePromotionsForZoneRow
		p := &r.Promotion
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Value, &p.MinPurchase, &p.MaxDiscount,
			&p.StartDate, &p.EndDate, &p.Zones, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
			&r.ProductIDs, &r.CategoryIDs); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
