package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, shop_id, company_id, zone, status, payment_method, subtotal,
	discount_amount, delivery_fee, total_amount, delivered_at, created_by, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ShopID, &o.CompanyID, &o.Zone, &o.Status, &o.PaymentMethod,
		&o.Subtotal, &o.DiscountAmount, &o.DeliveryFee, &o.TotalAmount, &o.DeliveredAt,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

type CreateOrderParams struct {
	ShopID         uuid.UUID
	CompanyID      uuid.UUID
	Zone           string
	PaymentMethod  string
	Subtotal       pgtype.Numeric
	DiscountAmount pgtype.Numeric
	DeliveryFee    pgtype.Numeric
	TotalAmount    pgtype.Numeric
	CreatedBy      uuid.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO orders (shop_id, company_id, zone, payment_method, subtotal,
			discount_amount, delivery_fee, total_amount, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+orderColumns,
		arg.ShopID, arg.CompanyID, arg.Zone, arg.PaymentMethod, arg.Subtotal,
		arg.DiscountAmount, arg.DeliveryFee, arg.TotalAmount, arg.CreatedBy)
	return scanOrder(row)
}

type CreateOrderItemParams struct {
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int32
	UnitPrice pgtype.Numeric
	Subtotal  pgtype.Numeric
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	var i OrderItem
	err := q.db.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, order_id, product_id, quantity, unit_price, subtotal`,
		arg.OrderID, arg.ProductID, arg.Quantity, arg.UnitPrice, arg.Subtotal).
		Scan(&i.ID, &i.OrderID, &i.ProductID, &i.Quantity, &i.UnitPrice, &i.Subtotal)
	return i, err
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetOrderForUpdate locks the order row to serialize concurrent writes
// (cash collections, status transitions).
func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR NO KEY UPDATE`, id)
	return scanOrder(row)
}

type ListOrdersParams struct {
	CompanyID pgtype.UUID
	ShopID    pgtype.UUID
	Status    pgtype.Text
	Limit     int32
	Offset    int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1::uuid IS NULL OR company_id = $1)
		  AND ($2::uuid IS NULL OR shop_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		arg.CompanyID, arg.ShopID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(&i.ID, &i.OrderID, &i.ProductID, &i.Quantity, &i.UnitPrice, &i.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

type UpdateOrderStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns,
		arg.ID, arg.Status)
	return scanOrder(row)
}

// MarkOrderDelivered freezes the order: status DELIVERED, delivered_at stamped.
func (q *Queries) MarkOrderDelivered(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET status = 'DELIVERED', delivered_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id)
	return scanOrder(row)
}

type ListDeliveredOrdersParams struct {
	CompanyID   uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
}

func (q *Queries) ListDeliveredOrders(ctx context.Context, arg ListDeliveredOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE company_id = $1 AND status = 'DELIVERED'
		  AND delivered_at >= $2 AND delivered_at < $3
		ORDER BY delivered_at`,
		arg.CompanyID, arg.PeriodStart, arg.PeriodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (q *Queries) ListCashDeliveredOrders(ctx context.Context, arg ListDeliveredOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE company_id = $1 AND status = 'DELIVERED' AND payment_method = 'CASH'
		  AND delivered_at >= $2 AND delivered_at < $3
		ORDER BY delivered_at`,
		arg.CompanyID, arg.PeriodStart, arg.PeriodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type CreateCashCollectionParams struct {
	OrderID     uuid.UUID
	Amount      pgtype.Numeric
	CollectedBy uuid.UUID
}

func (q *Queries) CreateCashCollection(ctx context.Context, arg CreateCashCollectionParams) (CashCollection, error) {
	var c CashCollection
	err := q.db.QueryRow(ctx, `
		INSERT INTO cash_collections (order_id, amount, collected_by)
		VALUES ($1, $2, $3)
		RETURNING id, order_id, amount, collected_by, collected_at`,
		arg.OrderID, arg.Amount, arg.CollectedBy).
		Scan(&c.ID, &c.OrderID, &c.Amount, &c.CollectedBy, &c.CollectedAt)
	return c, err
}

func (q *Queries) ListCashCollectionsByOrder(ctx context.Context, orderID uuid.UUID) ([]CashCollection, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, amount, collected_by, collected_at
		FROM cash_collections WHERE order_id = $1 ORDER BY collected_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []CashCollection
	for rows.Next() {
		var c CashCollection
		if err := rows.Scan(&c.ID, &c.OrderID, &c.Amount, &c.CollectedBy, &c.CollectedAt); err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

func (q *Queries) SumCashCollectionsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	var sum pgtype.Numeric
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM cash_collections WHERE order_id = $1`, orderID).
		Scan(&sum)
	return sum, err
}
