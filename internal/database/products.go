package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, company_id, category_id, name, price, stock, active, created_at, updated_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.CategoryID, &p.Name, &p.Price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

type CreateProductParams struct {
	CompanyID  uuid.UUID
	CategoryID pgtype.UUID
	Name       string
	Price      pgtype.Numeric
	Stock      int32
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO products (company_id, category_id, name, price, stock)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+productColumns,
		arg.CompanyID, arg.CategoryID, arg.Name, arg.Price, arg.Stock)
	return scanProduct(row)
}

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (q *Queries) ListProductsByCompany(ctx context.Context, companyID uuid.UUID) ([]Product, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+productColumns+` FROM products WHERE company_id = $1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type UpdateProductParams struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	CategoryID pgtype.UUID
	Name       string
	Price      pgtype.Numeric
	Stock      int32
	Active     bool
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products
		SET category_id = $3, name = $4, price = $5, stock = $6, active = $7, updated_at = now()
		WHERE id = $1 AND company_id = $2
		RETURNING `+productColumns,
		arg.ID, arg.CompanyID, arg.CategoryID, arg.Name, arg.Price, arg.Stock, arg.Active)
	return scanProduct(row)
}

type SetProductStockParams struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Stock     int32
}

func (q *Queries) SetProductStock(ctx context.Context, arg SetProductStockParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products SET stock = $3, updated_at = now()
		WHERE id = $1 AND company_id = $2
		RETURNING `+productColumns,
		arg.ID, arg.CompanyID, arg.Stock)
	return scanProduct(row)
}

type DecrementProductStockParams struct {
	ID       uuid.UUID
	Quantity int32
}

// DecrementProductStock fails with no rows when stock would go negative.
func (q *Queries) DecrementProductStock(ctx context.Context, arg DecrementProductStockParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING `+productColumns,
		arg.ID, arg.Quantity)
	return scanProduct(row)
}
