package database

import (
	"context"

	"github.com/google/uuid"
)

func (q *Queries) CreateCategory(ctx context.Context, name string) (Category, error) {
	var c Category
	err := q.db.QueryRow(ctx, `
		INSERT INTO categories (name) VALUES ($1)
		RETURNING id, name, created_at`, name).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	return c, err
}

func (q *Queries) GetCategory(ctx context.Context, id uuid.UUID) (Category, error) {
	var c Category
	err := q.db.QueryRow(ctx, `
		SELECT id, name, created_at FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	return c, err
}

func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

type UpdateCategoryParams struct {
	ID   uuid.UUID
	Name string
}

func (q *Queries) UpdateCategory(ctx context.Context, arg UpdateCategoryParams) (Category, error) {
	var c Category
	err := q.db.QueryRow(ctx, `
		UPDATE categories SET name = $2 WHERE id = $1
		RETURNING id, name, created_at`, arg.ID, arg.Name).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	return c, err
}

func (q *Queries) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	return err
}
