package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type CreateShopParams struct {
	Name    string
	Zone    string
	Address pgtype.Text
}

func (q *Queries) CreateShop(ctx context.Context, arg CreateShopParams) (Shop, error) {
	var s Shop
	err := q.db.QueryRow(ctx, `
		INSERT INTO shops (name, zone, address)
		VALUES ($1, $2, $3)
		RETURNING id, name, zone, address, created_at`,
		arg.Name, arg.Zone, arg.Address).
		Scan(&s.ID, &s.Name, &s.Zone, &s.Address, &s.CreatedAt)
	return s, err
}

func (q *Queries) GetShop(ctx context.Context, id uuid.UUID) (Shop, error) {
	var s Shop
	err := q.db.QueryRow(ctx, `
		SELECT id, name, zone, address, created_at FROM shops WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Zone, &s.Address, &s.CreatedAt)
	return s, err
}
