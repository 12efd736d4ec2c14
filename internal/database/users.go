package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, company_id, full_name, email, hashed_password, role, zones, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.CompanyID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role, &u.Zones, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

type CreateUserParams struct {
	CompanyID      pgtype.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
	Zones          []string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (company_id, full_name, email, hashed_password, role, zones)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		arg.CompanyID, arg.FullName, arg.Email, arg.HashedPassword, arg.Role, arg.Zones)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
