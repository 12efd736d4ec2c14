package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const companyColumns = `id, name, zone, commission_rate, active, created_at, updated_at`

func scanCompany(row interface{ Scan(...interface{}) error }) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.Zone, &c.CommissionRate, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

type CreateCompanyParams struct {
	Name           string
	Zone           string
	CommissionRate pgtype.Numeric
}

func (q *Queries) CreateCompany(ctx context.Context, arg CreateCompanyParams) (Company, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO companies (name, zone, commission_rate)
		VALUES ($1, $2, $3)
		RETURNING `+companyColumns,
		arg.Name, arg.Zone, arg.CommissionRate)
	return scanCompany(row)
}

func (q *Queries) GetCompany(ctx context.Context, id uuid.UUID) (Company, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	return scanCompany(row)
}

func (q *Queries) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+companyColumns+` FROM companies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

type UpdateCompanyParams struct {
	ID             uuid.UUID
	Name           string
	Zone           string
	CommissionRate pgtype.Numeric
	Active         bool
}

func (q *Queries) UpdateCompany(ctx context.Context, arg UpdateCompanyParams) (Company, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE companies
		SET name = $2, zone = $3, commission_rate = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+companyColumns,
		arg.ID, arg.Name, arg.Zone, arg.CommissionRate, arg.Active)
	return scanCompany(row)
}
