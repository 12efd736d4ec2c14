package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const settlementColumns = `id, company_id, period_start, period_end, status, order_count,
	total_revenue, total_commission, total_payout, cash_collected, cash_to_remit,
	verified_by, verified_at, settled_at, dispute_reason, created_at, updated_at`

func scanSettlement(row interface{ Scan(...interface{}) error }) (Settlement, error) {
	var s Settlement
	err := row.Scan(&s.ID, &s.CompanyID, &s.PeriodStart, &s.PeriodEnd, &s.Status, &s.OrderCount,
		&s.TotalRevenue, &s.TotalCommission, &s.TotalPayout, &s.CashCollected, &s.CashToRemit,
		&s.VerifiedBy, &s.VerifiedAt, &s.SettledAt, &s.DisputeReason, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

type GetSettlementAggregatesParams struct {
	CompanyID   uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
}

type GetSettlementAggregatesRow struct {
	OrderCount    int64
	TotalRevenue  pgtype.Numeric
	CashRevenue   pgtype.Numeric
	CashCollected pgtype.Numeric
}

// GetSettlementAggregates sums delivered orders for the company in
// [period_start, period_end). CashCollected counts only CASH orders that
// have at least one recorded collection.
func (q *Queries) GetSettlementAggregates(ctx context.Context, arg GetSettlementAggregatesParams) (GetSettlementAggregatesRow, error) {
	var r GetSettlementAggregatesRow
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_amount), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE payment_method = 'CASH'), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE payment_method = 'CASH'
				AND EXISTS (SELECT 1 FROM cash_collections cc WHERE cc.order_id = o.id)), 0)
		FROM orders o
		WHERE company_id = $1 AND status = 'DELIVERED'
		  AND delivered_at >= $2 AND delivered_at < $3`,
		arg.CompanyID, arg.PeriodStart, arg.PeriodEnd).
		Scan(&r.OrderCount, &r.TotalRevenue, &r.CashRevenue, &r.CashCollected)
	return r, err
}

type CreateSettlementParams struct {
	CompanyID       uuid.UUID
	PeriodStart     time.Time
	PeriodEnd       time.Time
	OrderCount      int32
	TotalRevenue    pgtype.Numeric
	TotalCommission pgtype.Numeric
	TotalPayout     pgtype.Numeric
	CashCollected   pgtype.Numeric
	CashToRemit     pgtype.Numeric
}

// CreateSettlement inserts a PENDING settlement. The unique constraint on
// (company_id, period_start, period_end) rejects concurrent double runs.
func (q *Queries) CreateSettlement(ctx context.Context, arg CreateSettlementParams) (Settlement, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO settlements (company_id, period_start, period_end, order_count,
			total_revenue, total_commission, total_payout, cash_collected, cash_to_remit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+settlementColumns,
		arg.CompanyID, arg.PeriodStart, arg.PeriodEnd, arg.OrderCount,
		arg.TotalRevenue, arg.TotalCommission, arg.TotalPayout, arg.CashCollected, arg.CashToRemit)
	return scanSettlement(row)
}

func (q *Queries) GetSettlement(ctx context.Context, id uuid.UUID) (Settlement, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
	return scanSettlement(row)
}

type GetSettlementByPeriodParams struct {
	CompanyID   uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// GetSettlementByPeriodForUpdate locks the settlement row for the period,
// serializing recompute against verify/settle/dispute.
func (q *Queries) GetSettlementByPeriodForUpdate(ctx context.Context, arg GetSettlementByPeriodParams) (Settlement, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+settlementColumns+` FROM settlements
		WHERE company_id = $1 AND period_start = $2 AND period_end = $3
		FOR NO KEY UPDATE`,
		arg.CompanyID, arg.PeriodStart, arg.PeriodEnd)
	return scanSettlement(row)
}

func (q *Queries) ListSettlementsByCompany(ctx context.Context, companyID uuid.UUID) ([]Settlement, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+settlementColumns+` FROM settlements
		WHERE company_id = $1 ORDER BY period_start DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}

type UpdateSettlementTotalsParams struct {
	ID              uuid.UUID
	OrderCount      int32
	TotalRevenue    pgtype.Numeric
	TotalCommission pgtype.Numeric
	TotalPayout     pgtype.Numeric
	CashCollected   pgtype.Numeric
	CashToRemit     pgtype.Numeric
}

// UpdateSettlementTotals overwrites a PENDING settlement's aggregates.
// Returns no rows once the settlement left PENDING.
func (q *Queries) UpdateSettlementTotals(ctx context.Context, arg UpdateSettlementTotalsParams) (Settlement, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE settlements
		SET order_count = $2, total_revenue = $3, total_commission = $4,
			total_payout = $5, cash_collected = $6, cash_to_remit = $7, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+settlementColumns,
		arg.ID, arg.OrderCount, arg.TotalRevenue, arg.TotalCommission,
		arg.TotalPayout, arg.CashCollected, arg.CashToRemit)
	return scanSettlement(row)
}

type VerifySettlementParams struct {
	ID         uuid.UUID
	VerifiedBy uuid.UUID
}

func (q *Queries) VerifySettlement(ctx context.Context, arg VerifySettlementParams) (Settlement, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE settlements
		SET status = 'VERIFIED', verified_by = $2, verified_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+settlementColumns,
		arg.ID, arg.VerifiedBy)
	return scanSettlement(row)
}

func (q *Queries) MarkSettlementSettled(ctx context.Context, id uuid.UUID) (Settlement, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE settlements
		SET status = 'SETTLED', settled_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'VERIFIED'
		RETURNING `+settlementColumns, id)
	return scanSettlement(row)
}

type DisputeSettlementParams struct {
	ID            uuid.UUID
	DisputeReason pgtype.Text
}

func (q *Queries) DisputeSettlement(ctx context.Context, arg DisputeSettlementParams) (Settlement, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE settlements
		SET status = 'DISPUTED', dispute_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+settlementColumns,
		arg.ID, arg.DisputeReason)
	return scanSettlement(row)
}

type GetSettlementSummaryRow struct {
	SettlementCount int64
	TotalRevenue    pgtype.Numeric
	TotalCommission pgtype.Numeric
	TotalPayout     pgtype.Numeric
	CashToRemit     pgtype.Numeric
}

// GetSettlementSummary aggregates a company's settled periods. Anything
// still in flight (PENDING, VERIFIED) or disputed is excluded.
func (q *Queries) GetSettlementSummary(ctx context.Context, companyID uuid.UUID) (GetSettlementSummaryRow, error) {
	var r GetSettlementSummaryRow
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_revenue), 0),
			COALESCE(SUM(total_commission), 0),
			COALESCE(SUM(total_payout), 0),
			COALESCE(SUM(cash_to_remit), 0)
		FROM settlements
		WHERE company_id = $1 AND status = 'SETTLED'`, companyID).
		Scan(&r.SettlementCount, &r.TotalRevenue, &r.TotalCommission, &r.TotalPayout, &r.CashToRemit)
	return r, err
}
