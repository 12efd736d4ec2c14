package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Errors returned by the settlement service.
var (
	ErrInvalidPeriod        = errors.New("period_start must not be after period_end")
	ErrCompanyNotFound      = errors.New("company not found")
	ErrSettlementNotFound   = errors.New("settlement not found")
	ErrSettlementFinalized  = errors.New("settlement already verified or settled")
	ErrDuplicatePeriod      = errors.New("settlement already exists for this period")
	ErrInvalidTransition    = errors.New("invalid settlement status transition")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderNotDelivered    = errors.New("order is not delivered")
	ErrOrderNotCash         = errors.New("order is not a cash order")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrOrderFullyReconciled = errors.New("order cash is already fully reconciled")
	ErrOverCollection       = errors.New("collection exceeds remaining cash balance")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SettlementStore defines the DB methods needed for settlement runs and
// cash reconciliation. Satisfied by *database.Queries (and its tx variant).
type SettlementStore interface {
	GetCompany(ctx context.Context, id uuid.UUID) (database.Company, error)
	GetSettlementAggregates(ctx context.Context, arg database.GetSettlementAggregatesParams) (database.GetSettlementAggregatesRow, error)
	GetSettlementByPeriodForUpdate(ctx context.Context, arg database.GetSettlementByPeriodParams) (database.Settlement, error)
	CreateSettlement(ctx context.Context, arg database.CreateSettlementParams) (database.Settlement, error)
	UpdateSettlementTotals(ctx context.Context, arg database.UpdateSettlementTotalsParams) (database.Settlement, error)
	GetSettlement(ctx context.Context, id uuid.UUID) (database.Settlement, error)
	VerifySettlement(ctx context.Context, arg database.VerifySettlementParams) (database.Settlement, error)
	MarkSettlementSettled(ctx context.Context, id uuid.UUID) (database.Settlement, error)
	DisputeSettlement(ctx context.Context, arg database.DisputeSettlementParams) (database.Settlement, error)
	ListCashDeliveredOrders(ctx context.Context, arg database.ListDeliveredOrdersParams) ([]database.Order, error)
	SumCashCollectionsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	CreateCashCollection(ctx context.Context, arg database.CreateCashCollectionParams) (database.CashCollection, error)
}

// NewSettlementStore creates a SettlementStore from a DBTX (pool or tx).
type NewSettlementStore func(db database.DBTX) SettlementStore

// ComputeSettlementRequest is the validated input for a settlement run.
type ComputeSettlementRequest struct {
	CompanyID   uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// CashReconciliation is one order's expected-vs-collected cash position.
// Err is set when that order's lookup failed; the batch continues.
type CashReconciliation struct {
	OrderID     uuid.UUID
	Expected    decimal.Decimal
	Collected   decimal.Decimal
	Discrepancy decimal.Decimal
	Verified    bool
	Err         error
}

// MarkCashCollectedRequest records one collection event against an order.
type MarkCashCollectedRequest struct {
	OrderID     uuid.UUID
	Amount      decimal.Decimal
	CollectedBy uuid.UUID
}

// MarkCashCollectedResult is the recorded event plus the running totals.
type MarkCashCollectedResult struct {
	Collection database.CashCollection
	Expected   decimal.Decimal
	Collected  decimal.Decimal
}

// SettlementService owns settlement runs, the settlement state machine and
// cash reconciliation.
type SettlementService struct {
	store    SettlementStore
	pool     TxBeginner
	newStore NewSettlementStore
}

// NewSettlementService creates a new SettlementService.
func NewSettlementService(store SettlementStore, pool TxBeginner, newStore NewSettlementStore) *SettlementService {
	return &SettlementService{store: store, pool: pool, newStore: newStore}
}

// Compute aggregates a company's delivered orders over [start, end) into a
// settlement, inside one transaction. Re-running a PENDING period overwrites
// its totals; a finalized period is rejected. The unique constraint on
// (company_id, period_start, period_end) turns concurrent runs into
// ErrDuplicatePeriod.
func (s *SettlementService) Compute(ctx context.Context, req ComputeSettlementRequest) (*database.Settlement, error) {
	// Equal bounds are a valid empty window: [t, t) settles to zeros.
	if req.PeriodStart.After(req.PeriodEnd) {
		return nil, ErrInvalidPeriod
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	company, err := store.GetCompany(ctx, req.CompanyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("get company: %w", err)
	}

	var existing *database.Settlement
	found, err := store.GetSettlementByPeriodForUpdate(ctx, database.GetSettlementByPeriodParams{
		CompanyID:   req.CompanyID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	})
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get settlement for period: %w", err)
		}
	} else {
		if found.Status != enum.SettlementStatusPending {
			return nil, ErrSettlementFinalized
		}
		existing = &found
	}

	agg, err := store.GetSettlementAggregates(ctx, database.GetSettlementAggregatesParams{
		CompanyID:   req.CompanyID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate delivered orders: %w", err)
	}

	rate := numericToDecimal(company.CommissionRate)
	revenue := numericToDecimal(agg.TotalRevenue)
	commission := revenue.Mul(rate)
	payout := revenue.Sub(commission)
	if payout.IsNegative() {
		// Rate is validated to [0, 1) at company creation; this only
		// triggers on corrupted data. Keep payout = revenue - commission
		// non-negative per the settlement invariant.
		commission = revenue
		payout = decimal.Zero
	}

	// Cash sits with the vendor's couriers. Only the platform's cut on
	// cash orders moves back, so cash_to_remit is the commission share of
	// cash revenue, not the full cash amount.
	cashRevenue := numericToDecimal(agg.CashRevenue)
	cashToRemit := cashRevenue.Mul(rate)

	var settlement database.Settlement
	if existing != nil {
		settlement, err = store.UpdateSettlementTotals(ctx, database.UpdateSettlementTotalsParams{
			ID:              existing.ID,
			OrderCount:      int32(agg.OrderCount),
			TotalRevenue:    decimalToNumeric(revenue),
			TotalCommission: decimalToNumeric(commission),
			TotalPayout:     decimalToNumeric(payout),
			CashCollected:   agg.CashCollected,
			CashToRemit:     decimalToNumeric(cashToRemit),
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrSettlementFinalized
			}
			return nil, fmt.Errorf("update settlement totals: %w", err)
		}
	} else {
		settlement, err = store.CreateSettlement(ctx, database.CreateSettlementParams{
			CompanyID:       req.CompanyID,
			PeriodStart:     req.PeriodStart,
			PeriodEnd:       req.PeriodEnd,
			OrderCount:      int32(agg.OrderCount),
			TotalRevenue:    decimalToNumeric(revenue),
			TotalCommission: decimalToNumeric(commission),
			TotalPayout:     decimalToNumeric(payout),
			CashCollected:   agg.CashCollected,
			CashToRemit:     decimalToNumeric(cashToRemit),
		})
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDuplicatePeriod
			}
			return nil, fmt.Errorf("create settlement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &settlement, nil
}

// Verify moves PENDING -> VERIFIED.
func (s *SettlementService) Verify(ctx context.Context, id, verifiedBy uuid.UUID) (*database.Settlement, error) {
	if _, err := s.getForTransition(ctx, id, enum.SettlementStatusPending); err != nil {
		return nil, err
	}
	settlement, err := s.store.VerifySettlement(ctx, database.VerifySettlementParams{ID: id, VerifiedBy: verifiedBy})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("verify settlement: %w", err)
	}
	return &settlement, nil
}

// Settle moves VERIFIED -> SETTLED.
func (s *SettlementService) Settle(ctx context.Context, id uuid.UUID) (*database.Settlement, error) {
	if _, err := s.getForTransition(ctx, id, enum.SettlementStatusVerified); err != nil {
		return nil, err
	}
	settlement, err := s.store.MarkSettlementSettled(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("settle settlement: %w", err)
	}
	return &settlement, nil
}

// Dispute moves PENDING -> DISPUTED. DISPUTED is terminal: disputes need
// human adjudication, there is no automated transition out.
func (s *SettlementService) Dispute(ctx context.Context, id uuid.UUID, reason string) (*database.Settlement, error) {
	if _, err := s.getForTransition(ctx, id, enum.SettlementStatusPending); err != nil {
		return nil, err
	}
	settlement, err := s.store.DisputeSettlement(ctx, database.DisputeSettlementParams{
		ID:            id,
		DisputeReason: textOrNull(reason),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("dispute settlement: %w", err)
	}
	return &settlement, nil
}

func (s *SettlementService) getForTransition(ctx context.Context, id uuid.UUID, wantStatus string) (*database.Settlement, error) {
	settlement, err := s.store.GetSettlement(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	if settlement.Status != wantStatus {
		return nil, ErrInvalidTransition
	}
	return &settlement, nil
}

// ReconcileCash builds the expected-vs-collected cash position for every
// cash-paid delivered order in [start, end). One order's failure does not
// abort the batch; it is reported on its own row.
func (s *SettlementService) ReconcileCash(ctx context.Context, companyID uuid.UUID, start, end time.Time) ([]CashReconciliation, error) {
	if start.After(end) {
		return nil, ErrInvalidPeriod
	}
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("get company: %w", err)
	}

	orders, err := s.store.ListCashDeliveredOrders(ctx, database.ListDeliveredOrdersParams{
		CompanyID:   companyID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("list cash orders: %w", err)
	}

	results := make([]CashReconciliation, 0, len(orders))
	for _, order := range orders {
		expected := numericToDecimal(order.TotalAmount)
		rec := CashReconciliation{OrderID: order.ID, Expected: expected}

		sum, err := s.store.SumCashCollectionsByOrder(ctx, order.ID)
		if err != nil {
			rec.Err = fmt.Errorf("sum collections: %w", err)
			results = append(results, rec)
			continue
		}
		rec.Collected = numericToDecimal(sum)
		rec.Discrepancy = rec.Collected.Sub(expected)
		results = append(results, rec)
	}
	return results, nil
}

// MarkCashCollected appends a collection event to a delivered cash order.
// Partial collections are supported; the running total may never exceed the
// order total. The order row is locked for the duration of the check.
func (s *SettlementService) MarkCashCollected(ctx context.Context, req MarkCashCollectedRequest) (*MarkCashCollectedResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.Status != enum.OrderStatusDelivered {
		return nil, ErrOrderNotDelivered
	}
	if order.PaymentMethod != enum.PaymentMethodCash {
		return nil, ErrOrderNotCash
	}

	expected := numericToDecimal(order.TotalAmount)
	sum, err := store.SumCashCollectionsByOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("sum collections: %w", err)
	}
	collected := numericToDecimal(sum)

	if collected.GreaterThanOrEqual(expected) {
		return nil, ErrOrderFullyReconciled
	}
	if collected.Add(req.Amount).GreaterThan(expected) {
		return nil, ErrOverCollection
	}

	collection, err := store.CreateCashCollection(ctx, database.CreateCashCollectionParams{
		OrderID:     req.OrderID,
		Amount:      decimalToNumeric(req.Amount),
		CollectedBy: req.CollectedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create cash collection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &MarkCashCollectedResult{
		Collection: collection,
		Expected:   expected,
		Collected:  collected.Add(req.Amount),
	}, nil
}

// isUniqueViolation checks for pgconn error code 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
