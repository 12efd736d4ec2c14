package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Company struct {
	ID             uuid.UUID
	Name           string
	Zone           string
	CommissionRate pgtype.Numeric
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type User struct {
	ID             uuid.UUID
	CompanyID      pgtype.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
	Zones          []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Shop struct {
	ID        uuid.UUID
	Name      string
	Zone      string
	Address   pgtype.Text
	CreatedAt time.Time
}

type Category struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

type Product struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	CategoryID pgtype.UUID
	Name       string
	Price      pgtype.Numeric
	Stock      int32
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Order struct {
	ID             uuid.UUID
	ShopID         uuid.UUID
	CompanyID      uuid.UUID
	Zone           string
	Status         string
	PaymentMethod  string
	Subtotal       pgtype.Numeric
	DiscountAmount pgtype.Numeric
	DeliveryFee    pgtype.Numeric
	TotalAmount    pgtype.Numeric
	DeliveredAt    pgtype.Timestamptz
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int32
	UnitPrice pgtype.Numeric
	Subtotal  pgtype.Numeric
}

type Promotion struct {
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
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Settlement struct {
	ID              uuid.UUID
	CompanyID       uuid.UUID
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Status          string
	OrderCount      int32
	TotalRevenue    pgtype.Numeric
	TotalCommission pgtype.Numeric
	TotalPayout     pgtype.Numeric
	CashCollected   pgtype.Numeric
	CashToRemit     pgtype.Numeric
	VerifiedBy      pgtype.UUID
	VerifiedAt      pgtype.Timestamptz
	SettledAt       pgtype.Timestamptz
	DisputeReason   pgtype.Text
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CashCollection struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	Amount      pgtype.Numeric
	CollectedBy uuid.UUID
	CollectedAt time.Time
}
